package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Format describes the PCM produced by a Device.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is 16 kHz mono 16-bit PCM, what speech endpoints expect.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// BytesPerSecond is the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// frameSize is the byte length of one sample across all channels.
func (f Format) frameSize() int {
	if n := f.Channels * f.BitsPerSample / 8; n > 0 {
		return n
	}
	return 1
}

const wavHeaderSize = 44

// EncodeWAV wraps little-endian PCM in a canonical RIFF/WAVE header.
func EncodeWAV(f Format, pcm []byte) []byte {
	blockAlign := f.frameSize()

	var b bytes.Buffer
	b.Grow(wavHeaderSize + len(pcm))
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&b, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(f.BytesPerSecond()))
	binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(f.BitsPerSample))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

// DecodeWAV returns the format and PCM payload of a canonical WAV produced by
// EncodeWAV.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("not a WAV file")
	}
	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if wavHeaderSize+size > len(data) {
		return Format{}, nil, errors.New("truncated WAV data")
	}
	return f, data[wavHeaderSize : wavHeaderSize+size], nil
}
