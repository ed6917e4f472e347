// Package transcribe turns recorded audio segments into transcript entries
// using an OpenAI-compatible speech-to-text endpoint, optionally chaining the
// text through a chat model for translation.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jwulff/whisperweb/internal/settings"
	"github.com/sashabaranov/go-openai"
)

const (
	// AudioFilename is the multipart filename sent with every segment.
	AudioFilename = "audio.wav"
	// TranslationMaxTokens caps the translation reply.
	TranslationMaxTokens = 4096
)

// Service is the remote side of the pipeline.
type Service interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
	Translate(ctx context.Context, req TranslationRequest) (string, error)
}

// TranscriptionRequest is one audio upload.
type TranscriptionRequest struct {
	Audio []byte
	Model string
	// Language is an ISO code, or settings.LanguageAuto to let the endpoint detect it.
	Language string
}

// TranslationRequest is one text to translate.
type TranslationRequest struct {
	Text           string
	TargetLanguage string
	Model          string
}

// OpenAI talks to {baseUrl}/v1 with bearer auth.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds a client for the given credentials. An empty base URL
// means api.openai.com. A nil httpClient uses http.DefaultClient.
func NewOpenAI(api settings.API, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(api.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(api.BaseURL), "/"); base != "" {
		cfg.BaseURL = base + "/v1"
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

// Transcribe uploads one WAV segment and returns the recognized text.
func (o *OpenAI) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	areq := openai.AudioRequest{
		Model:    req.Model,
		FilePath: AudioFilename,
		Reader:   bytes.NewReader(req.Audio),
	}
	if req.Language != "" && req.Language != settings.LanguageAuto {
		areq.Language = req.Language
	}
	resp, err := o.client.CreateTranscription(ctx, areq)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Translate asks the chat model for a bare translation of req.Text.
func (o *OpenAI) Translate(ctx context.Context, req TranslationRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: TranslationMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: TranslationPrompt(req.Text, req.TargetLanguage)},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("translation response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// TranslationPrompt is the instruction sent to the chat model. The target is
// spelled out as a language name when it is a known code.
func TranslationPrompt(text, target string) string {
	return fmt.Sprintf("Translate the text into %s; No further explanation is needed.: %s", settings.LanguageName(target), text)
}

// StatusCode extracts the HTTP status from an endpoint error, or 0 when the
// failure happened before a response arrived.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Describe renders err for the notification surface: the endpoint's status
// text when there was a response, the transport error otherwise.
func Describe(err error) string {
	if code := StatusCode(err); code != 0 {
		if text := http.StatusText(code); text != "" {
			return fmt.Sprintf("%d %s", code, text)
		}
		return fmt.Sprintf("HTTP %d", code)
	}
	return err.Error()
}
