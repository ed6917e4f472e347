// Package export renders a session transcript as markdown, HTML or JSON.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jwulff/whisperweb/internal/session"
)

// Format is an export file format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want md, html or json)", name)
	}
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Markdown renders the session as a markdown document: a title, the creation
// time and entry count, then one line per entry with its translation quoted
// beneath it.
func Markdown(s session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Name)
	fmt.Fprintf(&b, "- Created: %s\n", s.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "- Entries: %d\n", len(s.Entries))
	b.WriteString("\n---\n\n")

	if len(s.Entries) == 0 {
		b.WriteString("_No transcriptions._\n")
		return b.String()
	}

	for _, e := range s.Entries {
		fmt.Fprintf(&b, "**[%s]** %s\n", e.Timestamp, e.Transcription)
		if e.Translation != "" {
			fmt.Fprintf(&b, "\n> %s\n", e.Translation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Typographer))

// HTML renders the markdown transcript as a standalone HTML page.
func HTML(s session.Session) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(s)), &body); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(s.Name))
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// JSON renders the session as indented JSON, in its persisted shape.
func JSON(s session.Session) ([]byte, error) {
	if s.Entries == nil {
		s.Entries = []session.Entry{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return append(data, '\n'), nil
}

// Write renders s in format f to w.
func Write(w io.Writer, s session.Session, f Format) error {
	var out []byte
	switch f {
	case FormatMarkdown:
		out = []byte(Markdown(s))
	case FormatHTML:
		page, err := HTML(s)
		if err != nil {
			return err
		}
		out = []byte(page)
	case FormatJSON:
		data, err := JSON(s)
		if err != nil {
			return err
		}
		out = data
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Filename suggests a file name for exporting s in format f.
func Filename(s session.Session, f Format) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(s.Name))
	if name == "" {
		name = "session"
	}
	return name + f.Ext()
}
