// Package settings holds the user preferences for display, recognition and
// API access, and the Manager that persists them on every change.
package settings

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Sentinel values shared with the transcription pipeline.
const (
	// LanguageAuto lets the transcription endpoint detect the language.
	LanguageAuto = "auto"
	// ModelCustom means the model string comes from API.CustomModel.
	ModelCustom = "custom"

	DefaultModel            = "whisper-1"
	DefaultTranslationModel = "gpt-4o-mini"
	DefaultRequestInterval  = 3
)

// FontSize is the transcript text size preference.
type FontSize string

const (
	FontSmall  FontSize = "12"
	FontMedium FontSize = "16"
	FontLarge  FontSize = "20"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// View holds display preferences.
type View struct {
	FontSize      FontSize `json:"fontSize"`
	ShowTimestamp bool     `json:"showTimestamp"`
	Language      string   `json:"language"`
}

// Whisper holds recognition preferences.
type Whisper struct {
	RecognitionLanguage string `json:"recognitionLanguage"`
	// RequestInterval is the segment length in seconds.
	RequestInterval   int    `json:"requestInterval"`
	EnableTranslation bool   `json:"enableTranslation"`
	TargetLanguage    string `json:"targetLanguage"`
}

// API holds endpoint credentials.
type API struct {
	BaseURL          string `json:"baseUrl"`
	APIKey           string `json:"apiKey"`
	Model            string `json:"model"`
	CustomModel      string `json:"customModel,omitempty"`
	TranslationModel string `json:"translationModel,omitempty"`
}

// Settings is the full preference set persisted under db.KeySettings.
type Settings struct {
	View    View    `json:"view"`
	Whisper Whisper `json:"whisper"`
	API     API     `json:"api"`
}

// Defaults returns the settings used when nothing has been stored.
func Defaults() Settings {
	return Settings{
		View: View{
			FontSize:      FontMedium,
			ShowTimestamp: true,
			Language:      "en",
		},
		Whisper: Whisper{
			RecognitionLanguage: LanguageAuto,
			RequestInterval:     DefaultRequestInterval,
			EnableTranslation:   false,
			TargetLanguage:      "en",
		},
		API: API{
			Model: DefaultModel,
		},
	}
}

// ResolvedModel returns the model string to send to the transcription
// endpoint, substituting CustomModel for the "custom" sentinel.
func (a API) ResolvedModel() string {
	if a.Model == ModelCustom {
		return strings.TrimSpace(a.CustomModel)
	}
	return a.Model
}

// ResolvedTranslationModel returns the chat model used for translation.
func (a API) ResolvedTranslationModel() string {
	if a.TranslationModel != "" {
		return a.TranslationModel
	}
	return DefaultTranslationModel
}

// Validate checks every field that has a constrained domain.
func (s Settings) Validate() error {
	switch s.View.FontSize {
	case FontSmall, FontMedium, FontLarge:
	default:
		return fmt.Errorf("%w: font size %q", ErrInvalid, s.View.FontSize)
	}
	if s.Whisper.RequestInterval <= 0 {
		return fmt.Errorf("%w: request interval must be > 0, got %d", ErrInvalid, s.Whisper.RequestInterval)
	}
	if s.Whisper.RecognitionLanguage != LanguageAuto {
		if _, err := language.Parse(s.Whisper.RecognitionLanguage); err != nil {
			return fmt.Errorf("%w: recognition language %q", ErrInvalid, s.Whisper.RecognitionLanguage)
		}
	}
	if _, err := language.Parse(s.Whisper.TargetLanguage); err != nil {
		return fmt.Errorf("%w: target language %q", ErrInvalid, s.Whisper.TargetLanguage)
	}
	if _, err := language.Parse(s.View.Language); err != nil {
		return fmt.Errorf("%w: ui language %q", ErrInvalid, s.View.Language)
	}
	if s.API.Model == ModelCustom && strings.TrimSpace(s.API.CustomModel) == "" {
		return fmt.Errorf("%w: custom model selected but no model name given", ErrInvalid)
	}
	return nil
}

// LanguageName returns the English name of a language code ("ja" ->
// "Japanese"), or the code itself when it is not a known tag.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
