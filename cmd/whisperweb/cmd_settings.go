package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/whisperweb/internal/daemon"
	"github.com/jwulff/whisperweb/internal/settings"
)

// modelChoices are offered by the settings form.
var modelChoices = []string{settings.DefaultModel, "openai/whisper-large-v2", settings.ModelCustom}

func newSettingsCommand(root *rootOptions) *cobra.Command {
	var (
		edit      bool
		reveal    bool
		socketArg string
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or edit stored settings",
		Long: `Print the stored settings as YAML with the API key redacted, or edit
them interactively with --edit.

Editing writes to the database, which a running whisperweb does not
reread; quit it first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := root.newLogger(cmd.ErrOrStderr())
			store, cfg, err := root.openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()
			mgr := settings.Load(store, logger)

			if !edit {
				s := mgr.Get()
				if !reveal {
					s = redact(s)
				}
				return writeSettingsYAML(cmd.OutOrStdout(), s)
			}

			socket := socketArg
			if socket == "" {
				socket = cfg.Paths.Socket
			}
			if client, err := daemon.Connect(socket); err == nil {
				client.Close()
				return errors.New("whisperweb is running; quit it before editing settings")
			}

			form := newSettingsForm(mgr.Get())
			if err := form.run(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := mgr.Update(form.apply); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings saved.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&edit, "edit", "e", false, "Edit settings interactively")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show the API key")
	cmd.Flags().StringVar(&socketArg, "socket", "", "Control socket path used to detect a running whisperweb")

	return cmd
}

func redact(s settings.Settings) settings.Settings {
	if s.API.APIKey != "" {
		s.API.APIKey = "********"
	}
	return s
}

// writeSettingsYAML prints s as block-style YAML using its JSON field names
// in declaration order.
func writeSettingsYAML(w io.Writer, s settings.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	// JSON is YAML, and a Node keeps key order.
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("convert settings: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// settingsForm holds the form's string-typed copies of the settings.
type settingsForm struct {
	baseURL   string
	apiKey    string
	model     string
	custom    string
	fontSize  string
	showTime  bool
	recLang   string
	interval  string
	translate bool
	target    string
	trModel   string
}

func newSettingsForm(s settings.Settings) *settingsForm {
	return &settingsForm{
		baseURL:   s.API.BaseURL,
		apiKey:    s.API.APIKey,
		model:     s.API.Model,
		custom:    s.API.CustomModel,
		fontSize:  string(s.View.FontSize),
		showTime:  s.View.ShowTimestamp,
		recLang:   s.Whisper.RecognitionLanguage,
		interval:  strconv.Itoa(s.Whisper.RequestInterval),
		translate: s.Whisper.EnableTranslation,
		target:    s.Whisper.TargetLanguage,
		trModel:   s.API.TranslationModel,
	}
}

func (f *settingsForm) run(in io.Reader, out io.Writer) error {
	models := modelChoices
	if f.model != "" && !slices.Contains(models, f.model) {
		models = append([]string{f.model}, models...)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("OpenAI-compatible endpoint; empty for api.openai.com").
				Placeholder("https://api.openai.com/v1").
				Value(&f.baseURL),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&f.apiKey),
			huh.NewSelect[string]().
				Title("Transcription model").
				Options(huh.NewOptions(models...)...).
				Value(&f.model),
			huh.NewInput().
				Title("Custom model name").
				Description("Used when the model is custom").
				Value(&f.custom),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Recognition language").
				Description(`Language code such as "ja", or "auto"`).
				Value(&f.recLang).
				Validate(notBlank("recognition language")),
			huh.NewInput().
				Title("Request interval (seconds)").
				Value(&f.interval).
				Validate(validateInterval),
			huh.NewConfirm().
				Title("Translate transcriptions?").
				Value(&f.translate),
			huh.NewInput().
				Title("Target language").
				Value(&f.target).
				Validate(notBlank("target language")),
			huh.NewInput().
				Title("Translation model").
				Placeholder(settings.DefaultTranslationModel).
				Value(&f.trModel),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Font size").
				Options(
					huh.NewOption("Small", string(settings.FontSmall)),
					huh.NewOption("Medium", string(settings.FontMedium)),
					huh.NewOption("Large", string(settings.FontLarge)),
				).
				Value(&f.fontSize),
			huh.NewConfirm().
				Title("Show timestamps?").
				Value(&f.showTime),
		),
	).
		WithInput(in).
		WithOutput(out)

	// Use accessible mode for non-TTY input (e.g., tests, piped input).
	if file, ok := in.(*os.File); !ok || !term.IsTerminal(int(file.Fd())) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return fmt.Errorf("settings form: %w", err)
	}
	return nil
}

// apply copies the form values into s. Validation happens in
// settings.Manager.Update.
func (f *settingsForm) apply(s *settings.Settings) {
	s.API.BaseURL = strings.TrimRight(strings.TrimSpace(f.baseURL), "/")
	s.API.APIKey = strings.TrimSpace(f.apiKey)
	s.API.Model = f.model
	s.API.CustomModel = strings.TrimSpace(f.custom)
	s.API.TranslationModel = strings.TrimSpace(f.trModel)
	s.View.FontSize = settings.FontSize(f.fontSize)
	s.View.ShowTimestamp = f.showTime
	s.Whisper.RecognitionLanguage = strings.TrimSpace(f.recLang)
	s.Whisper.EnableTranslation = f.translate
	s.Whisper.TargetLanguage = strings.TrimSpace(f.target)
	if n, err := strconv.Atoi(strings.TrimSpace(f.interval)); err == nil {
		s.Whisper.RequestInterval = n
	}
}

func notBlank(what string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validateInterval(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return errors.New("interval must be a positive number of seconds")
	}
	return nil
}
