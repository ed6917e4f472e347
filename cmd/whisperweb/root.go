package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jwulff/whisperweb/internal/config"
	"github.com/jwulff/whisperweb/internal/db"
)

var version = "dev"

// rootOptions carries the persistent flags to subcommands.
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "whisperweb",
		Short: "WhisperWeb - live speech transcription in the terminal",
		Long: `WhisperWeb records from the microphone, sends fixed-length audio
segments to an OpenAI-compatible transcription endpoint and keeps the
results in named sessions, optionally translated.

Start the recorder with "whisperweb run". A running instance can be
controlled from other terminals with "whisperweb ctl" and read by MCP
clients through "whisperweb mcp".`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to the YAML config file (default "+config.DefaultFilePath()+")")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if opts.debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCtlCommand(opts))
	cmd.AddCommand(newSessionsCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newSettingsCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}

// load resolves the configuration. Only run takes API overrides.
func (o *rootOptions) load(api config.APIConfig) (config.Config, error) {
	return config.Load(o.configPath, api)
}

// openStore resolves the configuration and opens the database it names.
func (o *rootOptions) openStore(logger *slog.Logger) (*db.Store, config.Config, error) {
	cfg, err := o.load(config.APIConfig{})
	if err != nil {
		return nil, cfg, err
	}
	store, err := db.Open(cfg.Paths.Database, logger)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func (o *rootOptions) level() slog.Level {
	if o.debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newLogger returns a text logger on w at the configured level.
func (o *rootOptions) newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: o.level()}))
}

// openLogFile appends to path, creating its directory. The terminal belongs
// to the TUI while it runs, so logs go here instead.
func (o *rootOptions) openLogFile(path string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return o.newLogger(f), func() { f.Close() }, nil
}
