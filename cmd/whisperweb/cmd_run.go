package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/jwulff/whisperweb/internal/app"
	"github.com/jwulff/whisperweb/internal/config"
	"github.com/jwulff/whisperweb/internal/daemon"
	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/engine"
	"github.com/jwulff/whisperweb/internal/settings"
)

type runOptions struct {
	api      config.APIConfig
	headless bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Record and transcribe with the terminal UI",
		Long: `Start the recorder, the transcription pipeline and the control socket,
then open the terminal UI.

API flags override the stored settings and are saved, so later runs keep
them. With --headless no UI is started and whisperweb serves the control
socket until interrupted; drive it with "whisperweb ctl".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhisperweb(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.api.BaseURL, "base-url", "", "OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&opts.api.APIKey, "api-key", "", "API key (prefer "+config.EnvAPIKey+")")
	cmd.Flags().StringVar(&opts.api.Model, "model", "", "Transcription model")
	cmd.Flags().StringVar(&opts.api.CustomModel, "custom-model", "", "Custom transcription model name (implies --model custom)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Serve the control socket without the terminal UI")

	return cmd
}

func runWhisperweb(ctx context.Context, root *rootOptions, opts runOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.load(opts.api)
	if err != nil {
		return err
	}
	if !opts.headless && !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("run needs a terminal; use --headless to serve the control socket only")
	}

	var logger *slog.Logger
	if opts.headless {
		logger = root.newLogger(errOut)
	} else {
		var closeLog func()
		logger, closeLog, err = root.openLogFile(cfg.Paths.Log)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	store, err := db.Open(cfg.Paths.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := engine.New(engine.Deps{
		Store:  store,
		Device: cfg.Device(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	var changed bool
	if err := e.UpdateSettings(func(s *settings.Settings) { changed = cfg.ApplyAPI(s) }); err != nil {
		return fmt.Errorf("apply API overrides: %w", err)
	}
	if changed {
		logger.Info("API settings updated from configuration", "base_url", e.Settings().API.BaseURL, "model", e.Settings().API.Model)
	}

	srv, err := daemon.Listen(cfg.Paths.Socket, e, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx) })

	if opts.headless {
		fmt.Fprintf(out, "whisperweb listening on %s\n", srv.Path())
		logger.Info("headless mode", "socket", srv.Path(), "database", cfg.Paths.Database)
	} else {
		g.Go(func() error {
			// Leaving the UI shuts everything else down.
			defer stop()
			p := tea.NewProgram(app.New(srv.Path()), tea.WithAltScreen(), tea.WithContext(gctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal UI: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
