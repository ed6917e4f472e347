package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jwulff/whisperweb/internal/export"
	"github.com/jwulff/whisperweb/internal/session"
)

func newExportCommand(root *rootOptions) *cobra.Command {
	var (
		sessionID string
		format    string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session transcript",
		Long: `Export a session transcript as markdown, HTML or JSON.

Without --session the active session is exported. With -o pointing at a
directory the file name is derived from the session name; "-" or no -o
writes to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			store, _, err := root.openStore(root.newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, current := session.Snapshot(store)
			s, err := pickSession(sessions, current, sessionID)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return export.Write(cmd.OutOrStdout(), s, f)
			}
			if info, err := os.Stat(output); err == nil && info.IsDir() {
				output = filepath.Join(output, export.Filename(s, f))
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := export.Write(file, s, f); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("close export file: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %q to %s\n", s.Name, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: active session)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: md, html or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory (default: stdout)")

	return cmd
}

// pickSession finds id, or the active session when id is empty.
func pickSession(sessions []session.Session, current *session.CurrentRecording, id string) (session.Session, error) {
	if id == "" {
		if current == nil || current.SessionID == "" {
			return session.Session{}, fmt.Errorf("no active session; pass --session")
		}
		id = current.SessionID
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return session.Session{}, fmt.Errorf("session %s not found", id)
}
