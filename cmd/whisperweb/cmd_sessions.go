package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/ui"
)

func newSessionsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Long: `List the sessions in the database. Reads the store directly, so it
works whether or not whisperweb is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := root.openStore(root.newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, current := session.Snapshot(store)
			renderSessions(cmd.OutOrStdout(), sessions, current)
			return nil
		},
	}
}

func renderSessions(out io.Writer, sessions []session.Session, current *session.CurrentRecording) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}
	active := ""
	if current != nil {
		active = current.SessionID
	}

	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		mark := ""
		if s.ID == active {
			mark = "●"
		}
		rows[i] = []string{mark, s.ID, s.Name, s.Timestamp.Local().Format("2006-01-02 15:04"), strconv.Itoa(len(s.Entries))}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(ui.DividerStyle).
		Headers("", "ID", "NAME", "CREATED", "ENTRIES").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			if row >= 0 && row < len(rows) && rows[row][0] != "" {
				return style.Inherit(ui.ActiveSessionStyle)
			}
			return style
		})
	fmt.Fprintln(out, t.Render())
}
