package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jwulff/whisperweb/internal/config"
	"github.com/jwulff/whisperweb/internal/daemon"
)

func newCtlCommand(root *rootOptions) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running whisperweb over its socket",
		Long: `Send one command to a running whisperweb and print the JSON response.

Entry and session commands default to the active session when no session
is given.`,
	}
	cmd.PersistentFlags().StringVar(&socket, "socket", "", "Control socket path (default from config)")

	// call resolves the socket and sends one command.
	call := func(c *cobra.Command, command daemon.Command) error {
		path, err := resolveSocket(root, socket)
		if err != nil {
			return err
		}
		return sendCommand(path, command, c.OutOrStdout())
	}

	simple := func(use, short, name string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: name})
			},
		}
	}

	cmd.AddCommand(
		simple("status", "Show recording status", daemon.CmdStatus),
		simple("start", "Start recording", daemon.CmdStart),
		simple("stop", "Stop recording", daemon.CmdStop),
		simple("sessions", "List sessions", daemon.CmdSessions),
		simple("new", "Create a session and make it active", daemon.CmdNewSession),
		simple("settings", "Show settings with the API key redacted", daemon.CmdSettings),
		&cobra.Command{
			Use:   "select <session-id>",
			Short: "Make a session active",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: daemon.CmdSelectSession, SessionID: args[0]})
			},
		},
		&cobra.Command{
			Use:   "rename <session-id> <name>",
			Short: "Rename a session",
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: daemon.CmdRenameSession, SessionID: args[0], Name: args[1]})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: daemon.CmdDeleteSession, SessionID: args[0]})
			},
		},
		&cobra.Command{
			Use:   "export-audio [path]",
			Short: "Write the current recording to a WAV file",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				command := daemon.Command{Cmd: daemon.CmdExportAudio}
				if len(args) == 1 {
					command.Path = args[0]
				}
				return call(c, command)
			},
		},
		newEntriesCommand(call),
		newSubscribeCommand(root, &socket),
	)

	return cmd
}

// newEntriesCommand groups the entry commands, which share --session.
func newEntriesCommand(call func(*cobra.Command, daemon.Command) error) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List, delete or copy transcript entries",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return call(c, daemon.Command{Cmd: daemon.CmdEntries, SessionID: sessionID})
		},
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "", "Session id (default: active session)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "delete <entry-id>...",
			Short: "Delete entries",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: daemon.CmdDeleteEntries, SessionID: sessionID, EntryIDs: args})
			},
		},
		&cobra.Command{
			Use:   "copy <entry-id>...",
			Short: "Copy entries to the clipboard",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, daemon.Command{Cmd: daemon.CmdCopyEntries, SessionID: sessionID, EntryIDs: args})
			},
		},
	)
	return cmd
}

func newSubscribeCommand(root *rootOptions, socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe [event...]",
		Short: "Stream events as NDJSON until the connection closes",
		Long: `Stream events from a running whisperweb, one JSON object per line.
Events: entry, error, notice, status, sessions, dropped. No arguments
streams all of them.`,
		RunE: func(c *cobra.Command, args []string) error {
			path, err := resolveSocket(root, *socket)
			if err != nil {
				return err
			}
			return streamEvents(path, args, c.OutOrStdout())
		},
	}
}

func resolveSocket(root *rootOptions, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := root.load(config.APIConfig{})
	if err != nil {
		return "", err
	}
	return cfg.Paths.Socket, nil
}

// sendCommand sends one command and writes the indented response to out.
func sendCommand(socket string, command daemon.Command, out io.Writer) error {
	client, err := daemon.Connect(socket)
	if err != nil {
		return fmt.Errorf("is whisperweb running? %w", err)
	}
	defer client.Close()

	resp, err := client.Call(command)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// streamEvents writes events to out until the daemon goes away.
func streamEvents(socket string, events []string, out io.Writer) error {
	client, err := daemon.Connect(socket)
	if err != nil {
		return fmt.Errorf("is whisperweb running? %w", err)
	}
	defer client.Close()

	if err := client.Subscribe(events...); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			// The daemon closing the stream is a normal end.
			return nil
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
}
