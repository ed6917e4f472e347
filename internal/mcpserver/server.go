// Package mcpserver exposes whisperweb transcripts to MCP clients over stdio.
// Tools are read-only and read the store on every call, so they see entries
// written by a running whisperweb.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/export"
	"github.com/jwulff/whisperweb/internal/session"
)

// Tool names.
const (
	ToolListSessions  = "list_sessions"
	ToolGetTranscript = "get_transcript"
)

// SessionSummary is one element of the list_sessions result.
type SessionSummary struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Entries int       `json:"entries"`
	Active  bool      `json:"active,omitempty"`
}

// Server holds the MCP server and the store it reads.
type Server struct {
	store  *db.Store
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New builds the server and registers its tools.
func New(store *db.Store, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		logger: logger,
		mcp:    server.NewMCPServer("whisperweb", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(ToolListSessions,
		mcp.WithDescription("List transcript sessions with their creation time and entry count. The active session is marked."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool(ToolGetTranscript,
		mcp.WithDescription("Get the transcript of a session as markdown or JSON. Defaults to the active session."),
		mcp.WithString("session_id", mcp.Description("Session id from list_sessions. Omit for the active session.")),
		mcp.WithString("format", mcp.Description("md (default) or json"), mcp.Enum("md", "json")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.getTranscript)

	return s
}

// ServeStdio serves MCP requests on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, current := session.Snapshot(s.store)
	active := ""
	if current != nil {
		active = current.SessionID
	}

	out := make([]SessionSummary, len(sessions))
	for i, sess := range sessions {
		out[i] = SessionSummary{
			ID:      sess.ID,
			Name:    sess.Name,
			Created: sess.Timestamp,
			Entries: len(sess.Entries),
			Active:  sess.ID == active,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sessions: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := export.ParseFormat(req.GetString("format", "md"))
	if err != nil || format == export.FormatHTML {
		return mcp.NewToolResultError("format must be md or json"), nil
	}

	sessions, current := session.Snapshot(s.store)
	id := req.GetString("session_id", "")
	if id == "" && current != nil {
		id = current.SessionID
	}
	if id == "" {
		return mcp.NewToolResultError("no session_id given and no active session"), nil
	}

	for _, sess := range sessions {
		if sess.ID != id {
			continue
		}
		s.logger.Debug("transcript requested", "session", id, "entries", len(sess.Entries))
		if format == export.FormatJSON {
			data, err := export.JSON(sess)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(string(data)), nil
		}
		return mcp.NewToolResultText(export.Markdown(sess)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
}
