package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

// transitionMethod is the notification method used for live transitions.
const transitionMethod = "notifications/message"

// TransitionNotifier pushes the transitions of a running execution to the
// MCP client that started it.
type TransitionNotifier struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewTransitionNotifier creates a notifier backed by mcpServer.
func NewTransitionNotifier(mcpServer *server.MCPServer, logger *slog.Logger) *TransitionNotifier {
	return &TransitionNotifier{mcpServer: mcpServer, logger: logger}
}

// Notify sends one transition to a session.
// Best-effort: returns nil if the session is gone.
func (n *TransitionNotifier) Notify(sessionID string, rec schema.TransitionRecord) error {
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, transitionMethod, map[string]any{
		"level":  "info",
		"logger": "sfnsim",
		"data":   rec,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}

// Listener returns an engine listener forwarding to the session in ctx. ok is
// false when ctx carries no client session.
func (n *TransitionNotifier) Listener(ctx context.Context) (l engine.Listener, ok bool) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil, false
	}
	sessionID := session.SessionID()
	return func(rec schema.TransitionRecord) {
		if err := n.Notify(sessionID, rec); err != nil {
			n.logger.Debug("transition notification dropped",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}, true
}
