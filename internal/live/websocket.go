package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// Conversations is the part of the turn engine the socket drives.
type Conversations interface {
	GetOpeningMessage(ctx context.Context, employeeID, sessionID string) (*conversation.Reply, error)
	ProcessTurn(ctx context.Context, employeeID, sessionID string, in conversation.TurnInput) (*conversation.Reply, error)
}

// Frame is one message on the socket, in either direction.
type Frame struct {
	Type           string              `json:"type"`
	Content        string              `json:"content,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	State          domain.SessionState `json:"state,omitempty"`
	IsComplete     bool                `json:"is_complete,omitempty"`
	Error          string              `json:"error,omitempty"`
	Retryable      bool                `json:"retryable,omitempty"`
}

// Frame types.
const (
	FrameMessage   = "message"
	FrameReply     = "reply"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameError     = "error"
	FrameCompleted = "completed"
	FrameClose     = "close"
)

// WebSocketHandler serves GET /ws/checkins/{id}.
type WebSocketHandler struct {
	engine         Conversations
	sm             *SessionManager
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(engine Conversations, sm *SessionManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		engine:         engine,
		sm:             sm,
		allowedOrigins: allowedOrigins,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	employeeID := identity.EmployeeIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	slog.Info("WebSocket connection request", "employee_id", employeeID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if employeeID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "employee_id", employeeID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "check-in ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "employee_id", employeeID)
		}
	}()

	h.sm.Register(employeeID, sessionID, ws)
	defer h.sm.Unregister(employeeID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	opening, err := h.engine.GetOpeningMessage(ctx, employeeID, sessionID)
	if err != nil {
		h.writeFrame(ctx, ws, errorFrame(err))
		return
	}
	h.writeFrame(ctx, ws, Frame{Type: FrameMessage, Content: opening.Message, State: opening.State})

	h.readLoop(ctx, ws, employeeID, sessionID)
	slog.Info("Live check-in ended", "employee_id", employeeID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, employeeID, sessionID string) {
	for {
		var in Frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "employee_id", employeeID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "employee_id", employeeID)
			}
			return
		}

		switch in.Type {
		case FramePing:
			h.writeFrame(ctx, ws, Frame{Type: FramePong})
		case FrameClose:
			return
		case FrameMessage:
			reply, err := h.engine.ProcessTurn(ctx, employeeID, sessionID, conversation.TurnInput{
				Message:        in.Content,
				IdempotencyKey: in.IdempotencyKey,
			})
			if err != nil {
				h.writeFrame(ctx, ws, errorFrame(err))
				if errors.Is(err, domain.ErrSessionAlreadyCompleted) || errors.Is(err, domain.ErrNotAuthorized) {
					return
				}
				continue
			}
			h.writeFrame(ctx, ws, Frame{
				Type:       FrameReply,
				Content:    reply.Message,
				State:      reply.State,
				IsComplete: reply.IsComplete,
			})
			if reply.IsComplete {
				h.writeFrame(ctx, ws, Frame{Type: FrameCompleted, State: domain.StateCompleted})
				return
			}
		default:
			h.writeFrame(ctx, ws, Frame{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) {
	if err := wsjson.Write(ctx, ws, f); err != nil {
		slog.Debug("WebSocket write error", "type", f.Type, "error", err)
	}
}

// errorFrame maps engine errors to stable codes for clients.
func errorFrame(err error) Frame {
	f := Frame{Type: FrameError, Retryable: domain.IsRetryable(err)}
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		f.Error = "not_authorized"
	case errors.Is(err, domain.ErrSessionNotFound):
		f.Error = "not_found"
	case errors.Is(err, domain.ErrSessionAlreadyCompleted):
		f.Error = "already_completed"
		f.IsComplete = true
	case errors.Is(err, domain.ErrAgentInvocationFailed):
		f.Error = "agent_unavailable"
	case errors.Is(err, domain.ErrTurnConflict):
		f.Error = "turn_conflict"
	case errors.Is(err, conversation.ErrEmptyMessage):
		f.Error = "empty_message"
	default:
		slog.Error("Live check-in failed", "error", err)
		f.Error = "internal_error"
	}
	return f
}
