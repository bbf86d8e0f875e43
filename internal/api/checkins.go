package api

import (
	"context"
	"net/http"

	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/identity"
	"github.com/ashureev/dotcheck/internal/observability"
	"github.com/go-chi/chi/v5"
)

// IdempotencyHeader carries the client's turn attempt key.
const IdempotencyHeader = "Idempotency-Key"

// Conversations is the turn engine as seen by the HTTP layer.
type Conversations interface {
	GetOpeningMessage(ctx context.Context, employeeID, sessionID string) (*conversation.Reply, error)
	ProcessTurn(ctx context.Context, employeeID, sessionID string, in conversation.TurnInput) (*conversation.Reply, error)
	GetSession(ctx context.Context, employeeID, sessionID string) (*conversation.SessionView, error)
	ListOpen(ctx context.Context, employeeID string) ([]*domain.Session, error)
}

// CheckinHandler serves the employee-facing check-in endpoints.
type CheckinHandler struct {
	engine  Conversations
	limiter *RateLimiter
}

// NewCheckinHandler creates a check-in handler. A nil limiter disables
// throttling.
func NewCheckinHandler(engine Conversations, limiter *RateLimiter) *CheckinHandler {
	return &CheckinHandler{engine: engine, limiter: limiter}
}

// RegisterRoutes registers check-in routes. Callers install the identity
// middleware on r.
func (h *CheckinHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/checkins", func(r chi.Router) {
		r.Get("/", h.ListOpen)
		r.Get("/{id}", h.Get)
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/{id}/opening", h.Opening)
			r.Post("/{id}/turns", h.Turn)
		})
	})
}

// ListOpen returns the caller's incomplete check-ins.
func (h *CheckinHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	employeeID := identity.EmployeeIDFromContext(r.Context())
	sessions, err := h.engine.ListOpen(r.Context(), employeeID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Get returns a read-only view of one check-in.
func (h *CheckinHandler) Get(w http.ResponseWriter, r *http.Request) {
	employeeID := identity.EmployeeIDFromContext(r.Context())
	view, err := h.engine.GetSession(r.Context(), employeeID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Opening returns the check-in's first message.
func (h *CheckinHandler) Opening(w http.ResponseWriter, r *http.Request) {
	employeeID := identity.EmployeeIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	reply, err := h.engine.GetOpeningMessage(r.Context(), employeeID, sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// Turn submits one employee message and returns the agent's reply.
func (h *CheckinHandler) Turn(w http.ResponseWriter, r *http.Request) {
	employeeID := identity.EmployeeIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	var in conversation.TurnInput
	if err := decodeBody(w, r, &in); err != nil {
		writeDecodeError(w, err)
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	}

	observability.LoggerFromContext(r.Context()).Info("Check-in turn",
		"employee_id", employeeID,
		"session_id", sessionID,
		"message_length", len(in.Message),
	)

	reply, err := h.engine.ProcessTurn(r.Context(), employeeID, sessionID, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}
