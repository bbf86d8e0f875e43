package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu      sync.Mutex
	turns   []conversation.TurnInput
	failOn  string
	openErr error
}

func (f *fakeEngine) GetOpeningMessage(_ context.Context, _, sessionID string) (*conversation.Reply, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &conversation.Reply{SessionID: sessionID, Message: "How was your week?", State: domain.StatePending}, nil
}

func (f *fakeEngine) ProcessTurn(_ context.Context, _, sessionID string, in conversation.TurnInput) (*conversation.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Message == f.failOn {
		return nil, domain.ErrAgentInvocationFailed
	}
	f.turns = append(f.turns, in)
	complete := len(f.turns) == 2
	state := domain.StateStarted
	if complete {
		state = domain.StateCompleted
	}
	return &conversation.Reply{SessionID: sessionID, Message: "echo: " + in.Message, IsComplete: complete, State: state}, nil
}

func newServer(t *testing.T, engine Conversations, sm *SessionManager, origins []string) string {
	t.Helper()
	r := chi.NewRouter()
	asEmployee := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			emp := &domain.Employee{ID: "emp-1", OrganizationID: "org-1"}
			next.ServeHTTP(w, r.WithContext(identity.WithEmployee(r.Context(), emp)))
		})
	}
	r.With(asEmployee).Get("/ws/checkins/{id}", NewWebSocketHandler(engine, sm, origins).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/checkins/sess-1"
}

func dial(t *testing.T, url string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) Frame {
	t.Helper()
	var f Frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestLiveCheckinConversation(t *testing.T) {
	engine := &fakeEngine{failOn: "boom"}
	sm := NewSessionManager()
	conn, ctx := dial(t, newServer(t, engine, sm, []string{"*"}))

	opening := read(t, ctx, conn)
	assert.Equal(t, FrameMessage, opening.Type)
	assert.Equal(t, "How was your week?", opening.Content)
	assert.Equal(t, 1, sm.Count())

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: FramePing}))
	assert.Equal(t, FramePong, read(t, ctx, conn).Type)

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: FrameMessage, Content: "boom"}))
	failed := read(t, ctx, conn)
	assert.Equal(t, FrameError, failed.Type)
	assert.Equal(t, "agent_unavailable", failed.Error)
	assert.True(t, failed.Retryable)

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: FrameMessage, Content: "busy", IdempotencyKey: "k-1"}))
	reply := read(t, ctx, conn)
	assert.Equal(t, FrameReply, reply.Type)
	assert.Equal(t, "echo: busy", reply.Content)
	assert.Equal(t, domain.StateStarted, reply.State)

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: FrameMessage, Content: "done"}))
	final := read(t, ctx, conn)
	assert.True(t, final.IsComplete)
	assert.Equal(t, FrameCompleted, read(t, ctx, conn).Type)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.turns, 2)
	assert.Equal(t, "k-1", engine.turns[0].IdempotencyKey)
}

func TestLiveCheckinCompletedSession(t *testing.T) {
	engine := &fakeEngine{openErr: domain.ErrSessionAlreadyCompleted}
	conn, ctx := dial(t, newServer(t, engine, NewSessionManager(), []string{"*"}))

	f := read(t, ctx, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "already_completed", f.Error)
	assert.True(t, f.IsComplete)
}

func TestLiveCheckinRejectsForeignOrigin(t *testing.T) {
	url := newServer(t, &fakeEngine{}, NewSessionManager(), []string{"https://app.example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionManagerReplacesConnection(t *testing.T) {
	engine := &fakeEngine{}
	sm := NewSessionManager()
	url := newServer(t, engine, sm, []string{"*"})

	first, ctx := dial(t, url)
	read(t, ctx, first)

	// The server closes the older socket; the client must be reading to
	// complete the close handshake.
	closed := make(chan error, 1)
	go func() {
		_, _, err := first.Read(ctx)
		closed <- err
	}()

	second, _ := dial(t, url)
	read(t, ctx, second)

	err := <-closed
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 1, sm.Count())
}
