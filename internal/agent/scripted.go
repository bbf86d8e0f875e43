package agent

import (
	"context"
	"sync"
	"time"
)

// closingReply is served once a script runs out.
const closingReply = `{"reply": "Thanks, that's everything for today.", "is_complete": true, "extracted": {}}`

// ScriptedModel replays canned responses in order. It backs local development
// and tests.
type ScriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []CompletionRequest
	delay     time.Duration
}

// NewScriptedModel creates a model that returns responses in order.
func NewScriptedModel(responses ...string) *ScriptedModel {
	return &ScriptedModel{responses: responses}
}

// FailNext makes the next call return err instead of a response.
func (m *ScriptedModel) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Push appends responses to the script.
func (m *ScriptedModel) Push(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// SetDelay makes every call wait d before answering, honoring ctx.
func (m *ScriptedModel) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Complete returns the next scripted response.
func (m *ScriptedModel) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	out, delay, err := m.next(req)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return out, nil
}

func (m *ScriptedModel) next(req CompletionRequest) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", m.delay, err
	}
	if len(m.responses) == 0 {
		return closingReply, m.delay, nil
	}
	out := m.responses[0]
	m.responses = m.responses[1:]
	return out, m.delay, nil
}

// Calls returns the number of Complete invocations so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the received requests.
func (m *ScriptedModel) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// Close is a no-op.
func (m *ScriptedModel) Close() {}
