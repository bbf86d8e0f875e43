//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/dotcheck/internal/conversation"
	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		completed bool
		retryable bool
	}{
		{domain.ErrNotAuthorized, http.StatusForbidden, false, false},
		{domain.ErrSessionNotFound, http.StatusNotFound, false, false},
		{fmt.Errorf("%w: emp-9", domain.ErrEmployeeNotFound), http.StatusNotFound, false, false},
		{domain.ErrSessionAlreadyCompleted, http.StatusConflict, true, false},
		{domain.ErrSchedulingConflict, http.StatusConflict, false, false},
		{fmt.Errorf("%w: timeout", domain.ErrAgentInvocationFailed), http.StatusServiceUnavailable, false, true},
		{domain.ErrTurnConflict, http.StatusServiceUnavailable, false, true},
		{conversation.ErrEmptyMessage, http.StatusBadRequest, false, false},
		{domain.ErrUnknownAgent, http.StatusBadRequest, false, false},
		{scheduler.ErrInvalidDate, http.StatusBadRequest, false, false},
		{errors.New("disk on fire"), http.StatusInternalServerError, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/checkins/x/turns", nil)
			WriteError(w, r, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.completed, body.Completed)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.NotContains(t, body.Error, "disk on fire")
		})
	}
}

func TestDecodeBody(t *testing.T) {
	var in conversation.TurnInput
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi","idempotency_key":"k"}`))
	require.NoError(t, decodeBody(httptest.NewRecorder(), r, &in))
	assert.Equal(t, "hi", in.Message)
	assert.Equal(t, "k", in.IdempotencyKey)

	r = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	require.NoError(t, decodeBody(httptest.NewRecorder(), r, &in))

	w := httptest.NewRecorder()
	big := `{"message":"` + strings.Repeat("a", defaultMaxRequestBodySize) + `"}`
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	err := decodeBody(w, r, &in)
	require.Error(t, err)
	writeDecodeError(w, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
