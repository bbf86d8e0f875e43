package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifiers(t *testing.T) {
	assert.True(t, IsSQLiteConflictError(errors.New("exec: database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsSQLiteConflictError(nil))
	assert.True(t, IsSQLiteUniqueError(errors.New("constraint failed: UNIQUE constraint failed: checkin_sessions.employee_id (2067)")))
	assert.False(t, IsSQLiteUniqueError(errors.New("no such table")))
}

func TestRetryOnConflictRetriesBusyOnly(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "busy", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("boom")
	err = RetryOnConflict(context.Background(), policy, "fatal", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	calls = 0
	err = RetryOnConflict(context.Background(), policy, "exhausted", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	assert.True(t, IsSQLiteBusyError(err))
	assert.Equal(t, 3, calls)
}
