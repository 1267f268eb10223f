// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuilder(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	event := New(ActionLoginSuccess, at).
		WithUser("u1").
		WithActor("admin-1").
		WithRequest("203.0.113.9", "curl/8.5").
		WithDetail("session_id", "sess-1").
		WithDetail("method", "jwt")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ActionLoginSuccess, event.Action)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "admin-1", event.ActorID)
	assert.Equal(t, "203.0.113.9", event.IP)
	assert.Equal(t, "curl/8.5", event.UserAgent)
	assert.Equal(t, "sess-1", event.Detail["session_id"])
	assert.Equal(t, "jwt", event.Detail["method"])
	assert.Equal(t, at, event.At)
}

func TestEventIDsAreTimeSortable(t *testing.T) {
	at := time.Now()

	first := New(ActionLogout, at)
	second := New(ActionLogout, at)

	// ULIDs from the same process are monotonic within a millisecond.
	assert.Less(t, first.ID, second.ID)
}

func TestMemoryRecorder(t *testing.T) {
	recorder := NewMemoryRecorder()
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, recorder.Record(ctx, New(ActionLoginSuccess, at).WithUser("u1")))
	require.NoError(t, recorder.Record(ctx, New(ActionLoginFailed, at)))
	require.NoError(t, recorder.Record(ctx, New(ActionLoginSuccess, at).WithUser("u2")))

	assert.Len(t, recorder.Events(), 3)

	logins := recorder.ByAction(ActionLoginSuccess)
	require.Len(t, logins, 2)
	assert.Equal(t, "u1", logins[0].UserID)
	assert.Equal(t, "u2", logins[1].UserID)
}
