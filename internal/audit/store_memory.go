// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package audit

import (
	"context"
	"sync"
)

// MemoryRecorder is an in-memory [Recorder] used in tests.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder constructs an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the event.
func (r *MemoryRecorder) Record(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByAction returns recorded events with the given action.
func (r *MemoryRecorder) ByAction(action Action) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, event := range r.events {
		if event.Action == action {
			out = append(out, event)
		}
	}
	return out
}
