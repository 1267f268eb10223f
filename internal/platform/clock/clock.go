// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package clock abstracts wall-clock access so token lifetimes, session
// expiry, and reuse-grace windows can be tested deterministically.
//
// Production code takes a [Clock] via its constructor and calls Now exactly
// where it would have called [time.Now]. Tests substitute a [Fake] and advance
// it in lockstep with miniredis TTL fast-forwarding.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System returns a [Clock] backed by [time.Now].
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Fake is a manually-advanced [Clock] for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a [Fake] frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
