// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"context"
	"log/slog"
	"time"
)

const defaultJanitorInterval = 1 * time.Hour

// Janitor periodically prunes expired revocation bookkeeping. Redis expires
// the entries themselves; the janitor only sweeps up audit partitions and
// membership sets that outlived their tokens.
type Janitor struct {
	index    *Index
	interval time.Duration
	log      *slog.Logger
}

// NewJanitor creates a cleanup loop with the given cadence. A non-positive
// interval falls back to hourly.
func NewJanitor(index *Index, interval time.Duration, log *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &Janitor{index: index, interval: interval, log: log}
}

// Run blocks until the context is cancelled, sweeping once per interval.
// Failures are logged and retried on the next tick.
func (janitor *Janitor) Run(ctx context.Context) {

	ticker := time.NewTicker(janitor.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := janitor.index.CleanupExpired(ctx)
			if err != nil {
				janitor.log.Warn("revocation_cleanup_failed", "error", err)
				continue
			}
			if removed > 0 {
				janitor.log.Info("revocation_cleanup_completed", "removed", removed)
			}
		}
	}
}
