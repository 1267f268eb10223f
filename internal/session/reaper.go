// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultReapInterval = 5 * time.Minute
	defaultReapBatch    = 1000
)

// Reaper periodically expires stale session rows in the store of record.
// Redis entries carry their own TTL; only PostgreSQL needs the sweep.
type Reaper struct {
	service  *Service
	interval time.Duration
	batch    int
	log      *slog.Logger
}

// NewReaper creates a cleanup loop with the given cadence. Non-positive
// values fall back to defaults.
func NewReaper(service *Service, interval time.Duration, batch int, log *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if batch <= 0 {
		batch = defaultReapBatch
	}
	return &Reaper{service: service, interval: interval, batch: batch, log: log}
}

// Run blocks until the context is cancelled, sweeping once per interval.
// Failures are logged and retried on the next tick.
func (reaper *Reaper) Run(ctx context.Context) {

	ticker := time.NewTicker(reaper.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := reaper.service.ReapExpired(ctx, reaper.batch)
			if err != nil {
				reaper.log.Warn("session_reap_failed", "error", err)
				continue
			}
			if reaped > 0 {
				reaper.log.Info("session_reap_completed", "expired", reaped)
			}
		}
	}
}
