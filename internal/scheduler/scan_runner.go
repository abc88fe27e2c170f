package scheduler

import (
	"context"
	"time"

	"leadflow_backend/platform/logger"
)

const (
	defaultStaleScanInterval  = 24 * time.Hour
	defaultNoShowScanInterval = 15 * time.Minute
)

// Scan is one periodic sweep over the lead base.
type Scan interface {
	RunOnce(ctx context.Context) error
}

// ScanRunner drives a Scan on a fixed interval. The first pass runs at
// startup so a restarted worker does not wait a full interval to catch up.
type ScanRunner struct {
	name     string
	scan     Scan
	interval time.Duration
	log      *logger.Logger
}

func NewScanRunner(name string, scan Scan, interval time.Duration, log *logger.Logger) *ScanRunner {
	if interval <= 0 {
		switch name {
		case "no_show":
			interval = defaultNoShowScanInterval
		default:
			interval = defaultStaleScanInterval
		}
	}

	return &ScanRunner{
		name:     name,
		scan:     scan,
		interval: interval,
		log:      log,
	}
}

func (r *ScanRunner) Run(ctx context.Context) {
	if r == nil || r.scan == nil {
		return
	}

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("scan runner stopping", "scan", r.name)
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *ScanRunner) runOnce(ctx context.Context) {
	start := time.Now()
	if err := r.scan.RunOnce(ctx); err != nil {
		r.log.Error("scan pass failed", "scan", r.name, "error", err)
		return
	}
	r.log.Info("scan pass completed", "scan", r.name, "took", time.Since(start))
}
