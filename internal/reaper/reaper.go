// Package reaper runs the background sweep that evicts records whose view
// budget is spent or whose deadline has passed.
//
// The sweep itself is a single RecordStore.RemoveExpired call, so it is
// serialized with retrievals by the store's own lock. A failing tick is
// logged and the loop carries on with the next one.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gravebox_reaper_runs_total",
		Help: "Total number of reaper passes",
	})

	failedRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gravebox_reaper_failed_runs_total",
		Help: "Total number of reaper passes that panicked",
	})

	reapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gravebox_reaper_records_removed_total",
		Help: "Total number of records removed by the reaper",
	})

	durationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gravebox_reaper_duration_seconds",
		Help:    "Duration of a reaper pass in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Store is the part of the record store the reaper drives.
type Store interface {
	RemoveExpired(ctx context.Context) int
}

// Result describes one pass.
type Result struct {
	Removed  int
	Err      error
	Duration time.Duration
}

type Reaper struct {
	store    Store
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex // one pass at a time
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, interval time.Duration, logger zerolog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "reaper").Logger(),
	}
}

// Start launches the loop. It stops when ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx)

	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info().Msg("reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. A panic inside the pass is recovered and
// reported in Result.Err.
func (r *Reaper) RunOnce(ctx context.Context) (result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("reaper pass panicked: %v", p)
			failedRunsTotal.Inc()
			r.logger.Error().Err(result.Err).Msg("reaper pass failed")
		}
		result.Duration = time.Since(start)
		runsTotal.Inc()
		durationSeconds.Observe(result.Duration.Seconds())
	}()

	result.Removed = r.store.RemoveExpired(ctx)
	reapedTotal.Add(float64(result.Removed))

	if result.Removed > 0 {
		r.logger.Info().Int("removed", result.Removed).Dur("duration", time.Since(start)).Msg("reaper pass finished")
	} else {
		r.logger.Debug().Msg("reaper pass found nothing to remove")
	}

	return result
}
