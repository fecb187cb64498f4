// Package store holds the two in-memory stores of the service, records and
// entitlements, together with the snapshot backends that persist them.
//
// Both stores guard their map with a single mutex. Every operation is one
// critical section; snapshot I/O happens after the mutex is released, using
// a copy captured inside it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"grave.box/internal/token"
)

var (
	ErrNotFound       = errors.New("record not found or expired")
	ErrDuplicateToken = errors.New("token already exists")

	// ErrSnapshotHeld is returned by writes after an unreadable snapshot
	// could not be set aside.
	ErrSnapshotHeld = errors.New("snapshot writes suspended: unreadable snapshot kept in place")
)

// Snapshotter persists a full snapshot document. Load returns nil data and no
// error when nothing has been saved yet.
type Snapshotter interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// Quarantiner is implemented by backends that can move an unreadable
// snapshot out of the way, returning where it went.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

var (
	recordsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gravebox_records_stored",
		Help: "Number of records currently held in memory",
	})

	recordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gravebox_records_inserted_total",
		Help: "Total number of records inserted",
	})

	recordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gravebox_records_consumed_total",
		Help: "Total number of consume attempts by result",
	}, []string{"result"})

	tokenCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gravebox_token_collisions_total",
		Help: "Total number of minted tokens that collided with a stored one",
	})

	snapshotFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gravebox_snapshot_failures_total",
		Help: "Total number of failed snapshot writes",
	}, []string{"snapshot"})
)

type options struct {
	now    func() time.Time
	tokens *token.Generator
}

type Option func(*options)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTokens replaces the token generator used by RecordStore.Insert.
func WithTokens(g *token.Generator) Option {
	return func(o *options) { o.tokens = g }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokens == nil {
		o.tokens = token.NewGenerator()
	}
	return o
}
