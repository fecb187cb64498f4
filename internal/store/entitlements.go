package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grave.box/internal/models"
)

// EntitlementStore maps user ids to the instant their entitlement lapses.
// Lapsed entries are never reaped; IsEntitled re-checks the deadline.
type EntitlementStore struct {
	mu      sync.Mutex
	grants  map[int64]models.Entitlement
	version uint64

	snapshots snapshotWriter
	now       func() time.Time
	logger    zerolog.Logger
}

type entitlementSnapshot struct {
	version uint64
	grants  map[int64]models.Entitlement
}

func NewEntitlementStore(backend Snapshotter, logger zerolog.Logger, opts ...Option) *EntitlementStore {
	o := buildOptions(opts)
	return &EntitlementStore{
		grants:    make(map[int64]models.Entitlement),
		snapshots: snapshotWriter{backend: backend},
		now:       o.now,
		logger:    logger.With().Str("component", "entitlement_store").Logger(),
	}
}

// Load replaces the in-memory grants with the persisted snapshot, skipping
// entries it cannot decode.
func (s *EntitlementStore) Load(ctx context.Context) error {
	data, err := s.snapshots.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading entitlements snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		if dest, err := s.snapshots.setAside(ctx); err != nil {
			s.logger.Error().Err(err).Msg("unreadable entitlements snapshot kept in place, snapshot writes suspended")
		} else {
			s.logger.Warn().Str("moved_to", dest).Msg("unreadable entitlements snapshot set aside")
		}
		return fmt.Errorf("decoding entitlements snapshot: %w", err)
	}

	grants := make(map[int64]models.Entitlement, len(stored))
	for key, entry := range stored {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.Warn().Str("user", key).Msg("skipping entitlement with non-numeric user id")
			continue
		}
		var e models.Entitlement
		if err := json.Unmarshal(entry, &e); err != nil {
			s.logger.Warn().Int64("user", id).Err(err).Msg("skipping undecodable entitlement")
			continue
		}
		e.UserID = id
		grants[id] = e
	}

	s.mu.Lock()
	s.grants = grants
	s.mu.Unlock()

	s.logger.Info().Int("entitlements", len(grants)).Int("skipped", len(stored)-len(grants)).Msg("entitlements snapshot loaded")
	return nil
}

// Grant sets the user's entitlement to lapse d from now, replacing any
// earlier grant.
func (s *EntitlementStore) Grant(ctx context.Context, userID int64, d time.Duration) models.Entitlement {
	s.mu.Lock()
	e := models.Entitlement{UserID: userID, ExpiresAt: s.now().UTC().Add(d)}
	s.grants[userID] = e
	s.version++
	snap := s.captureLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return e
}

func (s *EntitlementStore) IsEntitled(userID int64) bool {
	e, ok := s.Get(userID)
	return ok && e.Active(s.now())
}

// Get returns the stored grant, lapsed or not.
func (s *EntitlementStore) Get(userID int64) (models.Entitlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.grants[userID]
	return e, ok
}

func (s *EntitlementStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	snap := s.captureLocked()
	s.mu.Unlock()

	return s.write(ctx, snap)
}

func (s *EntitlementStore) captureLocked() entitlementSnapshot {
	grants := make(map[int64]models.Entitlement, len(s.grants))
	for id, e := range s.grants {
		grants[id] = e
	}
	return entitlementSnapshot{version: s.version, grants: grants}
}

func (s *EntitlementStore) persist(ctx context.Context, snap entitlementSnapshot) {
	if err := s.write(ctx, snap); err != nil {
		snapshotFailures.WithLabelValues("entitlements").Inc()
		s.logger.Error().Err(err).Uint64("version", snap.version).Msg("entitlements snapshot write failed")
	}
}

func (s *EntitlementStore) write(ctx context.Context, snap entitlementSnapshot) error {
	data, err := json.MarshalIndent(snap.grants, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding entitlements snapshot: %w", err)
	}
	return s.snapshots.write(ctx, snap.version, data)
}
