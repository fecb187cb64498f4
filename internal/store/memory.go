package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grave.box/internal/models"
	"grave.box/internal/token"
)

// maxTokenAttempts bounds how often Insert re-mints a colliding token.
const maxTokenAttempts = 5

// RecordStore maps tokens to records. A record is readable only while it is
// visible; the view that drops it to zero still returns its payload.
type RecordStore struct {
	mu      sync.Mutex
	records map[string]*models.Record
	version uint64

	snapshots snapshotWriter
	tokens    *token.Generator
	now       func() time.Time
	logger    zerolog.Logger
}

type recordSnapshot struct {
	version uint64
	records map[string]models.Record
}

func NewRecordStore(backend Snapshotter, logger zerolog.Logger, opts ...Option) *RecordStore {
	o := buildOptions(opts)
	return &RecordStore{
		records:   make(map[string]*models.Record),
		snapshots: snapshotWriter{backend: backend},
		tokens:    o.tokens,
		now:       o.now,
		logger:    logger.With().Str("component", "record_store").Logger(),
	}
}

// Load replaces the in-memory contents with the persisted snapshot.
// Entries that cannot be decoded or carry an invalid payload are skipped. A
// snapshot that is not a JSON object at all is set aside before an error is
// returned, so the next write cannot replace it.
func (s *RecordStore) Load(ctx context.Context) error {
	data, err := s.snapshots.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading records snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		s.setAside(ctx)
		return fmt.Errorf("decoding records snapshot: %w", err)
	}

	records := make(map[string]*models.Record, len(stored))
	for tok, entry := range stored {
		var rec models.Record
		if err := json.Unmarshal(entry, &rec); err != nil {
			s.logger.Warn().Str("token", tok).Err(err).Msg("skipping undecodable record")
			continue
		}
		if err := rec.Payload.Validate(); err != nil {
			s.logger.Warn().Str("token", tok).Err(err).Msg("skipping stored record")
			continue
		}
		rec.Token = tok
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt, _ = token.Issued(tok)
		}
		records[tok] = &rec
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()

	recordsStored.Set(float64(len(records)))
	s.logger.Info().Int("records", len(records)).Int("skipped", len(stored)-len(records)).Msg("records snapshot loaded")
	return nil
}

func (s *RecordStore) setAside(ctx context.Context) {
	dest, err := s.snapshots.setAside(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("unreadable records snapshot kept in place, snapshot writes suspended")
		return
	}
	s.logger.Warn().Str("moved_to", dest).Msg("unreadable records snapshot set aside")
}

// Insert stores rec and returns its token. An empty rec.Token is minted here
// and re-minted on collision; a caller-chosen token that is already taken
// fails with ErrDuplicateToken.
func (s *RecordStore) Insert(ctx context.Context, rec *models.Record) (string, error) {
	if err := rec.Payload.Validate(); err != nil {
		return "", err
	}

	stored := *rec
	minted := stored.Token == ""

	s.mu.Lock()
	for attempt := 1; ; attempt++ {
		if minted {
			stored.Token = s.tokens.Next()
		}
		if _, exists := s.records[stored.Token]; !exists {
			break
		}
		if !minted || attempt >= maxTokenAttempts {
			s.mu.Unlock()
			s.logger.Error().Str("token", stored.Token).Msg("token collision on insert")
			return "", fmt.Errorf("%w: %s", ErrDuplicateToken, stored.Token)
		}
		tokenCollisions.Inc()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.records[stored.Token] = &stored
	s.version++
	snap := s.captureLocked()
	s.mu.Unlock()

	recordsInserted.Inc()
	s.persist(ctx, snap)

	s.logger.Debug().Str("token", stored.Token).Int64("owner", stored.Owner).Bool("file", stored.IsFile()).Msg("record inserted")

	return stored.Token, nil
}

// GetAndConsume returns a copy of the record as it was before this view,
// decrements its view budget and removes it once the budget is spent.
// Absent and no-longer-visible records yield ErrNotFound.
func (s *RecordStore) GetAndConsume(ctx context.Context, tok string) (models.Record, error) {
	s.mu.Lock()
	rec, ok := s.records[tok]
	if !ok || !rec.Visible(s.now()) {
		s.mu.Unlock()
		recordsConsumed.WithLabelValues("not_found").Inc()
		return models.Record{}, ErrNotFound
	}

	out := *rec
	rec.Views--
	deleted := rec.Views <= 0
	if deleted {
		delete(s.records, tok)
	}
	s.version++
	snap := s.captureLocked()
	s.mu.Unlock()

	recordsConsumed.WithLabelValues("ok").Inc()
	s.persist(ctx, snap)

	s.logger.Debug().Str("token", tok).Bool("deleted", deleted).Msg("record consumed")

	return out, nil
}

// ListByOwner returns the visible records submitted by owner, oldest first.
func (s *RecordStore) ListByOwner(owner int64) []models.Summary {
	s.mu.Lock()
	now := s.now()
	var out []models.Summary
	var created []time.Time
	for _, rec := range s.records {
		if rec.Owner != owner || !rec.Visible(now) {
			continue
		}
		out = append(out, rec.Summary())
		created = append(created, rec.CreatedAt)
	}
	s.mu.Unlock()

	sort.Sort(byCreation{out, created})
	return out
}

// RemoveExpired drops every record that is no longer visible and persists
// the result. It returns the number of records removed.
func (s *RecordStore) RemoveExpired(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var expired []string
	for tok, rec := range s.records {
		if !rec.Visible(now) {
			expired = append(expired, tok)
		}
	}
	for _, tok := range expired {
		delete(s.records, tok)
	}
	if len(expired) > 0 {
		s.version++
	}
	snap := s.captureLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return len(expired)
}

// Persist writes the current contents to the snapshot backend.
func (s *RecordStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	snap := s.captureLocked()
	s.mu.Unlock()

	return s.write(ctx, snap)
}

func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *RecordStore) captureLocked() recordSnapshot {
	records := make(map[string]models.Record, len(s.records))
	for tok, rec := range s.records {
		records[tok] = *rec
	}
	return recordSnapshot{version: s.version, records: records}
}

// persist is the best-effort write after a mutation; memory stays
// authoritative when it fails.
func (s *RecordStore) persist(ctx context.Context, snap recordSnapshot) {
	recordsStored.Set(float64(len(snap.records)))
	if err := s.write(ctx, snap); err != nil {
		snapshotFailures.WithLabelValues("records").Inc()
		s.logger.Error().Err(err).Uint64("version", snap.version).Msg("records snapshot write failed")
	}
}

func (s *RecordStore) write(ctx context.Context, snap recordSnapshot) error {
	data, err := json.MarshalIndent(snap.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding records snapshot: %w", err)
	}
	return s.snapshots.write(ctx, snap.version, data)
}

type byCreation struct {
	summaries []models.Summary
	created   []time.Time
}

func (b byCreation) Len() int { return len(b.summaries) }

func (b byCreation) Less(i, j int) bool {
	if !b.created[i].Equal(b.created[j]) {
		return b.created[i].Before(b.created[j])
	}
	return b.summaries[i].Token < b.summaries[j].Token
}

func (b byCreation) Swap(i, j int) {
	b.summaries[i], b.summaries[j] = b.summaries[j], b.summaries[i]
	b.created[i], b.created[j] = b.created[j], b.created[i]
}
