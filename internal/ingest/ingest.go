// Package ingest turns inbound submissions into stored records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"grave.box/internal/blob"
	"grave.box/internal/models"
)

var (
	ErrTooLarge = errors.New("file exceeds the free-tier size limit")
	ErrUpload   = errors.New("file upload failed")
)

type Records interface {
	Insert(ctx context.Context, rec *models.Record) (string, error)
}

type Entitlements interface {
	IsEntitled(userID int64) bool
}

// Policy is applied to every submission.
type Policy struct {
	Views     int
	TTL       time.Duration
	SizeLimit int64 // free tier, bytes
}

// File is an inbound file whose size is known before its body is read.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

type Adapter struct {
	records      Records
	entitlements Entitlements
	uploader     blob.Uploader
	policy       Policy
	now          func() time.Time
	logger       zerolog.Logger
}

func New(records Records, entitlements Entitlements, uploader blob.Uploader, policy Policy, logger zerolog.Logger) *Adapter {
	return &Adapter{
		records:      records,
		entitlements: entitlements,
		uploader:     uploader,
		policy:       policy,
		now:          time.Now,
		logger:       logger.With().Str("component", "ingest").Logger(),
	}
}

func (a *Adapter) Policy() Policy {
	return a.policy
}

func (a *Adapter) SubmitText(ctx context.Context, owner int64, text string) (string, error) {
	return a.insert(ctx, owner, models.TextPayload(text))
}

// SubmitFileReference records content that already lives in blob storage.
func (a *Adapter) SubmitFileReference(ctx context.Context, owner int64, url, name string, size int64, entitled bool) (string, error) {
	if err := a.checkSize(size, entitled); err != nil {
		return "", err
	}
	return a.insert(ctx, owner, models.FilePayload(url, name))
}

// SubmitFile checks the size limit, uploads the body and records the
// resulting link. Nothing is uploaded for a submission that would be
// rejected.
func (a *Adapter) SubmitFile(ctx context.Context, owner int64, f File) (string, error) {
	entitled := a.entitlements.IsEntitled(owner)
	if err := a.checkSize(f.Size, entitled); err != nil {
		return "", err
	}

	link, err := a.uploader.Upload(ctx, f.Name, f.Size, f.ContentType, f.Body)
	if err != nil {
		a.logger.Warn().Err(err).Int64("owner", owner).Int64("size", f.Size).Msg("upload failed")
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	return a.SubmitFileReference(ctx, owner, link, f.Name, f.Size, entitled)
}

func (a *Adapter) checkSize(size int64, entitled bool) error {
	if !entitled && size > a.policy.SizeLimit {
		return ErrTooLarge
	}
	return nil
}

func (a *Adapter) insert(ctx context.Context, owner int64, payload models.Payload) (string, error) {
	now := a.now().UTC()
	rec := &models.Record{
		Owner:     owner,
		Payload:   payload,
		Views:     a.policy.Views,
		ExpiresAt: now.Add(a.policy.TTL),
		CreatedAt: now,
	}

	tok, err := a.records.Insert(ctx, rec)
	if err != nil {
		return "", err
	}

	a.logger.Info().
		Str("token", tok).
		Int64("owner", owner).
		Bool("file", payload.IsFile()).
		Time("expires_at", rec.ExpiresAt).
		Msg("submission stored")

	return tok, nil
}
