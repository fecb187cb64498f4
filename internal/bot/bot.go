// Package bot maps chat events to store operations and renders the replies.
//
// Every error raised while serving an event is turned into a reply here;
// nothing below this boundary talks to the user directly.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grave.box/internal/ingest"
	"grave.box/internal/models"
	"grave.box/internal/store"
)

var ErrUnauthorized = errors.New("not authorized")

// usageError carries the usage line of a command called with bad arguments.
type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

const (
	usageGet        = "/get <file_id>"
	usageAddPremium = "/addpremium <user_id> <days>"
	expiryLayout    = "2006-01-02T15:04"
)

// Reply is what the transport sends back to the user.
type Reply struct {
	Text     string `json:"text"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

type Records interface {
	GetAndConsume(ctx context.Context, token string) (models.Record, error)
	ListByOwner(owner int64) []models.Summary
}

type Entitlements interface {
	Grant(ctx context.Context, userID int64, d time.Duration) models.Entitlement
}

type Ingester interface {
	SubmitText(ctx context.Context, owner int64, text string) (string, error)
	SubmitFile(ctx context.Context, owner int64, f ingest.File) (string, error)
}

type Options struct {
	OperatorID int64
	SizeLimit  int64
	TTL        time.Duration
}

type Bot struct {
	records      Records
	entitlements Entitlements
	ingest       Ingester
	opts         Options
	logger       zerolog.Logger
}

func New(records Records, entitlements Entitlements, ingester Ingester, opts Options, logger zerolog.Logger) *Bot {
	return &Bot{
		records:      records,
		entitlements: entitlements,
		ingest:       ingester,
		opts:         opts,
		logger:       logger.With().Str("component", "bot").Logger(),
	}
}

// Command serves a slash command. name may carry the leading slash and a
// @botname suffix.
func (b *Bot) Command(ctx context.Context, userID int64, name string, args []string) Reply {
	name = strings.TrimPrefix(name, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	var (
		reply Reply
		err   error
	)
	switch strings.ToLower(name) {
	case "start":
		reply = b.start()
	case "upload":
		reply = Reply{Text: "📤 Now send a file or a text message."}
	case "get":
		reply, err = b.get(ctx, args)
	case "myfiles":
		reply = b.myFiles(userID)
	case "addpremium":
		reply, err = b.addPremium(ctx, userID, args)
	default:
		reply = Reply{Text: "Unknown command. Try /start, /upload, /get <file_id> or /myfiles."}
	}

	if err != nil {
		return b.replyForError(userID, err)
	}
	return reply
}

// Text stores a plain text message.
func (b *Bot) Text(ctx context.Context, userID int64, text string) Reply {
	tok, err := b.ingest.SubmitText(ctx, userID, text)
	if err != nil {
		return b.replyForError(userID, err)
	}
	return Reply{Text: fmt.Sprintf("✅ Text saved.\nUse /get %s to retrieve it.", tok)}
}

// File uploads and stores a file message.
func (b *Bot) File(ctx context.Context, userID int64, f ingest.File) Reply {
	tok, err := b.ingest.SubmitFile(ctx, userID, f)
	if err != nil {
		return b.replyForError(userID, err)
	}
	return Reply{Text: fmt.Sprintf("✅ File uploaded.\nUse /get %s to access it.", tok)}
}

func (b *Bot) start() Reply {
	return Reply{Text: fmt.Sprintf(
		"👻 Welcome to GraveBox!\n"+
			"Send a file or text, and I'll store it anonymously.\n"+
			"Use /upload to start.\n"+
			"Free users can upload files up to %s with %s expiry.",
		formatSize(b.opts.SizeLimit), formatTTL(b.opts.TTL),
	)}
}

func (b *Bot) get(ctx context.Context, args []string) (Reply, error) {
	if len(args) == 0 || args[0] == "" {
		return Reply{}, usageError(usageGet)
	}

	rec, err := b.records.GetAndConsume(ctx, args[0])
	if err != nil {
		return Reply{}, err
	}

	if rec.IsFile() {
		return Reply{
			Text:     "📎 File: " + rec.URL,
			FileURL:  rec.URL,
			FileName: rec.Filename,
		}, nil
	}
	return Reply{Text: rec.Text}, nil
}

func (b *Bot) myFiles(userID int64) Reply {
	summaries := b.records.ListByOwner(userID)
	if len(summaries) == 0 {
		return Reply{Text: "📭 No active files found."}
	}

	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("ID: %s, Views Left: %d, Expires: %s",
			s.Token, s.Views, s.ExpiresAt.UTC().Format(expiryLayout)))
	}
	return Reply{Text: strings.Join(lines, "\n")}
}

func (b *Bot) addPremium(ctx context.Context, userID int64, args []string) (Reply, error) {
	if userID != b.opts.OperatorID {
		return Reply{}, ErrUnauthorized
	}
	if len(args) != 2 {
		return Reply{}, usageError(usageAddPremium)
	}

	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Reply{}, usageError(usageAddPremium)
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days < 1 {
		return Reply{}, usageError(usageAddPremium)
	}

	e := b.entitlements.Grant(ctx, target, time.Duration(days)*24*time.Hour)
	b.logger.Info().
		Int64("operator", userID).
		Int64("user", target).
		Time("expires_at", e.ExpiresAt).
		Msg("entitlement granted")

	return Reply{Text: fmt.Sprintf("✅ User %d upgraded to premium for %d days.", target, days)}, nil
}

func (b *Bot) replyForError(userID int64, err error) Reply {
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return Reply{Text: "Usage: " + string(usage)}
	case errors.Is(err, store.ErrNotFound):
		return Reply{Text: "⚠️ File not found or expired."}
	case errors.Is(err, ErrUnauthorized):
		b.logger.Warn().Int64("user", userID).Msg("privileged command refused")
		return Reply{Text: "⛔ You're not authorized."}
	case errors.Is(err, ingest.ErrTooLarge):
		return Reply{Text: fmt.Sprintf("❌ File too large. Free users are limited to %s.", formatSize(b.opts.SizeLimit))}
	case errors.Is(err, ingest.ErrUpload):
		return Reply{Text: "❌ Upload failed. Please try again later."}
	case errors.Is(err, models.ErrInvalidPayload):
		return Reply{Text: "⚠️ Nothing to store."}
	default:
		b.logger.Error().Err(err).Int64("user", userID).Msg("request failed")
		return Reply{Text: "❌ Something went wrong. Please try again."}
	}
}

func formatSize(n int64) string {
	switch {
	case n >= 1_000_000 && n%1_000_000 == 0:
		return fmt.Sprintf("%dMB", n/1_000_000)
	case n >= 1_000 && n%1_000 == 0:
		return fmt.Sprintf("%dKB", n/1_000)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func formatTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d-hour", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d-minute", d/time.Minute)
	default:
		return d.String()
	}
}
