package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grave.box/internal/ingest"
	"grave.box/internal/store"
)

const (
	operatorID = 100
	mb         = 1_000_000
)

type nopSnapshotter struct{}

func (nopSnapshotter) Save(ctx context.Context, data []byte) error { return nil }
func (nopSnapshotter) Load(ctx context.Context) ([]byte, error)    { return nil, nil }

type stubUploader struct {
	calls int
	err   error
}

func (s *stubUploader) Upload(ctx context.Context, name string, size int64, contentType string, body io.Reader) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "https://blob.example/" + name, nil
}

type harness struct {
	bot      *Bot
	records  *store.RecordStore
	uploader *stubUploader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	records := store.NewRecordStore(nopSnapshotter{}, zerolog.Nop())
	entitlements := store.NewEntitlementStore(nopSnapshotter{}, zerolog.Nop())
	uploader := &stubUploader{}
	policy := ingest.Policy{Views: 1, TTL: time.Hour, SizeLimit: 10 * mb}
	adapter := ingest.New(records, entitlements, uploader, policy, zerolog.Nop())

	b := New(records, entitlements, adapter, Options{
		OperatorID: operatorID,
		SizeLimit:  policy.SizeLimit,
		TTL:        policy.TTL,
	}, zerolog.Nop())

	return &harness{bot: b, records: records, uploader: uploader}
}

func tokenFrom(t *testing.T, reply Reply) string {
	t.Helper()
	_, after, ok := strings.Cut(reply.Text, "/get ")
	require.True(t, ok, "reply carries a token: %q", reply.Text)
	return strings.Fields(after)[0]
}

func TestStartMentionsLimits(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Command(context.Background(), 1, "/start", nil)
	assert.Contains(t, reply.Text, "10MB")
	assert.Contains(t, reply.Text, "1-hour")
}

func TestUploadIsInformational(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Command(context.Background(), 1, "upload", nil)
	assert.Contains(t, reply.Text, "send a file or a text")
}

func TestTextRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	saved := h.bot.Text(ctx, 1, "hello")
	tok := tokenFrom(t, saved)

	got := h.bot.Command(ctx, 2, "get", []string{tok})
	assert.Equal(t, "hello", got.Text)
	assert.Empty(t, got.FileURL)
	assert.Equal(t, 0, h.records.Len())

	again := h.bot.Command(ctx, 2, "get", []string{tok})
	assert.Equal(t, "⚠️ File not found or expired.", again.Text)
}

func TestGetUsage(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Command(context.Background(), 1, "get", nil)
	assert.Equal(t, "Usage: /get <file_id>", reply.Text)
}

func TestGetFileReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	saved := h.bot.File(ctx, 1, ingest.File{Name: "a.pdf", Size: 100, Body: strings.NewReader("x")})
	tok := tokenFrom(t, saved)
	assert.True(t, strings.HasPrefix(saved.Text, "✅ File uploaded."))

	got := h.bot.Command(ctx, 1, "/get@GraveBoxBot", []string{tok})
	assert.Equal(t, "📎 File: https://blob.example/a.pdf", got.Text)
	assert.Equal(t, "https://blob.example/a.pdf", got.FileURL)
	assert.Equal(t, "a.pdf", got.FileName)
}

func TestMyFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	empty := h.bot.Command(ctx, 1, "myfiles", nil)
	assert.Equal(t, "📭 No active files found.", empty.Text)

	mine := tokenFrom(t, h.bot.Text(ctx, 1, "mine"))
	theirs := tokenFrom(t, h.bot.Text(ctx, 2, "theirs"))

	list := h.bot.Command(ctx, 1, "myfiles", nil)
	assert.Contains(t, list.Text, "ID: "+mine+", Views Left: 1, Expires: ")
	assert.NotContains(t, list.Text, theirs)
}

func TestAddPremiumScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	denied := h.bot.Command(ctx, 2, "addpremium", []string{"2", "1"})
	assert.Equal(t, "⛔ You're not authorized.", denied.Text)

	big := ingest.File{Name: "big.bin", Size: 50 * mb, Body: strings.NewReader("x")}
	tooLarge := h.bot.File(ctx, 2, big)
	assert.Equal(t, "❌ File too large. Free users are limited to 10MB.", tooLarge.Text)
	assert.Equal(t, 0, h.uploader.calls)

	granted := h.bot.Command(ctx, operatorID, "addpremium", []string{"2", "1"})
	assert.Equal(t, "✅ User 2 upgraded to premium for 1 days.", granted.Text)

	accepted := h.bot.File(ctx, 2, big)
	assert.True(t, strings.HasPrefix(accepted.Text, "✅ File uploaded."), accepted.Text)
	assert.Equal(t, 1, h.uploader.calls)
}

func TestAddPremiumUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, args := range [][]string{nil, {"2"}, {"x", "1"}, {"2", "zero"}, {"2", "0"}, {"2", "1", "3"}} {
		reply := h.bot.Command(ctx, operatorID, "addpremium", args)
		assert.Equal(t, "Usage: /addpremium <user_id> <days>", reply.Text, "%v", args)
	}
}

func TestUploadFailureReply(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = errors.New("unreachable")

	reply := h.bot.File(context.Background(), 1, ingest.File{Name: "a", Size: 1, Body: strings.NewReader("x")})
	assert.Equal(t, "❌ Upload failed. Please try again later.", reply.Text)
}

func TestEmptyTextReply(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Text(context.Background(), 1, "")
	assert.Equal(t, "⚠️ Nothing to store.", reply.Text)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Command(context.Background(), 1, "/nope", nil)
	assert.Contains(t, reply.Text, "Unknown command")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "10MB", formatSize(10_000_000))
	assert.Equal(t, "512KB", formatSize(512_000))
	assert.Equal(t, "1234 bytes", formatSize(1234))

	assert.Equal(t, "1-hour", formatTTL(time.Hour))
	assert.Equal(t, "30-minute", formatTTL(30*time.Minute))
	assert.Equal(t, "45s", formatTTL(45*time.Second))
}
