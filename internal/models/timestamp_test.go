package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2099, 1, 1, 0, 0, 0, 123456000, time.UTC)

	tests := map[string]time.Time{
		"2099-01-01T00:00:00.123456":       want,
		"2099-01-01T00:00:00":              want.Truncate(time.Second),
		"2099-01-01 00:00:00.123456":       want,
		"2099-01-01T00:00:00.123456Z":      want,
		"2099-01-01T02:00:00.123456+02:00": want,
	}
	for in, expected := range tests {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, expected.Equal(got), "%s: got %s", in, got)
		assert.Equal(t, time.UTC, got.Location(), in)
	}

	_, err := ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("next tuesday")
	assert.Error(t, err)
}

func TestRecordDecodesNaiveTimestamps(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(
		`{"uploader": 1, "url": "https://gofile.io/d/x", "filename": "a.pdf", "views": 1, "expiry": "2099-01-01T00:00:00.123456"}`,
	), &rec))

	assert.Equal(t, int64(1), rec.Owner)
	assert.Equal(t, "https://gofile.io/d/x", rec.URL)
	assert.Equal(t, "a.pdf", rec.Filename)
	assert.Equal(t, 1, rec.Views)
	assert.Equal(t, time.Date(2099, 1, 1, 0, 0, 0, 123456000, time.UTC), rec.ExpiresAt)
	assert.True(t, rec.CreatedAt.IsZero())
}

func TestRecordDecodeRejectsBadExpiry(t *testing.T) {
	var rec Record
	assert.ErrorContains(t, json.Unmarshal([]byte(`{"uploader": 1, "text": "x", "views": 1}`), &rec), "expiry")
	assert.ErrorContains(t, json.Unmarshal([]byte(`{"uploader": 1, "text": "x", "views": 1, "expiry": "soon"}`), &rec), "expiry")
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := Record{
		Owner:     5,
		Payload:   TextPayload("hi"),
		Views:     2,
		ExpiresAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestEntitlementDecodesNaiveTimestamp(t *testing.T) {
	var e Entitlement
	require.NoError(t, json.Unmarshal([]byte(`{"expires": "2099-03-04T05:06:07.000001"}`), &e))
	assert.Equal(t, time.Date(2099, 3, 4, 5, 6, 7, 1000, time.UTC), e.ExpiresAt)
}
