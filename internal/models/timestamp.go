package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshots written by earlier deployments carry naive ISO-8601 timestamps
// in UTC, with or without fractional seconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 timestamps. The
// latter are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Owner int64 `json:"uploader"`
		Payload
		Views     int    `json:"views"`
		ExpiresAt string `json:"expiry"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	expires, err := ParseTimestamp(raw.ExpiresAt)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	var created time.Time
	if raw.CreatedAt != "" {
		if created, err = ParseTimestamp(raw.CreatedAt); err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
	}

	*r = Record{
		Token:     r.Token,
		Owner:     raw.Owner,
		Payload:   raw.Payload,
		Views:     raw.Views,
		ExpiresAt: expires,
		CreatedAt: created,
	}
	return nil
}

func (e *Entitlement) UnmarshalJSON(data []byte) error {
	var raw struct {
		ExpiresAt string `json:"expires"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	expires, err := ParseTimestamp(raw.ExpiresAt)
	if err != nil {
		return fmt.Errorf("expires: %w", err)
	}
	e.ExpiresAt = expires
	return nil
}
