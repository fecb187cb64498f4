package models

import (
	"errors"
	"time"
)

// ErrInvalidPayload is returned when a payload carries both or neither of
// inline text and a file reference.
var ErrInvalidPayload = errors.New("payload must hold exactly one of text or file reference")

// DefaultFilename is shown when a file arrives without a display name.
const DefaultFilename = "Uploaded File"

// Payload is either inline text or a reference to externally stored content.
type Payload struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func TextPayload(text string) Payload {
	return Payload{Text: text}
}

func FilePayload(url, filename string) Payload {
	if filename == "" {
		filename = DefaultFilename
	}
	return Payload{URL: url, Filename: filename}
}

func (p Payload) IsFile() bool {
	return p.URL != ""
}

func (p Payload) Validate() error {
	hasText := p.Text != ""
	hasFile := p.URL != ""
	if hasText == hasFile {
		return ErrInvalidPayload
	}
	return nil
}

type Record struct {
	Token     string    `json:"-"`
	Owner     int64     `json:"uploader"`
	Payload             // text | url + filename
	Views     int       `json:"views"`
	ExpiresAt time.Time `json:"expiry"`
	CreatedAt time.Time `json:"created_at"`
}

// Visible reports whether the record may be returned to a reader at now.
// A record that is not visible is eligible for reaping.
func (r *Record) Visible(now time.Time) bool {
	return r.Views >= 1 && now.Before(r.ExpiresAt)
}

// Summary is the owner-facing view of a record, without its payload.
type Summary struct {
	Token     string    `json:"token"`
	Views     int       `json:"views"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *Record) Summary() Summary {
	return Summary{Token: r.Token, Views: r.Views, ExpiresAt: r.ExpiresAt}
}
