package models

import "time"

// Entitlement lifts the free-tier size limit for a user until ExpiresAt.
type Entitlement struct {
	UserID    int64     `json:"-"`
	ExpiresAt time.Time `json:"expires"`
}

func (e Entitlement) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
