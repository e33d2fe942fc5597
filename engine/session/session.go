// Package session manages session identifiers and the TTL lifecycle of a
// session's records. A session is not stored; it is the session_id shared by
// its chunk records, alive while any of them is unexpired.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/logbotai/logbot/engine/domain"
)

// DefaultTTL is how long ingested records stay visible.
const DefaultTTL = 24 * time.Hour

// NewID returns a fresh random session id. The id carries no information
// and is safe to hand to untrusted callers.
func NewID() string {
	return uuid.NewString()
}

// ExpiresAt returns the expiry for records written at now. A non-positive
// ttl means records never expire.
func ExpiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl).UTC()
	return &t
}

// State is the lifecycle state of a session.
type State int

const (
	// Unknown means no record of the session exists.
	Unknown State = iota
	// Active means at least one record is unexpired.
	Active
	// Expired means records exist but all have expired.
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lifecycle derives the state from a session's records.
func Lifecycle(recs []domain.ChunkRecord, now time.Time) State {
	if len(recs) == 0 {
		return Unknown
	}
	for _, r := range recs {
		if r.ActiveAt(now) {
			return Active
		}
	}
	return Expired
}

// StateFor derives the state from record counts.
func StateFor(c domain.SessionCounts) State {
	switch {
	case c.Active > 0:
		return Active
	case c.Expired > 0:
		return Expired
	default:
		return Unknown
	}
}

// Info summarizes a session for inspection.
type Info struct {
	ID      string `json:"session_id"`
	State   State  `json:"state"`
	Active  int    `json:"active_chunks"`
	Expired int    `json:"expired_chunks"`
}

// Inspect reports the session's state. Stores that implement
// domain.SessionCounter can tell expired sessions from unknown ones; for
// the rest only active records are visible, so an expired session reports
// Unknown.
func Inspect(ctx context.Context, store domain.Store, id string, now time.Time) (Info, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return Info{}, err
	}
	if counter, ok := store.(domain.SessionCounter); ok {
		c, err := counter.CountSession(ctx, id, now)
		if err != nil {
			return Info{}, fmt.Errorf("session: inspect %s: %w", id, err)
		}
		return Info{ID: id, State: StateFor(c), Active: c.Active, Expired: c.Expired}, nil
	}
	recs, err := store.Scan(ctx, id, now)
	if err != nil {
		return Info{}, fmt.Errorf("session: inspect %s: %w", id, err)
	}
	return Info{ID: id, State: Lifecycle(recs, now), Active: len(recs)}, nil
}
