package store

import (
	"errors"
	"time"
)

// Store represents a backend store.
type Store interface {
	AddPremiere(p Premiere) error
	GetPremiere(id string) (Premiere, error)
	PremiereExists(id string) (bool, error)
	ListPremieres(limit int) ([]Premiere, error)

	AddSession(sessID, handle, name, premiereID string, ttl time.Duration) error
	GetSession(sessID, premiereID string) (Sess, error)
	RemoveSession(sessID, premiereID string) error

	AddMessage(m Message) error
	GetMessages(premiereID string, limit int) ([]Message, error)
}

// Premiere statuses derived from wall clock time.
const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusEnded     = "ended"
)

// Premiere represents one scheduled live event. It's created by the
// scheduling API before any viewer connects and is read-only from the
// sync subsystem's perspective.
type Premiere struct {
	ID        string        `json:"id"`
	MovieSlug string        `json:"movie_slug"`
	Title     string        `json:"title"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Status derives the premiere's state at the given instant. It is never
// persisted; every caller recomputes it.
func (p Premiere) Status(now time.Time) string {
	switch {
	case now.Before(p.StartTime):
		return StatusScheduled
	case now.Sub(p.StartTime) < p.Duration:
		return StatusLive
	default:
		return StatusEnded
	}
}

// Sess represents an anonymous viewer session in a premiere.
type Sess struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

// Message represents a single chat message in a premiere room. Timestamp
// is assigned server side at receipt. Messages are immutable once written.
type Message struct {
	PremiereID string    `json:"premiere_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrPremiereNotFound indicates that the requested premiere was not found.
var ErrPremiereNotFound = errors.New("premiere not found")
