// Package activity keeps a short, newest-first log of operator actions for
// display. Entries summarize what was sent; results are never replayed.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit bounds how many entries a log retains.
const DefaultLimit = 50

// Entry summarizes one executed action.
type Entry struct {
	ID      string    `json:"id"`
	Action  string    `json:"action"`
	Count   int       `json:"count"`
	Status  int       `json:"status"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

// NewEntry stamps an entry with a fresh id and the current time.
func NewEntry(action string, count, status int, success bool) Entry {
	return Entry{
		ID:      uuid.NewString(),
		Action:  action,
		Count:   count,
		Status:  status,
		Success: success,
		At:      time.Now().UTC(),
	}
}

// Log stores recent entries. Implementations are safe for concurrent use.
type Log interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close(ctx context.Context) error
}
