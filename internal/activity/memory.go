package activity

import (
	"context"
	"sync"
)

type memoryLog struct {
	limit int

	mu      sync.RWMutex
	entries []Entry
}

// NewMemory returns an in-process log holding at most limit entries.
func NewMemory(limit int) Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &memoryLog{limit: limit, entries: make([]Entry, 0, limit)}
}

func (l *memoryLog) Append(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
	return nil
}

func (l *memoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, limit)
	copy(out, l.entries[:limit])
	return out, nil
}

func (l *memoryLog) Close(context.Context) error {
	return nil
}
