package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// MemoryArchive is the non-durable archive used when Influx is not configured.
type MemoryArchive struct {
	mu       sync.Mutex
	readings []messages.LogRecord
	entries  []messages.LogRecord
	SaveErr  error
}

func NewMemoryArchive() *MemoryArchive { return &MemoryArchive{} }

func (m *MemoryArchive) Enqueue(rec messages.LogRecord) {
	m.mu.Lock()
	m.entries = append(m.entries, rec)
	m.mu.Unlock()
}

func (m *MemoryArchive) Save(_ context.Context, rec messages.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.readings = append(m.readings, rec)
	return nil
}

// Range always fails: without a durable store the engine's logsheet is authoritative.
func (m *MemoryArchive) Range(context.Context, time.Time, time.Time) ([]messages.LogEntry, error) {
	return nil, ErrArchiveUnavailable
}

func (m *MemoryArchive) Readings() []messages.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]messages.LogRecord, len(m.readings))
	copy(out, m.readings)
	return out
}

// Entries returns the enqueued log records ordered by timestamp.
func (m *MemoryArchive) Entries() []messages.LogRecord {
	m.mu.Lock()
	out := make([]messages.LogRecord, len(m.entries))
	copy(out, m.entries)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *MemoryArchive) LastErrorAge() time.Duration { return 24 * time.Hour }

func (m *MemoryArchive) Durable() bool { return false }
