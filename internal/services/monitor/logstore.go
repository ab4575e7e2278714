package monitor

import (
	"sort"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// DefaultLogInterval is the minimum spacing between logsheet entries.
const DefaultLogInterval = 30 * time.Minute

// LogStore is the append-only logsheet. Entries are at least interval apart.
// It has no retention bound.
type LogStore struct {
	interval    time.Duration
	entries     []messages.LogEntry
	lastLogTime time.Time
}

func NewLogStore(interval time.Duration) *LogStore {
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	return &LogStore{interval: interval}
}

// MaybeAppend records the pair if at least one interval has passed since the last entry.
// The first call on an empty store always appends.
func (s *LogStore) MaybeAppend(p messages.SamplePair, now time.Time) (messages.LogEntry, bool) {
	if !s.lastLogTime.IsZero() && now.Sub(s.lastLogTime) < s.interval {
		return messages.LogEntry{}, false
	}
	e := messages.EntryFromPair(p, now)
	s.entries = append(s.entries, e)
	s.lastLogTime = now
	return e, true
}

// Seed loads historical entries. Entries closer than the interval to the
// previously kept one are dropped.
func (s *LogStore) Seed(entries []messages.LogEntry) int {
	sorted := make([]messages.LogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	kept := 0
	for _, e := range sorted {
		if !s.lastLogTime.IsZero() && e.Timestamp.Sub(s.lastLogTime) < s.interval {
			continue
		}
		s.entries = append(s.entries, e)
		s.lastLogTime = e.Timestamp
		kept++
	}
	return kept
}

// MergeHistory puts archived rows after the synthetic ones. Synthetic rows closer
// than interval to the first archived row are dropped, so the archived rows survive Seed.
func MergeHistory(synthetic, archived []messages.LogEntry, interval time.Duration) []messages.LogEntry {
	if len(archived) == 0 {
		return synthetic
	}
	first := archived[0].Timestamp
	for _, e := range archived[1:] {
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
	}
	out := make([]messages.LogEntry, 0, len(synthetic)+len(archived))
	for _, e := range synthetic {
		if first.Sub(e.Timestamp) >= interval {
			out = append(out, e)
		}
	}
	return append(out, archived...)
}

func (s *LogStore) Len() int { return len(s.entries) }

func (s *LogStore) LastLogTime() time.Time { return s.lastLogTime }

// Entries returns a copy of the whole logsheet, oldest first.
func (s *LogStore) Entries() []messages.LogEntry {
	out := make([]messages.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Range returns entries with from <= timestamp <= to, oldest first.
func (s *LogStore) Range(from, to time.Time) []messages.LogEntry {
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Timestamp.Before(from) })
	var out []messages.LogEntry
	for ; i < len(s.entries); i++ {
		if s.entries[i].Timestamp.After(to) {
			break
		}
		out = append(out, s.entries[i])
	}
	return out
}

// DayBounds expands a date range to [start-of-day(from), end-of-day(to)] in loc.
func DayBounds(from, to time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	f := from.In(loc)
	t := to.In(loc)
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	end := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), loc)
	return start, end
}
