package journal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps records in process. Used by dry runs and as the index behind
// the file sinks.
type Memory struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
	closed  bool
}

// NewMemory returns an empty journal.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// Append stores rec unless its id is already present.
func (m *Memory) Append(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.add(rec), nil
}

func (m *Memory) add(rec Record) bool {
	if _, dup := m.ids[rec.ID]; dup {
		return false
	}
	m.ids[rec.ID] = struct{}{}
	m.records = append(m.records, rec)
	return true
}

func (m *Memory) has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[id]
	return ok
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Recent returns up to limit records, newest evaluation first.
func (m *Memory) Recent(_ context.Context, instrument string, limit int) ([]Record, error) {
	out := m.filter(instrument, func(Record) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Between returns records with from <= Time < to, oldest first.
func (m *Memory) Between(_ context.Context, instrument string, from, to time.Time) ([]Record, error) {
	out := m.filter(instrument, func(r Record) bool {
		return !r.Time.Before(from) && r.Time.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *Memory) filter(instrument string, keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if instrument != "" && !strings.EqualFold(r.Instrument, instrument) {
			continue
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Close marks the journal closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Sink = (*Memory)(nil)
