package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps records in process memory. It backs tests and
// single-instance deployments that accept losing usage history on restart.
type MemoryLedger struct {
	mu       sync.RWMutex
	records  []UsageRecord
	byCaller map[string][]int
	seen     map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byCaller: make(map[string][]int),
		seen:     make(map[string]struct{}),
	}
}

func (m *MemoryLedger) Append(_ context.Context, record UsageRecord) error {
	if err := record.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[record.ID]; dup {
		return nil
	}
	m.seen[record.ID] = struct{}{}
	m.records = append(m.records, record)
	m.byCaller[record.CallerID] = append(m.byCaller[record.CallerID], len(m.records)-1)
	return nil
}

func (m *MemoryLedger) CallerTotal(_ context.Context, callerID string, since time.Time) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totals Totals
	for _, idx := range m.byCaller[callerID] {
		if r := m.records[idx]; !r.Timestamp.Before(since) {
			totals = totals.Add(r.Units, r.Cost)
		}
	}
	return totals, nil
}

func (m *MemoryLedger) GlobalTotal(_ context.Context, since time.Time) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totals Totals
	for _, r := range m.records {
		if !r.Timestamp.Before(since) {
			totals = totals.Add(r.Units, r.Cost)
		}
	}
	return totals, nil
}

func (m *MemoryLedger) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]UsageRecord, 0, len(m.records))
	for _, r := range m.records {
		if r.Timestamp.Before(before) {
			delete(m.seen, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	removed := int64(len(m.records) - len(kept))

	m.records = kept
	m.byCaller = make(map[string][]int, len(m.byCaller))
	for i, r := range kept {
		m.byCaller[r.CallerID] = append(m.byCaller[r.CallerID], i)
	}
	return removed, nil
}

// Len returns the number of stored records
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryLedger) Close() error {
	return nil
}
