package alerting

import (
	"context"
	"sort"
	"sync"
)

// StateStore persists the current alert per key
type StateStore interface {
	Get(ctx context.Context, key Key) (Alert, bool, error)
	Put(ctx context.Context, alert Alert) error
	// List returns the alerts of one SLO, or of every SLO when sloName is empty
	List(ctx context.Context, sloName string) ([]Alert, error)
	// Delete removes every alert of an SLO
	Delete(ctx context.Context, sloName string) error
	// DeleteKey removes a single alert
	DeleteKey(ctx context.Context, key Key) error
}

// Recorder receives every transition for the alert history
type Recorder interface {
	RecordTransition(t Transition) error
}

// MemoryStore is an in-process StateStore
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[Key]Alert
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[Key]Alert)}
}

// Get implements StateStore
func (s *MemoryStore) Get(ctx context.Context, key Key) (Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[key]
	return alert, ok, nil
}

// Put implements StateStore
func (s *MemoryStore) Put(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.Key()] = alert
	return nil
}

// List implements StateStore
func (s *MemoryStore) List(ctx context.Context, sloName string) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Alert
	for key, alert := range s.alerts {
		if sloName != "" && key.SLOName != sloName {
			continue
		}
		out = append(out, alert)
	}
	SortAlerts(out)
	return out, nil
}

// Delete implements StateStore
func (s *MemoryStore) Delete(ctx context.Context, sloName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.alerts {
		if key.SLOName == sloName {
			delete(s.alerts, key)
		}
	}
	return nil
}

// DeleteKey implements StateStore
func (s *MemoryStore) DeleteKey(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, key)
	return nil
}

// SortAlerts orders alerts by SLO name, then rule index
func SortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].SLOName != alerts[j].SLOName {
			return alerts[i].SLOName < alerts[j].SLOName
		}
		if alerts[i].RuleIndex != alerts[j].RuleIndex {
			return alerts[i].RuleIndex < alerts[j].RuleIndex
		}
		return alerts[i].RuleID < alerts[j].RuleID
	})
}
