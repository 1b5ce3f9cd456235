package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/samijaber1/aegis-budget/internal/alerting"
	"github.com/samijaber1/aegis-budget/internal/budget"
)

// Status is the latest evaluation outcome of one SLO
type Status struct {
	SLOName string           `json:"slo"`
	Budget  *budget.State    `json:"budget,omitempty"`
	Alerts  []alerting.Alert `json:"alerts"`
	// LastError is empty when the last tick evaluated everything
	LastError string `json:"lastError,omitempty"`
	NoData    bool   `json:"noData"`
	// Degraded is set when the last tick hit evaluation or no-data errors
	Degraded      bool          `json:"degraded"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	LastSuccessAt time.Time     `json:"lastSuccessAt,omitzero"`
	Interval      time.Duration `json:"-"`
}

// IsStale reports whether the budget has not been computed within two intervals
func (s *Status) IsStale(now time.Time) bool {
	if s.LastSuccessAt.IsZero() {
		return true
	}
	return now.Sub(s.LastSuccessAt) > 2*s.Interval
}

// StatusCache is a thread-safe cache for SLO statuses
type StatusCache struct {
	mu       sync.RWMutex
	statuses map[string]*Status
}

// NewStatusCache creates a new status cache
func NewStatusCache() *StatusCache {
	return &StatusCache{
		statuses: make(map[string]*Status),
	}
}

// Get retrieves a copy of the cached status of an SLO
func (c *StatusCache) Get(sloName string) (*Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, exists := c.statuses[sloName]
	if !exists {
		return nil, false
	}
	cp := *status
	return &cp, true
}

// Set stores the status of an SLO
func (c *StatusCache) Set(sloName string, status *Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[sloName] = status
}

// GetAll returns copies of all cached statuses sorted by SLO name
func (c *StatusCache) GetAll() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SLOName < all[j].SLOName })
	return all
}

// Delete removes a cached status
func (c *StatusCache) Delete(sloName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.statuses, sloName)
}

// Size returns the number of cached statuses
func (c *StatusCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.statuses)
}
