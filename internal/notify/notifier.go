package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert states carried by events
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Event is one alert transition handed to a notification transport
type Event struct {
	ID          uuid.UUID `json:"id"`
	SLOName     string    `json:"slo"`
	Service     string    `json:"service,omitempty"`
	RuleID      string    `json:"rule"`
	Severity    string    `json:"severity"`
	State       string    `json:"state"`
	ShortWindow string    `json:"shortWindow"`
	LongWindow  string    `json:"longWindow"`
	ShortBurn   float64   `json:"shortBurn"`
	LongBurn    float64   `json:"longBurn"`
	Multiplier  float64   `json:"multiplier"`
	FiredAt     time.Time `json:"firedAt,omitzero"`
	ResolvedAt  time.Time `json:"resolvedAt,omitzero"`
}

// NewEventID returns a random event identifier
func NewEventID() uuid.UUID {
	return uuid.New()
}

// Summary renders the event as a single human readable line
func (e Event) Summary() string {
	switch e.State {
	case StateResolved:
		return fmt.Sprintf("[RESOLVED] %s %s: burn rate back under %gx (%s=%.2fx, %s=%.2fx)",
			e.Severity, e.SLOName, e.Multiplier, e.ShortWindow, e.ShortBurn, e.LongWindow, e.LongBurn)
	default:
		return fmt.Sprintf("[FIRING] %s %s: burning error budget at %.2fx over %s and %.2fx over %s (threshold %gx)",
			e.Severity, e.SLOName, e.ShortBurn, e.ShortWindow, e.LongBurn, e.LongWindow, e.Multiplier)
	}
}

// Notifier delivers alert events. Retries are the implementation's concern.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event Event) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// DeliveryError reports a notification that could not be delivered
type DeliveryError struct {
	Notifier string
	EventID  uuid.UUID
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: delivery of event %s failed after %d attempt(s): %v", e.Notifier, e.EventID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
