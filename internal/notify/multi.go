package notify

import (
	"context"
	"errors"
)

// Multi delivers every event to all notifiers, even when some fail
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
