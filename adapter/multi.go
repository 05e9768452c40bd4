package adapter

import (
	"context"
	"errors"
)

// Multi publishes each event to every adapter in order. A failing adapter
// does not prevent delivery to the rest; all failures are joined.
type Multi []Adapter

// Publish sends the event to every adapter.
func (m Multi) Publish(ctx context.Context, event *ChangeEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
