// Package adapter defines the change-notification boundary.
//
// Adapters publish a ChangeEvent after each successful mutating operation
// so that downstream systems (sync daemons, dashboards, test harnesses) can
// react to origin file system changes without polling.
package adapter

import (
	"context"
	"time"
)

// EventTypeChanged is the EventType of every ChangeEvent.
const EventTypeChanged = "opfs_changed"

// ContractVersion is the payload version of ChangeEvent.
const ContractVersion = "1"

// ChangeEvent is the payload published after a mutating operation.
type ChangeEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "opfs_changed"
	Op              string `json:"op"`         // write, rename, move, create, delete
	Path            string `json:"path"`
	NewPath         string `json:"new_path,omitempty"` // rename and move only
	Kind            string `json:"kind,omitempty"`     // create only
	Atomic          *bool  `json:"atomic,omitempty"`   // rename and move only
	Origin          string `json:"origin,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	Timestamp       string `json:"timestamp"` // ISO 8601
}

// NewChangeEvent creates an event stamped with the current time.
func NewChangeEvent(op, path string) *ChangeEvent {
	return &ChangeEvent{
		ContractVersion: ContractVersion,
		EventType:       EventTypeChanged,
		Op:              op,
		Path:            path,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Adapter publishes change events to a downstream system.
type Adapter interface {
	// Publish sends a change event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ChangeEvent) error

	// Close releases adapter resources.
	Close() error
}
