//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// HostKind selects the evaluation host.
type HostKind string

// Supported hosts.
const (
	// HostCDP drives Chromium over the DevTools protocol (promise style).
	HostCDP HostKind = "cdp"
	// HostAgent drives an in-page agent over a WebSocket (callback style).
	HostAgent HostKind = "agent"
)

// ParseHostKind parses a host name. Empty selects HostCDP.
func ParseHostKind(s string) (HostKind, error) {
	switch s {
	case "", "cdp":
		return HostCDP, nil
	case "agent":
		return HostAgent, nil
	default:
		return "", fmt.Errorf("invalid host %q (must be cdp or agent)", s)
	}
}

// SessionMeta identifies one inspector session. Every log entry carries it.
type SessionMeta struct {
	// SessionID is unique per process invocation.
	SessionID string
	// Host is the evaluation host in use.
	Host HostKind
	// Origin is the inspected page's origin, once known.
	Origin string
}

// Validate checks that the session has an identity and a known host.
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if _, err := ParseHostKind(string(m.Host)); err != nil {
		return err
	}
	return nil
}
