package bridge

import "time"

// Profile sets the poll cadence and tolerance for one kind of host.
// PollInterval × MaxAttempts approximates the wall-clock timeout.
type Profile struct {
	Name         string
	PollInterval time.Duration
	MaxAttempts  int
	// PollRetries is how many consecutive failed polls are tolerated
	// before the failure is surfaced.
	PollRetries  int
	RetryBackoff time.Duration
}

// Timeout returns the approximate wall-clock budget of the poll loop.
func (p Profile) Timeout() time.Duration {
	return p.PollInterval * time.Duration(p.MaxAttempts)
}

// Built-in profiles.
var (
	// FastProfile suits hosts with a cheap, direct evaluation round trip.
	FastProfile = Profile{
		Name:         "fast",
		PollInterval: 100 * time.Millisecond,
		MaxAttempts:  30,
		PollRetries:  2,
		RetryBackoff: 100 * time.Millisecond,
	}

	// SlowProfile suits relayed hosts where each evaluation is expensive
	// and transient failures are more common.
	SlowProfile = Profile{
		Name:         "slow",
		PollInterval: 250 * time.Millisecond,
		MaxAttempts:  120,
		PollRetries:  5,
		RetryBackoff: 250 * time.Millisecond,
	}
)

// ProfileByName returns the built-in profile with the given name.
func ProfileByName(name string) (Profile, bool) {
	switch name {
	case FastProfile.Name:
		return FastProfile, true
	case SlowProfile.Name:
		return SlowProfile, true
	default:
		return Profile{}, false
	}
}

// normalize fills zero fields from FastProfile.
func (p Profile) normalize() Profile {
	if p.Name == "" {
		p.Name = "custom"
	}
	if p.PollInterval <= 0 {
		p.PollInterval = FastProfile.PollInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = FastProfile.MaxAttempts
	}
	if p.PollRetries < 0 {
		p.PollRetries = 0
	}
	if p.RetryBackoff < 0 {
		p.RetryBackoff = 0
	}
	return p
}
