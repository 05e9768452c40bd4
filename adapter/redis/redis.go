// Package redis implements a Redis change adapter.
//
// Publishes change events as JSON to a configurable Redis channel,
// optionally suffixed with the operation name so subscribers can
// PSUBSCRIBE to a subset of operations. With Stream set, each event is
// also appended to a capped stream so late consumers can replay it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/opfsx/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "opfsx:changed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultBackoff is the delay before the first retry. It doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: opfsx:changed).
	Channel string
	// PerOp appends ":<op>" to the channel, e.g. opfsx:changed:write.
	PerOp bool
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
	// Stream, when set, also appends each event to this stream with XADD.
	Stream string
	// StreamMaxLen approximately caps the stream (default 10000).
	StreamMaxLen int64
}

// DefaultStreamMaxLen is the default approximate stream length cap.
const DefaultStreamMaxLen = 10000

// Adapter publishes change events via Redis PUBLISH and optionally XADD.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// ChannelFor returns the channel an event is published on.
func (a *Adapter) ChannelFor(event *adapter.ChangeEvent) string {
	if a.config.PerOp && event.Op != "" {
		return a.config.Channel + ":" + event.Op
	}
	return a.config.Channel
}

// Publish sends the event as a JSON PUBLISH, plus an XADD when a stream is
// configured. Both commands go out in one pipeline and are retried together
// with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	delay := a.config.Backoff
	for i := 1; ; i++ {
		err := a.send(ctx, event, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("redis: context canceled: %w", ctx.Err())
		}
		if i == attempts {
			return fmt.Errorf("redis: failed after %d attempts: %w", attempts, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
}

func (a *Adapter) send(ctx context.Context, event *adapter.ChangeEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.Publish(ctx, a.ChannelFor(event), body)
		if a.config.Stream != "" {
			p.XAdd(ctx, &goredis.XAddArgs{
				Stream: a.config.Stream,
				MaxLen: a.config.StreamMaxLen,
				Approx: true,
				Values: map[string]any{"op": event.Op, "path": event.Path, "event": string(body)},
			})
		}
		return nil
	})
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
