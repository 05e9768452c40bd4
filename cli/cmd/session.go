package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/opfsx/adapter"
	"github.com/pithecene-io/opfsx/adapter/redis"
	"github.com/pithecene-io/opfsx/adapter/webhook"
	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/cli/config"
	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/host/agent"
	"github.com/pithecene-io/opfsx/host/cdp"
	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/metrics"
	"github.com/pithecene-io/opfsx/opfs"
	"github.com/pithecene-io/opfsx/types"
)

// pageHost is what both hosts provide beyond evaluation.
type pageHost interface {
	Origin() string
	Profile() bridge.Profile
	Close() error
}

// Session is one connected page with the facade wired over it.
type Session struct {
	Client  *opfs.Client
	Logger  *log.Logger
	Metrics *metrics.Collector
	Config  *config.Config
	Origin  string

	closers []func() error
}

// Close releases the notifiers and the host, then flushes logs.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.Logger.Debug("session closed", map[string]any{"metrics": s.Metrics.Snapshot()})
	s.Logger.Sync()
	return errors.Join(errs...)
}

// openSession connects to a page. Tests replace it.
var openSession = defaultOpenSession

// withSession opens a session, runs fn, and closes the session.
func withSession(c *cli.Context, fn func(*Session) error) error {
	s, err := openSession(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() {
		if err := s.Close(); err != nil {
			s.Logger.Warn("session close failed", map[string]any{"error": err.Error()})
		}
	}()
	return fn(s)
}

// pick returns the flag value when set on the command line, then the
// config value, then the flag default.
func pick(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

// pickBool is pick for booleans. A nil config value means the key was absent.
func pickBool(c *cli.Context, name string, fromConfig *bool) bool {
	if c.IsSet(name) || fromConfig == nil {
		return c.Bool(name)
	}
	return *fromConfig
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.LoadOptional(c.String("config"))
}

func newLogger(c *cli.Context, cfg *config.Config, meta *types.SessionMeta) (*log.Logger, error) {
	level, err := log.ParseLevel(pick(c, "log-level", cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	return log.NewLogger(meta, level), nil
}

func defaultOpenSession(c *cli.Context) (*Session, error) {
	ctx := c.Context
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	kind, err := types.ParseHostKind(pick(c, "host", cfg.Host))
	if err != nil {
		return nil, err
	}
	meta := &types.SessionMeta{SessionID: uuid.NewString(), Host: kind}
	logger, err := newLogger(c, cfg, meta)
	if err != nil {
		return nil, err
	}

	s := &Session{Logger: logger, Config: cfg}
	fail := func(err error) (*Session, error) {
		_ = s.Close()
		return nil, err
	}

	var host pageHost
	switch kind {
	case types.HostAgent:
		h, stop, err := startAgent(ctx, c, cfg, logger)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, stop)
		host = h
	default:
		h, err := cdp.Connect(ctx, cdp.Config{
			ControlURL: pick(c, "control-url", cfg.Browser.ControlURL),
			Launch:     pickBool(c, "launch", cfg.Browser.Launch),
			Headless:   pickBool(c, "headless", cfg.Browser.Headless),
			Stealth:    pickBool(c, "stealth", cfg.Browser.Stealth),
			PageMatch:  pick(c, "page", cfg.Browser.PageMatch),
			URL:        pick(c, "url", cfg.Browser.URL),
			Logger:     logger,
		})
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, h.Close)
		host = h
	}

	bridgeCfg := cfg.Bridge
	if c.IsSet("profile") {
		bridgeCfg.Profile = c.String("profile")
	}
	profile, err := bridgeCfg.ApplyProfile(host.Profile())
	if err != nil {
		return fail(err)
	}

	s.Origin = host.Origin()
	meta.Origin = s.Origin
	s.Logger = logger.With(map[string]any{"origin": s.Origin})
	s.Metrics = metrics.NewCollector(string(kind), profile.Name)

	notifier, err := buildNotifier(c, cfg)
	if err != nil {
		return fail(err)
	}
	var opfsNotifier opfs.ChangeNotifier
	if len(notifier) > 0 {
		s.closers = append(s.closers, notifier.Close)
		opfsNotifier = notifier
	}

	b := bridge.New(eval.ForHost(host), bridge.Options{
		Profile:        profile,
		Logger:         s.Logger,
		Metrics:        s.Metrics,
		CleanupTimeout: bridgeCfg.CleanupTimeout.Duration,
	})
	s.Client = opfs.New(b, opfs.Options{
		Logger:    s.Logger,
		Metrics:   s.Metrics,
		Notifier:  opfsNotifier,
		Origin:    s.Origin,
		SessionID: meta.SessionID,
	})
	s.Logger.Debug("session open", map[string]any{"host": string(kind), "profile": profile.Name})
	return s, nil
}

// startAgent serves the agent and waits for a page to connect. stop shuts
// the server down.
func startAgent(ctx context.Context, c *cli.Context, cfg *config.Config, logger *log.Logger) (*agent.Host, func() error, error) {
	h := agent.New(agent.Config{OriginPatterns: cfg.Agent.OriginPatterns, Logger: logger})
	addr := pick(c, "listen", cfg.Agent.Listen)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: listen %s: %w", addr, err)
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- h.Serve(serveCtx, ln) }()
	stop := func() error {
		cancel()
		return <-done
	}

	printAgentHint(c.App.ErrWriter, ln.Addr().String())

	timeout := c.Duration("connect-timeout")
	if !c.IsSet("connect-timeout") && cfg.Agent.ConnectTimeout.Duration > 0 {
		timeout = cfg.Agent.ConnectTimeout.Duration
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()
	if err := h.WaitConnected(waitCtx); err != nil {
		_ = stop()
		return nil, nil, fmt.Errorf("agent: no page connected: %w", err)
	}
	return h, stop, nil
}

func printAgentHint(w io.Writer, addr string) {
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "waiting for a page; add this to it:\n  <script src=\"http://%s/agent.js\"></script>\n", addr)
}

// buildNotifier collects the configured change notification adapters.
func buildNotifier(c *cli.Context, cfg *config.Config) (adapter.Multi, error) {
	var out adapter.Multi

	wh := cfg.Notify.Webhook
	if u := c.String("webhook"); u != "" {
		wh = &config.WebhookConfig{URL: u}
	}
	if wh != nil && wh.URL != "" {
		a, err := webhook.New(webhook.Config{
			URL:     wh.URL,
			Headers: wh.Headers,
			Timeout: wh.Timeout.Duration,
			Retries: wh.Retries,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	rc := cfg.Notify.Redis
	if u := c.String("redis"); u != "" {
		rc = &config.RedisConfig{URL: u}
	}
	if rc != nil && rc.URL != "" {
		a, err := redis.New(redis.Config{
			URL:          rc.URL,
			Channel:      rc.Channel,
			PerOp:        rc.PerOp,
			Timeout:      rc.Timeout.Duration,
			Retries:      rc.Retries,
			Stream:       rc.Stream,
			StreamMaxLen: rc.StreamMaxLen,
		})
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
