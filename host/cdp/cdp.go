// Package cdp implements a promise-style evaluation host over the Chrome
// DevTools Protocol using go-rod.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/log"
)

// Config selects the browser and the page to inspect.
type Config struct {
	// ControlURL is a DevTools WebSocket URL of a running browser.
	// Empty launches a local Chrome.
	ControlURL string
	// Launch forces a local launch even when ControlURL is set.
	Launch bool
	// Headless applies to launched browsers only.
	Headless bool
	// Stealth opens new pages through go-rod/stealth.
	Stealth bool
	// PageMatch selects the first existing page whose URL contains it.
	PageMatch string
	// URL is opened in a new page when no existing page matches.
	URL string
	// Logger receives connection diagnostics. Nil discards.
	Logger *log.Logger
}

// Host evaluates scripts in one page of a Chromium browser.
type Host struct {
	browser  *rod.Browser
	conn     io.Closer
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *log.Logger
	origin   string

	closeOnce sync.Once
	closeErr  error
}

// Connect attaches to (or launches) a browser and selects the page.
func Connect(ctx context.Context, cfg Config) (*Host, error) {
	h := &Host{logger: cfg.Logger}

	controlURL := cfg.ControlURL
	if controlURL == "" || cfg.Launch {
		l := launcher.New().Context(ctx).Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("cdp: launch: %w", err)
		}
		h.launcher = l
		controlURL = u
		h.logger.Info("launched local chrome", map[string]any{"url": u, "headless": cfg.Headless})
	}

	ws := &rodcdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		h.killLauncher()
		return nil, fmt.Errorf("cdp: connect: %w", err)
	}
	h.conn = ws
	b := rod.New().Client(rodcdp.New().Start(ws)).Context(ctx)
	if err := b.Connect(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("cdp: connect: %w", err)
	}
	h.browser = b

	page, err := h.selectPage(ctx, cfg)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.page = page

	if origin, err := h.evalString(ctx, "location.origin"); err == nil {
		h.origin = origin
	}
	h.logger.Info("attached to page", map[string]any{"origin": h.origin})
	return h, nil
}

func (h *Host) selectPage(ctx context.Context, cfg Config) (*rod.Page, error) {
	if cfg.PageMatch != "" {
		pages, err := h.browser.Pages()
		if err != nil {
			return nil, fmt.Errorf("cdp: list pages: %w", err)
		}
		urls := make([]string, len(pages))
		for i, p := range pages {
			if info, err := p.Info(); err == nil {
				urls[i] = info.URL
			}
		}
		if i := matchPage(urls, cfg.PageMatch); i >= 0 {
			return pages[i], nil
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("cdp: no page matches %q", cfg.PageMatch)
		}
	}
	if cfg.URL == "" {
		return nil, errors.New("cdp: either a page match or a URL is required")
	}

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(h.browser)
	} else {
		page, err = h.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("cdp: create page: %w", err)
	}
	if err := page.Context(ctx).Navigate(cfg.URL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("cdp: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("cdp: wait load %s: %w", cfg.URL, err)
	}
	return page, nil
}

// matchPage returns the index of the first URL containing match, or -1.
func matchPage(urls []string, match string) int {
	for i, u := range urls {
		if strings.Contains(u, match) {
			return i
		}
	}
	return -1
}

// EvalAsync implements eval.PromiseHost. Promises returned by script are
// not awaited; the bridge polls for their settlement instead.
func (h *Host) EvalAsync(ctx context.Context, script string) (<-chan eval.Result, error) {
	if h.page == nil {
		return nil, eval.Synthetic(eval.CodeHostGone, "cdp: no page attached")
	}
	ch := make(chan eval.Result, 1)
	go func() {
		obj, err := h.page.Context(ctx).Evaluate(evalOptions(script))
		ch <- resultFrom(obj, err)
	}()
	return ch, nil
}

func evalOptions(script string) *rod.EvalOptions {
	return &rod.EvalOptions{
		JS:           "() => (" + script + "\n)",
		ByValue:      true,
		AwaitPromise: false,
	}
}

// resultFrom maps a rod evaluation outcome onto an eval.Result.
func resultFrom(obj *proto.RuntimeRemoteObject, err error) eval.Result {
	if err != nil {
		return eval.Result{Exception: exceptionFrom(err)}
	}
	if obj == nil || obj.Type == proto.RuntimeRemoteObjectTypeUndefined || obj.Value.Nil() {
		return eval.Result{Value: json.RawMessage("null")}
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return eval.Result{Exception: eval.Synthetic(eval.CodeNoResult, fmt.Sprintf("cdp: encode result: %v", err))}
	}
	return eval.Result{Value: raw}
}

func exceptionFrom(err error) *eval.ExceptionInfo {
	var ee *rod.EvalError
	if errors.As(err, &ee) && ee.RuntimeExceptionDetails != nil {
		info := &eval.ExceptionInfo{IsException: true, Description: ee.Text}
		if exc := ee.Exception; exc != nil {
			info.Code = exc.ClassName
			if exc.Description != "" {
				info.Description = exc.Description
			}
			if !exc.Value.Nil() {
				info.Value = exc.Value.Str()
			}
		}
		return info
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eval.Synthetic(eval.CodeCanceled, err.Error())
	}
	return &eval.ExceptionInfo{IsError: true, Description: err.Error()}
}

func (h *Host) evalString(ctx context.Context, expr string) (string, error) {
	obj, err := h.page.Context(ctx).Evaluate(evalOptions(expr))
	if err != nil {
		return "", err
	}
	return obj.Value.Str(), nil
}

// Origin returns the inspected page's origin, or "" when unknown.
func (h *Host) Origin() string {
	return h.origin
}

// Profile returns the polling profile suited to a direct DevTools channel.
func (h *Host) Profile() bridge.Profile {
	return bridge.FastProfile
}

// Close drops the DevTools connection and stops the browser when it was
// launched here. A browser reached through ControlURL keeps running.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		if h.launcher != nil {
			if h.browser != nil {
				h.closeErr = h.browser.Close()
			}
			if h.conn != nil {
				_ = h.conn.Close()
			}
			h.killLauncher()
			return
		}
		if h.conn != nil {
			h.closeErr = h.conn.Close()
		}
	})
	return h.closeErr
}

func (h *Host) killLauncher() {
	if h.launcher == nil {
		return
	}
	h.launcher.Kill()
	h.launcher.Cleanup()
}
