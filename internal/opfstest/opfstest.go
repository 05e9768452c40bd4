// Package opfstest wires an opfs.Client to a simulated page for tests.
package opfstest

import (
	"time"

	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/internal/pagesim"
	"github.com/pithecene-io/opfsx/opfs"
)

// Profile polls fast enough for tests.
var Profile = bridge.Profile{
	Name:         "test",
	PollInterval: time.Millisecond,
	MaxAttempts:  200,
	PollRetries:  2,
	RetryBackoff: time.Millisecond,
}

// New returns a client over a fresh simulated page, and the page.
func New(opts ...pagesim.Option) (*opfs.Client, *pagesim.Page) {
	return NewWith(opfs.Options{}, opts...)
}

// NewWith is New with client options.
func NewWith(clientOpts opfs.Options, opts ...pagesim.Option) (*opfs.Client, *pagesim.Page) {
	page := pagesim.New(opts...)
	b := bridge.New(eval.ForHost(page), bridge.Options{Profile: Profile, Metrics: clientOpts.Metrics})
	return opfs.New(b, clientOpts), page
}
