// Package eval adapts page-evaluation hosts to a single blocking call.
//
// Hosts come in two styles. A PromiseHost returns a channel that receives
// one Result. A CallbackHost invokes a completion callback and may also
// return a channel. The Adapter accepts either and reports every failure,
// including submission errors and panics, as a Result carrying an
// ExceptionInfo.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ExceptionInfo describes a failed evaluation, in the shape DevTools
// reports it.
type ExceptionInfo struct {
	IsError     bool   `json:"isError"`
	IsException bool   `json:"isException"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Error implements error.
func (e *ExceptionInfo) Error() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Value != "":
		return e.Value
	case e.Code != "":
		return e.Code
	default:
		return "evaluation failed"
	}
}

// Result is the outcome of one evaluation. Exactly one of Value or
// Exception is meaningful; Value is the JSON encoding of the returned
// value, or "null" when the expression produced nothing.
type Result struct {
	Value     json.RawMessage
	Exception *ExceptionInfo
}

// Failed reports whether the evaluation raised.
func (r Result) Failed() bool {
	return r.Exception != nil
}

// Exception codes for failures synthesized on the inspector side.
const (
	CodeNoHost   = "no_host"
	CodeSubmit   = "submit_failed"
	CodePanic    = "host_panic"
	CodeCanceled = "canceled"
	CodeHostGone = "host_gone"
	CodeNoResult = "no_result"
)

// Synthetic builds an ExceptionInfo for a failure that never reached the
// page.
func Synthetic(code, description string) *ExceptionInfo {
	return &ExceptionInfo{IsError: true, Code: code, Description: description}
}

// PromiseHost evaluates a script and delivers its result on a channel.
type PromiseHost interface {
	EvalAsync(ctx context.Context, script string) (<-chan Result, error)
}

// CallbackHost evaluates a script and reports its result through done.
// The returned channel may be nil; when it is not, it may also settle.
type CallbackHost interface {
	EvalCallback(ctx context.Context, script string, done func(Result)) (<-chan Result, error)
}

// Adapter turns a host of either style into a blocking Eval.
type Adapter struct {
	promise  PromiseHost
	callback CallbackHost
}

// NewAdapter creates an adapter. Either host may be nil; when both are set
// the promise host is used.
func NewAdapter(promise PromiseHost, callback CallbackHost) *Adapter {
	return &Adapter{promise: promise, callback: callback}
}

// ForHost creates an adapter from any value implementing one or both host
// interfaces.
func ForHost(h any) *Adapter {
	a := &Adapter{}
	if p, ok := h.(PromiseHost); ok {
		a.promise = p
	}
	if c, ok := h.(CallbackHost); ok {
		a.callback = c
	}
	return a
}

// Eval evaluates script and blocks until the first settlement or until ctx
// is done. It never returns a Go error: every failure is a Result with an
// Exception.
func (a *Adapter) Eval(ctx context.Context, script string) Result {
	switch {
	case a == nil:
		return Result{Exception: Synthetic(CodeNoHost, "no evaluation host configured")}
	case a.promise != nil:
		return a.evalPromise(ctx, script)
	case a.callback != nil:
		return a.evalCallback(ctx, script)
	default:
		return Result{Exception: Synthetic(CodeNoHost, "no evaluation host configured")}
	}
}

func (a *Adapter) evalPromise(ctx context.Context, script string) (res Result) {
	var ch <-chan Result
	err := guard(func() error {
		var err error
		ch, err = a.promise.EvalAsync(ctx, script)
		return err
	})
	if err != nil {
		return Result{Exception: err}
	}
	if ch == nil {
		return Result{Exception: Synthetic(CodeNoResult, "host returned no result channel")}
	}
	return wait(ctx, ch)
}

func (a *Adapter) evalCallback(ctx context.Context, script string) Result {
	// Buffered so a late or duplicate settlement never blocks the host.
	settled := make(chan Result, 1)
	var once sync.Once
	settle := func(r Result) {
		once.Do(func() { settled <- r })
	}

	var ch <-chan Result
	err := guard(func() error {
		var err error
		ch, err = a.callback.EvalCallback(ctx, script, settle)
		return err
	})
	if err != nil {
		settle(Result{Exception: err})
		return <-settled
	}
	if ch != nil {
		go func() {
			select {
			case r, ok := <-ch:
				if ok {
					settle(r)
				}
			case <-ctx.Done():
			}
		}()
	}
	return wait(ctx, settled)
}

func wait(ctx context.Context, ch <-chan Result) Result {
	select {
	case r, ok := <-ch:
		if !ok {
			return Result{Exception: Synthetic(CodeHostGone, "host closed without a result")}
		}
		return normalize(r)
	case <-ctx.Done():
		return Result{Exception: Synthetic(CodeCanceled, ctx.Err().Error())}
	}
}

func normalize(r Result) Result {
	if r.Exception == nil && len(r.Value) == 0 {
		r.Value = json.RawMessage("null")
	}
	return r
}

// guard runs submit, converting submission errors and panics into
// synthetic exceptions.
func guard(submit func() error) (exc *ExceptionInfo) {
	defer func() {
		if p := recover(); p != nil {
			exc = Synthetic(CodePanic, fmt.Sprintf("host panicked: %v", p))
		}
	}()
	if err := submit(); err != nil {
		if e, ok := err.(*ExceptionInfo); ok {
			return e
		}
		return Synthetic(CodeSubmit, err.Error())
	}
	return nil
}
