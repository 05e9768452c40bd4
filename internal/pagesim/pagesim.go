// Package pagesim simulates an inspected page for tests: a JavaScript
// runtime with an in-memory origin private file system, a fake document,
// and the globals operation scripts rely on.
package pagesim

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/pithecene-io/opfsx/eval"
)

//go:embed opfs.js
var opfsSource string

// Option configures a Page.
type Option func(*Page)

// WithoutMove removes handle.move so renames take the copy-then-remove path.
func WithoutMove() Option {
	return func(p *Page) { p.setup = append(p.setup, "__pagesim.enableMove(false);") }
}

// Insecure marks the page as not being a secure context.
func Insecure() Option {
	return func(p *Page) { p.setup = append(p.setup, "globalThis.isSecureContext = false;") }
}

// WithoutStorage removes navigator.storage entirely.
func WithoutStorage() Option {
	return func(p *Page) { p.setup = append(p.setup, "delete globalThis.navigator.storage;") }
}

// Page is a simulated page. All methods are safe for concurrent use; the
// runtime itself is serialized.
type Page struct {
	mu    sync.Mutex
	vm    *goja.Runtime
	setup []string
	evals int
}

// New creates a page with an empty file system.
func New(opts ...Option) *Page {
	p := &Page{vm: goja.New()}
	for _, opt := range opts {
		opt(p)
	}
	p.installShims()
	if _, err := p.vm.RunString(opfsSource); err != nil {
		panic(fmt.Sprintf("pagesim: install file system: %v", err))
	}
	for _, s := range p.setup {
		if _, err := p.vm.RunString(s); err != nil {
			panic(fmt.Sprintf("pagesim: setup %q: %v", s, err))
		}
	}
	return p
}

func (p *Page) installShims() {
	vm := p.vm
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(vm.Set("btoa", func(s string) string {
		b := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xff {
				panic(vm.NewTypeError("btoa: character out of range"))
			}
			b = append(b, byte(r))
		}
		return base64.StdEncoding.EncodeToString(b)
	}))
	must(vm.Set("atob", func(s string) string {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			panic(vm.NewTypeError("atob: invalid base64"))
		}
		r := make([]rune, len(b))
		for i, c := range b {
			r[i] = rune(c)
		}
		return string(r)
	}))
	must(vm.Set("__pagesimUTF8Encode", func(s string) goja.ArrayBuffer {
		return vm.NewArrayBuffer([]byte(s))
	}))
	must(vm.Set("__pagesimUTF8Decode", func(call goja.FunctionCall) goja.Value {
		var b []byte
		if err := vm.ExportTo(call.Argument(0), &b); err != nil {
			panic(vm.NewTypeError("decode: %v", err))
		}
		return vm.ToValue(decodeUTF8(b))
	}))
}

func decodeUTF8(b []byte) string {
	if !utf8.Valid(b) {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(b)
}

// Evaluate runs script as an expression, drains pending promise jobs, and
// returns the expression's value by value. Promises are not awaited.
func (p *Page) Evaluate(script string) eval.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals++

	v, err := p.vm.RunString("(" + script + "\n)")
	if err != nil {
		return eval.Result{Exception: exceptionInfo(err)}
	}
	out, err := p.stringify(v)
	if err != nil {
		return eval.Result{Exception: exceptionInfo(err)}
	}
	return eval.Result{Value: out}
}

// EvalAsync implements eval.PromiseHost.
func (p *Page) EvalAsync(ctx context.Context, script string) (<-chan eval.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan eval.Result, 1)
	go func() { ch <- p.Evaluate(script) }()
	return ch, nil
}

// Callback returns a callback-style view of the page.
func (p *Page) Callback() eval.CallbackHost {
	return callbackHost{p}
}

type callbackHost struct{ p *Page }

func (c callbackHost) EvalCallback(ctx context.Context, script string, done func(eval.Result)) (<-chan eval.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	go done(c.p.Evaluate(script))
	return nil, nil
}

// Evals returns the number of evaluations performed.
func (p *Page) Evals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evals
}

// Run executes setup JavaScript directly and returns its exported value.
func (p *Page) Run(js string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vm.RunString(js)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// Put writes a file, creating parent directories.
func (p *Page) Put(path string, data []byte, mimeType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	put, err := p.fn("put")
	if err != nil {
		return err
	}
	_, err = put(goja.Undefined(), p.vm.ToValue(path), p.vm.ToValue(p.vm.NewArrayBuffer(data)), p.vm.ToValue(mimeType))
	return err
}

// Mkdir creates a directory and its parents.
func (p *Page) Mkdir(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mk, err := p.fn("mkdirAll")
	if err != nil {
		return err
	}
	_, err = mk(goja.Undefined(), p.vm.ToValue(path))
	return err
}

// Get returns a file's bytes.
func (p *Page) Get(path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	get, err := p.fn("get")
	if err != nil {
		return nil, false
	}
	v, err := get(goja.Undefined(), p.vm.ToValue(path))
	if err != nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return nil, false
	}
	var b []byte
	if err := p.vm.ExportTo(v, &b); err != nil {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Kind returns "file", "directory", or "" when the path does not exist.
func (p *Page) Kind(path string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	lookup, err := p.fn("lookup")
	if err != nil {
		return ""
	}
	v, err := lookup(goja.Undefined(), p.vm.ToValue(path))
	if err != nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return ""
	}
	return v.ToObject(p.vm).Get("kind").String()
}

// Downloads returns the file names of triggered downloads.
func (p *Page) Downloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	_ = p.vm.ExportTo(p.vm.Get("__pagesim").ToObject(p.vm).Get("downloads"), &out)
	return out
}

func (p *Page) fn(name string) (goja.Callable, error) {
	state := p.vm.Get("__pagesim")
	if state == nil {
		return nil, errors.New("pagesim: file system not installed")
	}
	f, ok := goja.AssertFunction(state.ToObject(p.vm).Get(name))
	if !ok {
		return nil, fmt.Errorf("pagesim: %s is not a function", name)
	}
	return f, nil
}

func (p *Page) stringify(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}
	stringify, ok := goja.AssertFunction(p.vm.Get("JSON").ToObject(p.vm).Get("stringify"))
	if !ok {
		return nil, errors.New("pagesim: JSON.stringify unavailable")
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

func exceptionInfo(err error) *eval.ExceptionInfo {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &eval.ExceptionInfo{
			IsException: true,
			Description: exc.Error(),
			Value:       exc.Value().String(),
		}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &eval.ExceptionInfo{IsError: true, Code: "SyntaxError", Description: syntax.Error()}
	}
	return &eval.ExceptionInfo{IsError: true, Description: err.Error()}
}
