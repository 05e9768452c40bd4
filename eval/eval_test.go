package eval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type promiseFunc func(ctx context.Context, script string) (<-chan Result, error)

func (f promiseFunc) EvalAsync(ctx context.Context, script string) (<-chan Result, error) {
	return f(ctx, script)
}

type callbackFunc func(ctx context.Context, script string, done func(Result)) (<-chan Result, error)

func (f callbackFunc) EvalCallback(ctx context.Context, script string, done func(Result)) (<-chan Result, error) {
	return f(ctx, script, done)
}

func value(s string) Result {
	return Result{Value: json.RawMessage(s)}
}

func settled(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}

func TestAdapter_NoHost(t *testing.T) {
	for name, a := range map[string]*Adapter{
		"nil adapter": nil,
		"empty":       NewAdapter(nil, nil),
		"no iface":    ForHost(struct{}{}),
	} {
		t.Run(name, func(t *testing.T) {
			res := a.Eval(context.Background(), "1")
			if !res.Failed() {
				t.Fatal("expected exception")
			}
			if res.Exception.Description != "no evaluation host configured" {
				t.Errorf("description = %q", res.Exception.Description)
			}
		})
	}
}

func TestAdapter_Promise(t *testing.T) {
	host := promiseFunc(func(_ context.Context, script string) (<-chan Result, error) {
		if script != "1+1" {
			t.Errorf("script = %q", script)
		}
		return settled(value("2")), nil
	})
	res := NewAdapter(host, nil).Eval(context.Background(), "1+1")
	if res.Failed() {
		t.Fatalf("unexpected exception: %v", res.Exception)
	}
	if string(res.Value) != "2" {
		t.Errorf("value = %s, want 2", res.Value)
	}
}

func TestAdapter_PreferPromise(t *testing.T) {
	promise := promiseFunc(func(context.Context, string) (<-chan Result, error) {
		return settled(value(`"promise"`)), nil
	})
	callback := callbackFunc(func(_ context.Context, _ string, done func(Result)) (<-chan Result, error) {
		done(value(`"callback"`))
		return nil, nil
	})
	res := NewAdapter(promise, callback).Eval(context.Background(), "x")
	if string(res.Value) != `"promise"` {
		t.Errorf("value = %s, want promise", res.Value)
	}
}

func TestAdapter_EmptyValueIsNull(t *testing.T) {
	host := promiseFunc(func(context.Context, string) (<-chan Result, error) {
		return settled(Result{}), nil
	})
	res := NewAdapter(host, nil).Eval(context.Background(), "undefined")
	if string(res.Value) != "null" {
		t.Errorf("value = %s, want null", res.Value)
	}
}

func TestAdapter_SubmitFailure(t *testing.T) {
	tests := []struct {
		name     string
		host     any
		wantCode string
	}{
		{
			name: "promise error",
			host: promiseFunc(func(context.Context, string) (<-chan Result, error) {
				return nil, errors.New("socket closed")
			}),
			wantCode: CodeSubmit,
		},
		{
			name: "promise panic",
			host: promiseFunc(func(context.Context, string) (<-chan Result, error) {
				panic("boom")
			}),
			wantCode: CodePanic,
		},
		{
			name: "promise nil channel",
			host: promiseFunc(func(context.Context, string) (<-chan Result, error) {
				return nil, nil
			}),
			wantCode: CodeNoResult,
		},
		{
			name: "callback error",
			host: callbackFunc(func(context.Context, string, func(Result)) (<-chan Result, error) {
				return nil, errors.New("not connected")
			}),
			wantCode: CodeSubmit,
		},
		{
			name: "callback panic",
			host: callbackFunc(func(context.Context, string, func(Result)) (<-chan Result, error) {
				panic("boom")
			}),
			wantCode: CodePanic,
		},
		{
			name: "exception passthrough",
			host: promiseFunc(func(context.Context, string) (<-chan Result, error) {
				return nil, &ExceptionInfo{IsException: true, Code: "custom", Description: "x"}
			}),
			wantCode: "custom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ForHost(tt.host).Eval(context.Background(), "x")
			if !res.Failed() {
				t.Fatal("expected exception")
			}
			if res.Exception.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.Exception.Code, tt.wantCode)
			}
		})
	}
}

func TestAdapter_CallbackOnly(t *testing.T) {
	host := callbackFunc(func(_ context.Context, _ string, done func(Result)) (<-chan Result, error) {
		go done(value("42"))
		return nil, nil
	})
	res := ForHost(host).Eval(context.Background(), "x")
	if string(res.Value) != "42" {
		t.Errorf("value = %s, want 42", res.Value)
	}
}

func TestAdapter_CallbackChannelOnly(t *testing.T) {
	host := callbackFunc(func(context.Context, string, func(Result)) (<-chan Result, error) {
		return settled(value("7")), nil
	})
	res := ForHost(host).Eval(context.Background(), "x")
	if string(res.Value) != "7" {
		t.Errorf("value = %s, want 7", res.Value)
	}
}

func TestAdapter_FirstSettlementWins(t *testing.T) {
	host := callbackFunc(func(_ context.Context, _ string, done func(Result)) (<-chan Result, error) {
		done(value(`"first"`))
		done(value(`"second"`))
		return settled(value(`"channel"`)), nil
	})
	res := ForHost(host).Eval(context.Background(), "x")
	if string(res.Value) != `"first"` {
		t.Errorf("value = %s, want first", res.Value)
	}
}

func TestAdapter_Canceled(t *testing.T) {
	block := make(chan Result)
	defer close(block)
	host := promiseFunc(func(context.Context, string) (<-chan Result, error) {
		return block, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := ForHost(host).Eval(ctx, "x")
	if !res.Failed() || res.Exception.Code != CodeCanceled {
		t.Fatalf("result = %+v, want canceled exception", res)
	}
}

func TestAdapter_CallbackCanceledDoesNotLeak(t *testing.T) {
	never := make(chan Result)
	host := callbackFunc(func(context.Context, string, func(Result)) (<-chan Result, error) {
		return never, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ForHost(host).Eval(ctx, "x")
	if !res.Failed() || res.Exception.Code != CodeCanceled {
		t.Fatalf("result = %+v, want canceled exception", res)
	}
}

func TestAdapter_ClosedChannel(t *testing.T) {
	host := promiseFunc(func(context.Context, string) (<-chan Result, error) {
		ch := make(chan Result)
		close(ch)
		return ch, nil
	})
	res := ForHost(host).Eval(context.Background(), "x")
	if !res.Failed() || res.Exception.Code != CodeHostGone {
		t.Fatalf("result = %+v, want host gone", res)
	}
}

func TestExceptionInfo_Error(t *testing.T) {
	tests := []struct {
		exc  ExceptionInfo
		want string
	}{
		{ExceptionInfo{Description: "d", Value: "v"}, "d"},
		{ExceptionInfo{Value: "v", Code: "c"}, "v"},
		{ExceptionInfo{Code: "c"}, "c"},
		{ExceptionInfo{}, "evaluation failed"},
	}
	for _, tt := range tests {
		if got := tt.exc.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
