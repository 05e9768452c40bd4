package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/internal/pagesim"
	"github.com/pithecene-io/opfsx/metrics"
)

var testProfile = Profile{
	Name:         "test",
	PollInterval: time.Millisecond,
	MaxAttempts:  5,
	PollRetries:  2,
	RetryBackoff: time.Millisecond,
}

// slotValue encodes a slot the way the page returns it: a JSON string
// holding the slot's JSON.
func slotValue(state string) eval.Result {
	b, _ := json.Marshal(state)
	return eval.Result{Value: b}
}

func failure(msg string) eval.Result {
	return eval.Result{Exception: &eval.ExceptionInfo{IsException: true, Description: msg}}
}

// scripted is an Evaluator that dispatches on the kind of script.
type scripted struct {
	mu       sync.Mutex
	submit   func() eval.Result
	poll     func(n int) eval.Result
	cleanup  func() eval.Result
	polls    int
	cleanups int
}

func (s *scripted) Eval(ctx context.Context, script string) eval.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(script, "delete globalThis"):
		s.cleanups++
		if s.cleanup != nil {
			return s.cleanup()
		}
		return eval.Result{Value: json.RawMessage("true")}
	case strings.Contains(script, `state: "pending"`):
		return s.submit()
	default:
		s.polls++
		if s.poll == nil {
			return slotValue(`{"state":"pending"}`)
		}
		return s.poll(s.polls)
	}
}

func (s *scripted) counts() (polls, cleanups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls, s.cleanups
}

func newPageBridge(page *pagesim.Page, m *metrics.Collector) *Bridge {
	return New(eval.ForHost(page), Options{Profile: testProfile, Metrics: m})
}

func liveSlots(t *testing.T, page *pagesim.Page) int64 {
	t.Helper()
	v, err := page.Run(`Object.keys(globalThis).filter(function (k) { return k.indexOf("__opfsx_") === 0; }).length`)
	if err != nil {
		t.Fatal(err)
	}
	return v.(int64)
}

func TestRun_Page(t *testing.T) {
	page := pagesim.New()
	m := metrics.NewCollector("sim", "test")
	b := newPageBridge(page, m)

	res, err := b.Run(context.Background(), "add", `await null; return { sum: 1 + 1 };`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(res) != `{"sum":2}` {
		t.Errorf("result = %s, want {\"sum\":2}", res)
	}
	if n := liveSlots(t, page); n != 0 {
		t.Errorf("%d slots left in page, want 0", n)
	}
	s := m.Snapshot()
	if s.OpsStarted != 1 || s.OpsSucceeded != 1 {
		t.Errorf("metrics = %+v", s)
	}
	if s.Polls < 1 {
		t.Errorf("Polls = %d, want at least 1", s.Polls)
	}
}

func TestRun_UndefinedResultIsNull(t *testing.T) {
	b := newPageBridge(pagesim.New(), nil)
	res, err := b.Run(context.Background(), "noop", `return;`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(res) != "null" {
		t.Errorf("result = %s, want null", res)
	}
}

func TestRun_RemoteError(t *testing.T) {
	page := pagesim.New()
	b := newPageBridge(page, nil)

	_, err := b.Run(context.Background(), "boom", `throw new Error("disk on fire");`)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "disk on fire" {
		t.Errorf("Error() = %q, want page message verbatim", err.Error())
	}
	if !errors.Is(err, ErrRemote) {
		t.Error("errors.Is(err, ErrRemote) = false")
	}
	if KindOf(err) != KindRemote {
		t.Errorf("kind = %q, want %q", KindOf(err), KindRemote)
	}
	if n := liveSlots(t, page); n != 0 {
		t.Errorf("%d slots left in page, want 0", n)
	}
}

func TestRun_ThrownNonError(t *testing.T) {
	b := newPageBridge(pagesim.New(), nil)
	_, err := b.Run(context.Background(), "throw", `throw "plain string";`)
	if err == nil || err.Error() != "plain string" {
		t.Fatalf("err = %v, want plain string", err)
	}
}

func TestRun_UnserializableResult(t *testing.T) {
	b := newPageBridge(pagesim.New(), nil)
	_, err := b.Run(context.Background(), "cycle", `const a = {}; a.self = a; return a;`)
	if KindOf(err) != KindRemote {
		t.Fatalf("err = %v, want remote error", err)
	}
	if !strings.Contains(err.Error(), "not serializable") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRun_SyntaxErrorIsSubmitFailure(t *testing.T) {
	b := newPageBridge(pagesim.New(), nil)
	_, err := b.Run(context.Background(), "bad", `return (;`)
	if KindOf(err) != KindSubmit {
		t.Fatalf("err = %v, want submit error", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	page := pagesim.New()
	m := metrics.NewCollector("sim", "test")
	b := newPageBridge(page, m)

	_, err := b.Run(context.Background(), "hang", `await new Promise(function () {});`)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Error() = %q", err.Error())
	}
	if n := liveSlots(t, page); n != 0 {
		t.Errorf("%d slots left after timeout, want cleanup to remove it", n)
	}
	s := m.Snapshot()
	if s.OpsTimedOut != 1 {
		t.Errorf("OpsTimedOut = %d, want 1", s.OpsTimedOut)
	}
	if s.Polls != int64(testProfile.MaxAttempts) {
		t.Errorf("Polls = %d, want %d", s.Polls, testProfile.MaxAttempts)
	}
}

func TestRun_SynchronousCompletion(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		want    string
		wantErr string
	}{
		{"done", `{"state":"done","result":[1,2]}`, "[1,2]", ""},
		{"done without result", `{"state":"done"}`, "null", ""},
		{"error", `{"state":"error","error":"nope"}`, "", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &scripted{submit: func() eval.Result { return slotValue(tt.state) }}
			m := metrics.NewCollector("fake", "test")
			b := New(ev, Options{Profile: testProfile, Metrics: m})

			res, err := b.Run(context.Background(), "op", "return 1;")
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("Run failed: %v", err)
				}
				if string(res) != tt.want {
					t.Errorf("result = %s, want %s", res, tt.want)
				}
			}
			polls, cleanups := ev.counts()
			if polls != 0 {
				t.Errorf("polls = %d, want 0 for synchronous completion", polls)
			}
			if cleanups != 1 {
				t.Errorf("cleanups = %d, want 1", cleanups)
			}
			if m.Snapshot().SyncCompletions != 1 {
				t.Errorf("SyncCompletions = %d, want 1", m.Snapshot().SyncCompletions)
			}
		})
	}
}

func TestRun_PollRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantKind Kind
	}{
		{"within budget", 2, ""},
		{"over budget", 3, KindPoll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &scripted{
				submit: func() eval.Result { return slotValue(`{"state":"pending"}`) },
				poll: func(n int) eval.Result {
					if n <= tt.failures {
						return failure("transient")
					}
					return slotValue(`{"state":"done","result":"ok"}`)
				},
			}
			m := metrics.NewCollector("fake", "test")
			b := New(ev, Options{Profile: testProfile, Metrics: m})

			res, err := b.Run(context.Background(), "op", "return 1;")
			if KindOf(err) != tt.wantKind {
				t.Fatalf("err = %v, want kind %q", err, tt.wantKind)
			}
			if tt.wantKind == "" && string(res) != `"ok"` {
				t.Errorf("result = %s, want \"ok\"", res)
			}
			if tt.wantKind == KindPoll && !strings.Contains(err.Error(), "transient") {
				t.Errorf("Error() = %q, want poll cause", err.Error())
			}
			if _, cleanups := ev.counts(); cleanups != 1 {
				t.Errorf("cleanups = %d, want 1", cleanups)
			}
			if got := m.Snapshot().PollRetries; got != int64(testProfile.PollRetries) {
				t.Errorf("PollRetries = %d, want %d", got, testProfile.PollRetries)
			}
		})
	}
}

func TestRun_RetryCounterResetsOnSuccess(t *testing.T) {
	// Alternating failures never exceed the consecutive budget.
	ev := &scripted{
		submit: func() eval.Result { return slotValue(`{"state":"pending"}`) },
		poll: func(n int) eval.Result {
			switch {
			case n == 7:
				return slotValue(`{"state":"done","result":true}`)
			case n%2 == 1:
				return failure("flaky")
			default:
				return slotValue(`{"state":"pending"}`)
			}
		},
	}
	p := testProfile
	p.MaxAttempts = 10
	p.PollRetries = 1
	b := New(ev, Options{Profile: p})

	if _, err := b.Run(context.Background(), "op", "return 1;"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestRun_MissingSlotIsPollFailure(t *testing.T) {
	ev := &scripted{
		submit: func() eval.Result { return slotValue(`{"state":"pending"}`) },
		poll:   func(int) eval.Result { return eval.Result{Value: json.RawMessage("null")} },
	}
	b := New(ev, Options{Profile: testProfile})

	_, err := b.Run(context.Background(), "op", "return 1;")
	if KindOf(err) != KindPoll {
		t.Fatalf("err = %v, want poll error", err)
	}
	if !strings.Contains(err.Error(), "slot is missing") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRun_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a string", `42`},
		{"not json", `"{oops"`},
		{"unknown state", `"{\"state\":\"weird\"}"`},
		{"error without message", `"{\"state\":\"error\"}"`},
		{"no slot", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &scripted{submit: func() eval.Result { return eval.Result{Value: json.RawMessage(tt.value)} }}
			b := New(ev, Options{Profile: testProfile})

			_, err := b.Run(context.Background(), "op", "return 1;")
			if KindOf(err) != KindProtocol {
				t.Fatalf("err = %v, want protocol error", err)
			}
		})
	}
}

func TestRun_SubmitFailure(t *testing.T) {
	ev := &scripted{submit: func() eval.Result { return failure("Execution context was destroyed.") }}
	b := New(ev, Options{Profile: testProfile})

	_, err := b.Run(context.Background(), "list", "return 1;")
	if KindOf(err) != KindSubmit {
		t.Fatalf("err = %v, want submit error", err)
	}
	if !strings.Contains(err.Error(), "Execution context was destroyed.") {
		t.Errorf("Error() = %q", err.Error())
	}
	var exc *eval.ExceptionInfo
	if !errors.As(err, &exc) {
		t.Error("submit error should wrap the exception info")
	}
}

func TestRun_CleanupFailureSwallowed(t *testing.T) {
	ev := &scripted{
		submit:  func() eval.Result { return slotValue(`{"state":"done","result":1}`) },
		cleanup: func() eval.Result { return failure("page gone") },
	}
	m := metrics.NewCollector("fake", "test")
	b := New(ev, Options{Profile: testProfile, Metrics: m})

	res, err := b.Run(context.Background(), "op", "return 1;")
	if err != nil {
		t.Fatalf("cleanup failure must not fail the operation: %v", err)
	}
	if string(res) != "1" {
		t.Errorf("result = %s, want 1", res)
	}
	if got := m.Snapshot().CleanupFailures; got != 1 {
		t.Errorf("CleanupFailures = %d, want 1", got)
	}
}

func TestRun_CanceledWhilePending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := &scripted{
		submit: func() eval.Result { return slotValue(`{"state":"pending"}`) },
		poll: func(n int) eval.Result {
			if n == 2 {
				cancel()
			}
			return slotValue(`{"state":"pending"}`)
		},
	}
	m := metrics.NewCollector("fake", "test")
	b := New(ev, Options{Profile: testProfile, Metrics: m})

	_, err := b.Run(ctx, "op", "return 1;")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("canceled error should wrap context.Canceled")
	}
	if _, cleanups := ev.counts(); cleanups != 1 {
		t.Errorf("cleanups = %d, want cleanup attempted after cancel", cleanups)
	}
	if m.Snapshot().OpsCanceled != 1 {
		t.Errorf("OpsCanceled = %d, want 1", m.Snapshot().OpsCanceled)
	}
}

func TestRun_CanceledBeforeSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := &scripted{submit: func() eval.Result {
		t.Error("submit should not be called")
		return eval.Result{}
	}}
	b := New(ev, Options{Profile: testProfile})

	if _, err := b.Run(ctx, "op", "return 1;"); KindOf(err) != KindCanceled {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestRun_ConcurrentOperations(t *testing.T) {
	page := pagesim.New()
	b := newPageBridge(page, nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.Run(context.Background(), "echo", fmt.Sprintf("await null; return %d;", i))
			if err != nil {
				errs <- err
				return
			}
			if string(res) != fmt.Sprint(i) {
				errs <- fmt.Errorf("operation %d got %s", i, res)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := liveSlots(t, page); n != 0 {
		t.Errorf("%d slots left in page, want 0", n)
	}
}

func TestRun_CallbackHost(t *testing.T) {
	page := pagesim.New()
	b := New(eval.ForHost(page.Callback()), Options{Profile: testProfile})

	res, err := b.Run(context.Background(), "greet", `return "hi";`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(res) != `"hi"` {
		t.Errorf("result = %s, want \"hi\"", res)
	}
}
