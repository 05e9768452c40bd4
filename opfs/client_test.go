package opfs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/opfsx/adapter"
	"github.com/pithecene-io/opfsx/bridge"
	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/internal/pagesim"
	"github.com/pithecene-io/opfsx/metrics"
	"github.com/pithecene-io/opfsx/script"
	"github.com/pithecene-io/opfsx/types"
)

var testProfile = bridge.Profile{
	Name:         "test",
	PollInterval: time.Millisecond,
	MaxAttempts:  100,
	PollRetries:  2,
	RetryBackoff: time.Millisecond,
}

type notifier struct {
	mu     sync.Mutex
	events []*adapter.ChangeEvent
	err    error
}

func (n *notifier) Publish(_ context.Context, ev *adapter.ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *notifier) ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Op+":"+ev.Path)
	}
	return out
}

type fixture struct {
	page    *pagesim.Page
	client  *Client
	notes   *notifier
	metrics *metrics.Collector
}

func newFixture(t *testing.T, opts ...pagesim.Option) *fixture {
	t.Helper()
	page := pagesim.New(opts...)
	m := metrics.NewCollector("sim", testProfile.Name)
	b := bridge.New(eval.ForHost(page), bridge.Options{Profile: testProfile, Metrics: m})
	n := &notifier{}
	return &fixture{
		page:    page,
		notes:   n,
		metrics: m,
		client: New(b, Options{
			Metrics:   m,
			Notifier:  n,
			Origin:    "https://app.example",
			SessionID: "sess-1",
		}),
	}
}

func TestClient_WriteThenRead(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	if err := f.client.Write(ctx, "hello.txt", "hello", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.client.Read(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "hello" {
		t.Errorf("Read = %q, want %q", got, "hello")
	}
}

func TestClient_CreateThenList(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	if err := f.client.Create(ctx, "x", types.KindDirectory); err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries, err := f.client.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := types.FileEntry{Name: "x", Kind: types.KindDirectory, Path: "x"}
	if len(entries) != 1 || entries[0] != want {
		t.Errorf("List = %+v, want [%+v]", entries, want)
	}
}

func TestClient_ListEmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	entries, err := f.client.List(t.Context(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List = %#v, want empty non-nil slice", entries)
	}
}

func TestClient_LargeFilePlaceholder(t *testing.T) {
	f := newFixture(t)
	if err := f.page.Put("big.txt", make([]byte, 1<<20+1), ""); err != nil {
		t.Fatal(err)
	}

	got, err := f.client.Read(t.Context(), "big.txt")
	if err != nil {
		t.Fatalf("Read must not fail for large files: %v", err)
	}
	if !strings.HasPrefix(got, types.PlaceholderPrefix) {
		t.Errorf("Read = %q, want placeholder", got)
	}

	meta, err := f.client.ReadWithMetadata(t.Context(), "big.txt")
	if err != nil {
		t.Fatalf("ReadWithMetadata: %v", err)
	}
	if !meta.TooLarge || !meta.IsPlaceholder() || meta.Size != 1<<20+1 {
		t.Errorf("ReadWithMetadata = %+v", meta)
	}
}

func TestClient_ReadWriteBytes(t *testing.T) {
	f := newFixture(t)
	data := []byte{0, 1, 2, 0x80, 0xff, '\n', '"'}

	if err := f.client.WriteBytes(t.Context(), "bin/raw.dat", data); err == nil {
		t.Fatal("write into missing directory should fail")
	}
	if err := f.client.Create(t.Context(), "bin", types.KindDirectory); err != nil {
		t.Fatal(err)
	}
	if err := f.client.WriteBytes(t.Context(), "bin/raw.dat", data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := f.client.ReadBytes(t.Context(), "bin/raw.dat")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("ReadBytes = %x, want %x", got, data)
	}
}

func TestClient_RenameAndMove(t *testing.T) {
	for _, fallback := range []bool{false, true} {
		name := "atomic"
		var opts []pagesim.Option
		if fallback {
			name = "fallback"
			opts = append(opts, pagesim.WithoutMove())
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, opts...)
			ctx := t.Context()
			if err := f.page.Put("a/one.txt", []byte("1"), ""); err != nil {
				t.Fatal(err)
			}
			if err := f.page.Mkdir("b"); err != nil {
				t.Fatal(err)
			}

			if err := f.client.Rename(ctx, "a/one.txt", "two.txt"); err != nil {
				t.Fatalf("Rename: %v", err)
			}
			if err := f.client.Move(ctx, "a/two.txt", "b/three.txt"); err != nil {
				t.Fatalf("Move: %v", err)
			}
			if got, ok := f.page.Get("b/three.txt"); !ok || string(got) != "1" {
				t.Errorf("moved file = %q, %v", got, ok)
			}
			if f.client.Exists(ctx, "a/one.txt") || f.client.Exists(ctx, "a/two.txt") {
				t.Error("old paths still exist")
			}

			var wantFallbacks int64
			if fallback {
				wantFallbacks = 2
			}
			if got := f.metrics.Snapshot().FallbackMoves; got != wantFallbacks {
				t.Errorf("FallbackMoves = %d, want %d", got, wantFallbacks)
			}

			f.notes.mu.Lock()
			defer f.notes.mu.Unlock()
			if len(f.notes.events) != 2 {
				t.Fatalf("events = %d, want 2", len(f.notes.events))
			}
			rename := f.notes.events[0]
			if rename.Op != "rename" || rename.Path != "a/one.txt" || rename.NewPath != "a/two.txt" {
				t.Errorf("rename event = %+v", rename)
			}
			if rename.Atomic == nil || *rename.Atomic == fallback {
				t.Errorf("rename atomic = %v, want %v", rename.Atomic, !fallback)
			}
			if rename.Origin != "https://app.example" || rename.SessionID != "sess-1" {
				t.Errorf("rename identity = %q %q", rename.Origin, rename.SessionID)
			}
		})
	}
}

func TestClient_MoveIntoOwnSubtree(t *testing.T) {
	for _, fallback := range []bool{false, true} {
		name := "atomic"
		var opts []pagesim.Option
		if fallback {
			name = "fallback"
			opts = append(opts, pagesim.WithoutMove())
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, opts...)
			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()
			if err := f.page.Put("a/b/keep.txt", []byte("k"), ""); err != nil {
				t.Fatal(err)
			}

			for _, dest := range []string{"a/b/a", "a/x"} {
				err := f.client.Move(ctx, "a", dest)
				if err == nil || !strings.Contains(err.Error(), script.ErrMsgMoveIntoSelf) {
					t.Errorf("Move(a, %s) err = %v, want %q", dest, err, script.ErrMsgMoveIntoSelf)
				}
			}
			if f.page.Kind("a/b/a") != "" || f.page.Kind("a/x") != "" {
				t.Error("rejected move left a copy behind")
			}
			if got, ok := f.page.Get("a/b/keep.txt"); !ok || string(got) != "k" {
				t.Errorf("source file = %q, %v", got, ok)
			}

			if err := f.client.Move(ctx, "a", "ab"); err != nil {
				t.Fatalf("Move(a, ab): %v", err)
			}
			if got, ok := f.page.Get("ab/b/keep.txt"); !ok || string(got) != "k" {
				t.Errorf("moved sibling file = %q, %v", got, ok)
			}
		})
	}
}

func TestClient_WriteRejectsInvalidUTF8(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	err := f.client.Write(ctx, "latin1.txt", "caf\xe9 au lait\n", false)
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("Write err = %v, want ErrInvalidUTF8", err)
	}
	if f.page.Kind("latin1.txt") != "" {
		t.Error("rejected text write created a file")
	}
	if ops := f.notes.ops(); len(ops) != 0 {
		t.Errorf("events = %v, want none", ops)
	}

	if err := f.client.WriteBytes(ctx, "latin1.txt", []byte("caf\xe9 au lait\n")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if got, _ := f.page.Get("latin1.txt"); string(got) != "caf\xe9 au lait\n" {
		t.Errorf("binary write = %q", got)
	}
}

func TestClient_DeleteAndExists(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	if err := f.page.Put("dir/sub/f.txt", []byte("x"), ""); err != nil {
		t.Fatal(err)
	}

	if !f.client.Exists(ctx, "dir/sub/f.txt") {
		t.Fatal("Exists = false for an existing file")
	}
	if err := f.client.Delete(ctx, "dir"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.client.Exists(ctx, "dir") {
		t.Error("Exists = true after delete")
	}
	if !f.client.Exists(ctx, "") {
		t.Error("root should always exist")
	}
}

func TestClient_ExistsNeverErrors(t *testing.T) {
	c := New(failingRunner{errors.New("host gone")}, Options{})
	if c.Exists(t.Context(), "anything") {
		t.Error("Exists = true when the runner fails")
	}
}

func TestClient_StorageEstimateAndDownload(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	if err := f.page.Put("f.bin", make([]byte, 42), ""); err != nil {
		t.Fatal(err)
	}

	est, err := f.client.StorageEstimate(ctx)
	if err != nil {
		t.Fatalf("StorageEstimate: %v", err)
	}
	if est.Usage != 42 || est.Quota <= est.Usage {
		t.Errorf("estimate = %+v", est)
	}

	if err := f.client.Download(ctx, "f.bin"); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := f.page.Downloads(); len(got) != 1 || got[0] != "f.bin" {
		t.Errorf("downloads = %v", got)
	}
}

func TestClient_ErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Read(t.Context(), "missing.txt")
	if bridge.KindOf(err) != bridge.KindRemote {
		t.Fatalf("err = %v, want remote bridge error", err)
	}

	insecure := newFixture(t, pagesim.Insecure())
	_, err = insecure.client.List(t.Context(), "")
	if err == nil || err.Error() != "OPFS requires a Secure Context (HTTPS or localhost)." {
		t.Errorf("err = %v", err)
	}
}

func TestClient_NotifierFailureIsNotReturned(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("webhook down")

	if err := f.client.Create(t.Context(), "d", types.KindDirectory); err != nil {
		t.Fatalf("Create should succeed despite notifier failure: %v", err)
	}
	if got := f.metrics.Snapshot().NotifyFailures; got != 1 {
		t.Errorf("NotifyFailures = %d, want 1", got)
	}
}

func TestClient_NotifiesOnlyMutations(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_ = f.client.Write(ctx, "/w.txt", "x", false)
	_ = f.client.Create(ctx, "c", types.KindDirectory)
	_, _ = f.client.List(ctx, "")
	_, _ = f.client.Read(ctx, "w.txt")
	_ = f.client.Exists(ctx, "w.txt")
	_, _ = f.client.StorageEstimate(ctx)
	_ = f.client.Delete(ctx, "c")
	_ = f.client.Delete(ctx, "c") // fails, no event

	want := []string{"write:w.txt", "create:c", "delete:c"}
	if got := f.notes.ops(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestClient_DecodeError(t *testing.T) {
	c := New(staticRunner(`"not a list"`), Options{})
	if _, err := c.List(t.Context(), ""); err == nil || !strings.Contains(err.Error(), "decode result") {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestClient_BuildError(t *testing.T) {
	c := New(staticRunner(`null`), Options{})
	if err := c.Create(t.Context(), "x", "socket"); err == nil {
		t.Error("Create with an invalid kind should fail")
	}
}

type failingRunner struct{ err error }

func (r failingRunner) Run(context.Context, string, string) (json.RawMessage, error) {
	return nil, r.err
}

type staticRunner string

func (r staticRunner) Run(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(r), nil
}
