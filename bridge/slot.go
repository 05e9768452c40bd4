package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/opfsx/inject"
)

// SlotPrefix starts every slot name.
const SlotPrefix = "__opfsx_"

// Slot states.
const (
	StatePending = "pending"
	StateDone    = "done"
	StateError   = "error"
)

// NewSlot returns a fresh slot name: prefix, unix milliseconds, and ten hex
// characters of a random UUID.
func NewSlot() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return SlotPrefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + id[:10]
}

// Wrap turns an async function body into an expression that records its
// progress in the named slot and returns the slot's JSON text.
//
// The slot is created pending and moves once to done or error. A slot that
// was deleted before the body settled stays deleted.
func Wrap(slot, body string) string {
	return `(function () {
  const g = globalThis;
  const k = ` + inject.Quote(slot) + `;
  g[k] = { state: "pending" };
  const settle = function (next) {
    if (g[k] && g[k].state === "pending") g[k] = next;
  };
  const fail = function (e) {
    settle({ state: "error", error: String((e && e.message) || e) });
  };
  try {
    (async function () {
` + body + `
    })().then(function (result) {
      if (result === undefined) result = null;
      try {
        JSON.stringify(result);
      } catch (e) {
        fail(new Error("result is not serializable: " + ((e && e.message) || e)));
        return;
      }
      settle({ state: "done", result: result });
    }, fail);
  } catch (e) {
    fail(e);
  }
  return JSON.stringify(g[k]);
})()`
}

// PollScript returns an expression yielding the slot's JSON text, or null
// when the slot does not exist.
func PollScript(slot string) string {
	return `(function () {
  const s = globalThis[` + inject.Quote(slot) + `];
  return s === undefined ? null : JSON.stringify(s);
})()`
}

// CleanupScript returns an expression deleting the slot.
func CleanupScript(slot string) string {
	return `(function () {
  try { delete globalThis[` + inject.Quote(slot) + `]; } catch (e) {}
  return true;
})()`
}

// slotState is a decoded slot.
type slotState struct {
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// decodeSlot decodes an evaluation value produced by Wrap or PollScript.
// The value is a JSON string holding the slot's JSON, or null. A nil state
// with a nil error means the slot is absent.
func decodeSlot(v json.RawMessage) (*slotState, error) {
	var text *string
	if err := json.Unmarshal(v, &text); err != nil {
		return nil, fmt.Errorf("slot value is not a string: %w", err)
	}
	if text == nil {
		return nil, nil
	}
	var st slotState
	if err := json.Unmarshal([]byte(*text), &st); err != nil {
		return nil, fmt.Errorf("slot text is not JSON: %w", err)
	}
	switch st.State {
	case StatePending, StateDone:
	case StateError:
		if st.Error == nil {
			return nil, fmt.Errorf("slot in error state without a message")
		}
	default:
		return nil, fmt.Errorf("unknown slot state %q", st.State)
	}
	if len(st.Result) == 0 {
		st.Result = json.RawMessage("null")
	}
	return &st, nil
}
