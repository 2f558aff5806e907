package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/protocol"
)

func newTestDispatcher() *Dispatcher {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchUnknown(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), protocol.Command{Type: "software_inventory"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, UnknownCommand, resp.Message)
}

func TestDispatchRoutes(t *testing.T) {
	d := newTestDispatcher()
	d.Handle("echo", func(_ context.Context, cmd protocol.Command) protocol.Response {
		return protocol.Success(cmd.Data)
	})
	d.Handle("other", func(context.Context, protocol.Command) protocol.Response {
		return protocol.Failure("nope")
	})

	resp := d.Dispatch(context.Background(), protocol.Command{Type: "echo", Data: map[string]any{"k": "v"}})
	require.True(t, resp.OK())
	var got map[string]string
	require.NoError(t, resp.Bind(&got))
	assert.Equal(t, "v", got["k"])

	types := d.Types()
	sort.Strings(types)
	assert.Equal(t, []string{"echo", "other"}, types)
}

func TestDispatchRecoversPanic(t *testing.T) {
	d := newTestDispatcher()
	d.Handle("boom", func(context.Context, protocol.Command) protocol.Response {
		panic("kaboom")
	})

	resp := d.Dispatch(context.Background(), protocol.Command{Type: "boom"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "kaboom")

	// The dispatcher keeps working afterwards.
	resp = d.Dispatch(context.Background(), protocol.Command{Type: "missing"})
	assert.Equal(t, UnknownCommand, resp.Message)
}

func TestDispatchRejectsInvalidStatus(t *testing.T) {
	d := newTestDispatcher()
	d.Handle("zero", func(context.Context, protocol.Command) protocol.Response {
		return protocol.Response{}
	})
	resp := d.Dispatch(context.Background(), protocol.Command{Type: "zero"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	_, err := protocol.EncodeResponse(resp)
	assert.NoError(t, err)
}

func TestBind(t *testing.T) {
	type req struct {
		Action  string `json:"action"`
		Seconds *int   `json:"seconds"`
	}
	h := Bind(func(_ context.Context, r req) protocol.Response {
		if r.Seconds == nil {
			return protocol.Success(map[string]any{"action": r.Action})
		}
		return protocol.Success(map[string]any{"action": r.Action, "seconds": *r.Seconds})
	})

	resp := h(context.Background(), protocol.Command{Type: "p", Data: map[string]any{"action": "lock"}})
	require.True(t, resp.OK())
	assert.JSONEq(t, `{"action":"lock"}`, string(resp.Data))

	resp = h(context.Background(), protocol.Command{Type: "p", Data: map[string]any{"action": "lock", "seconds": float64(5)}})
	assert.JSONEq(t, `{"action":"lock","seconds":5}`, string(resp.Data))

	resp = h(context.Background(), protocol.Command{Type: "p", Data: map[string]any{"seconds": "x"}})
	assert.False(t, resp.OK())
	assert.Contains(t, resp.Message, "invalid p data")
}

func TestResult(t *testing.T) {
	ok := Result(func(context.Context) (int, error) { return 7, nil })
	resp := ok(context.Background(), protocol.Command{Type: "n"})
	assert.JSONEq(t, `7`, string(resp.Data))

	bad := Result(func(context.Context) (int, error) { return 0, errors.New("sensor offline") })
	resp = bad(context.Background(), protocol.Command{Type: "n"})
	assert.Equal(t, "n: sensor offline", resp.Message)
}
