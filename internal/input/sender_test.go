package input

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/protocol"
)

func readAll(t *testing.T, buf *bytes.Buffer) []protocol.InputEvent {
	t.Helper()
	var out []protocol.InputEvent
	for buf.Len() > 0 {
		ev, err := protocol.ReadInputEvent(buf)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestSenderMoveRateLimit(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSender(&buf, protocol.PlatformWindows)
	require.NoError(t, err)

	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }

	sent, err := s.Move(1, 1)
	require.NoError(t, err)
	assert.True(t, sent)

	clock = clock.Add(10 * time.Millisecond)
	sent, _ = s.Move(2, 2)
	assert.False(t, sent)

	clock = clock.Add(DefaultMoveInterval)
	sent, _ = s.Move(3, 3)
	assert.True(t, sent)

	events := readAll(t, &buf)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.InputEvent{Code: protocol.MouseMove, X: 1, Y: 1}, events[0])
	assert.Equal(t, uint16(3), events[1].X)
}

func TestSenderButtonsAndScroll(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSender(&buf, protocol.PlatformX11)
	require.NoError(t, err)

	require.NoError(t, s.Button(ButtonLeft, true, 100, 200))
	require.NoError(t, s.Button(ButtonRight, false, -5, 70000))
	require.NoError(t, s.Scroll(true, 1, 1))
	require.NoError(t, s.Scroll(false, 1, 1))

	assert.Equal(t, []protocol.InputEvent{
		{Code: protocol.MouseLeft, Action: protocol.ActionDown, X: 100, Y: 200},
		{Code: protocol.MouseRight, Action: protocol.ActionUp, X: 0, Y: 0xffff},
		{Code: protocol.MouseScroll, Action: protocol.ScrollUp, X: 1, Y: 1},
		{Code: protocol.MouseScroll, Action: protocol.ScrollDown, X: 1, Y: 1},
	}, readAll(t, &buf))
}

func TestSenderKeys(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSender(&buf, protocol.PlatformMac)
	require.NoError(t, err)

	require.NoError(t, s.Key("a", true))
	require.NoError(t, s.Key("up", false))
	assert.ErrorIs(t, s.Key("scrolllock", true), ErrUnmappedKey)
	assert.ErrorIs(t, s.KeyCode(protocol.MouseMove, true), ErrUnmappedKey)

	assert.Equal(t, []protocol.InputEvent{
		{Code: 0, Action: protocol.ActionDown},
		{Code: 126, Action: protocol.ActionUp},
	}, readAll(t, &buf))
}

func TestSenderToRelay(t *testing.T) {
	for _, p := range platforms {
		var buf bytes.Buffer
		s, err := NewSender(&buf, p)
		require.NoError(t, err)
		require.NoError(t, s.Key("shift", true))
		require.NoError(t, s.Key("/", true))
		require.NoError(t, s.Key("shift", false))
		require.NoError(t, s.Key("/", true))

		r, inj, _ := testRelay(t, p)
		_ = r.Run(context.Background(), &buf)
		assert.Equal(t, []string{"down ?", "down /"}, inj.Calls(), p)
	}
}
