package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputEventWireLayout(t *testing.T) {
	e := InputEvent{Code: MouseMove, Action: ActionDown, X: 0x0102, Y: 0x0304}
	b, err := e.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{204, 100, 1, 2, 3, 4}, b)

	var got InputEvent
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, e, got)

	assert.ErrorIs(t, got.UnmarshalBinary(b[:5]), ErrProtocol)
}

func TestInputEventStream(t *testing.T) {
	events := []InputEvent{
		{Code: 30, Action: ActionDown},
		{Code: 30, Action: ActionUp},
		{Code: MouseLeft, Action: ActionDown, X: 640, Y: 480},
		{Code: MouseScroll, Action: ScrollUp, X: 10, Y: 10},
	}

	var buf bytes.Buffer
	for _, e := range events {
		require.NoError(t, WriteInputEvent(&buf, e))
	}
	assert.Equal(t, len(events)*InputEventSize, buf.Len())

	for _, want := range events {
		got, err := ReadInputEvent(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadInputEvent(&buf)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestInputEventIsMouse(t *testing.T) {
	assert.False(t, InputEvent{Code: 42}.IsMouse())
	assert.False(t, InputEvent{Code: 199}.IsMouse())
	assert.True(t, InputEvent{Code: MouseThreshold}.IsMouse())
	assert.True(t, InputEvent{Code: MouseRight}.IsMouse())
}
