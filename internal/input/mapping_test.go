package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaropoint/mcc/internal/protocol"
)

func TestWithPointMapping(t *testing.T) {
	inj := &fakeInjector{}
	double := func(x, y int) (int, int) { return 1920 + 2*x, 2 * y }
	r, err := NewRelay(protocol.PlatformX11, WithPointMapping(inj, double), nil)
	require.NoError(t, err)

	require.NoError(t, r.Process(protocol.InputEvent{Code: protocol.MouseMove, X: 1000, Y: 500}))
	require.NoError(t, r.Process(protocol.InputEvent{Code: protocol.MouseLeft, Action: protocol.ActionDown, X: 1, Y: 2}))
	require.NoError(t, r.Process(protocol.InputEvent{Code: 38, Action: protocol.ActionDown}))

	assert.Equal(t, []string{"move 3920,1000", "move 1922,4", "button left true", "down a"}, inj.Calls())
}

func TestWithPointMappingNil(t *testing.T) {
	inj := &fakeInjector{}
	assert.Same(t, Injector(inj), WithPointMapping(inj, nil))
}
