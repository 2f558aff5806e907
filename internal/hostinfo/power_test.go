package hostinfo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecPowerDisabled(t *testing.T) {
	p := NewExecPower(false)
	err := p.Power(context.Background(), PowerRequest{Action: PowerShutdown})
	assert.ErrorIs(t, err, ErrPowerDisabled)
}

func TestExecPowerRunsCommand(t *testing.T) {
	var got []string
	p := &ExecPower{Enabled: true, run: func(_ context.Context, name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}}

	err := p.Power(context.Background(), PowerRequest{Action: PowerRestart})
	if err != nil && strings.Contains(err.Error(), "not supported") {
		t.Skip("no power commands on this platform")
	}
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	err = p.Power(context.Background(), PowerRequest{Action: "hibernate-forever"})
	assert.Error(t, err)

	zero := 0
	err = p.Power(context.Background(), PowerRequest{Action: PowerShutdown, Seconds: &zero})
	assert.Error(t, err)
}
