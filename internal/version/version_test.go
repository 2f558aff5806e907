package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBanner(t *testing.T) {
	b := Banner("agent")
	assert.True(t, strings.HasPrefix(b, "agent v"+Version))
	assert.Contains(t, b, BuildTime)
	assert.Contains(t, b, runtime.GOOS+"/"+runtime.GOARCH)
}
