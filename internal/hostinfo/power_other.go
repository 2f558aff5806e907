//go:build !linux && !darwin && !windows

package hostinfo

import "fmt"

func powerCommand(req PowerRequest) ([]string, error) {
	return nil, fmt.Errorf("power action %q not supported on this platform", req.Action)
}
