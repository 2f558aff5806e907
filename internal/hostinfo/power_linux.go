//go:build linux

package hostinfo

import "strconv"

// powerCommand maps a request onto systemd/sysvinit tooling. shutdown
// schedules in whole minutes, so delays round up.
func powerCommand(req PowerRequest) ([]string, error) {
	switch req.Action {
	case PowerShutdown:
		if err := validateDelay(req); err != nil {
			return nil, err
		}
		if req.Seconds == nil {
			return []string{"shutdown", "-h", "now"}, nil
		}
		minutes := (*req.Seconds + 59) / 60
		return []string{"shutdown", "-h", "+" + strconv.Itoa(minutes)}, nil
	case PowerRestart:
		return []string{"shutdown", "-r", "now"}, nil
	case PowerLock:
		return []string{"loginctl", "lock-session"}, nil
	case PowerCancelScheduled:
		return []string{"shutdown", "-c"}, nil
	}
	return nil, unknownAction(req.Action)
}
