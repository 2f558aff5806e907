//go:build darwin

package hostinfo

import "strconv"

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
		return []string{"pmset", "displaysleepnow"}, nil
	case PowerCancelScheduled:
		return []string{"killall", "shutdown"}, nil
	}
	return nil, unknownAction(req.Action)
}
