//go:build windows

package hostinfo

import "strconv"

func powerCommand(req PowerRequest) ([]string, error) {
	switch req.Action {
	case PowerShutdown:
		if err := validateDelay(req); err != nil {
			return nil, err
		}
		seconds := 1
		if req.Seconds != nil {
			seconds = *req.Seconds
		}
		return []string{"shutdown", "/s", "/t", strconv.Itoa(seconds)}, nil
	case PowerRestart:
		return []string{"shutdown", "/r", "/t", "1"}, nil
	case PowerLock:
		return []string{"rundll32.exe", "user32.dll,LockWorkStation"}, nil
	case PowerCancelScheduled:
		return []string{"shutdown", "/a"}, nil
	}
	return nil, unknownAction(req.Action)
}
