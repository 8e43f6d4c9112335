package registry

import (
	"syscall"

	"launchd-go/errors"
)

func signalTerm(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "signal-term")
	}
	return nil
}
