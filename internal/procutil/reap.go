package procutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
)

// ReapAll non-blockingly waits on every reapable child (waitpid(-1,
// WNOHANG)) and returns a TerminationStatus for each, following the
// teacher's Reap() in cmd/containerd-shim/main.go generalized to the
// model.TerminationStatus tagged type. ECHILD ("no children left") is not
// an error, matching spec §7's "Reap returns ECHILD: never fatal".
func ReapAll() ([]model.TerminationStatus, error) {
	var statuses []model.TerminationStatus
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.ECHILD {
				return statuses, nil
			}
			return statuses, errors.Wrap(err, "wait4(-1, WNOHANG) failed")
		}
		if pid <= 0 {
			return statuses, nil
		}
		statuses = append(statuses, model.FromWaitStatus(pid, ws))
	}
}

// Kill sends sig to pid, treating ESRCH ("no such process") as a non-error
// outcome the caller reports rather than propagates, matching
// nixtools::process::kill's KillResult::ProcessNotFound.
func Kill(pid int, sig unix.Signal) (delivered bool, err error) {
	if kerr := unix.Kill(pid, sig); kerr != nil {
		if kerr == unix.ESRCH {
			return false, nil
		}
		return false, errors.Wrapf(kerr, "kill(%d, %s) failed", pid, sig)
	}
	return true, nil
}
