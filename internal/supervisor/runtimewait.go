package supervisor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
	"shimmy/internal/procutil"
)

// RuntimeWait implements the runtime-wait phase (spec §4.2): block on the
// signal-FD until the runtime helper's PID has been reaped. A container
// reaped in the same window (the runtime died abnormally taking it down,
// or before the container PID was ever recorded) is carried forward as the
// outcome's Conjoint case; a termination signal that could not be
// forwarded because the runtime had already exited is remembered as
// "inflight" for later replay onto the container.
//
// Grounded on original_source's runtime.rs await_runtime_termination, with
// the reactor's signal-FD poll (procutil.SignalFD.Wait) standing in for
// mio's loop since no reactor exists yet at this point in the supervision
// pipeline.
func RuntimeWait(sigfd *procutil.SignalFD, runtimePid int) (model.RuntimeOutcome, error) {
	var containerStatus model.TerminationStatus
	var inflight unix.Signal
	var hasInflight bool

	for {
		if err := sigfd.Wait(); err != nil {
			return nil, err
		}
		sig, err := sigfd.ReadSignal()
		if err != nil {
			return nil, err
		}

		switch sig {
		case unix.SIGCHLD:
			runtimeStatus, newContainer, err := reapRuntimeWindow(runtimePid, containerStatus)
			if err != nil {
				return nil, err
			}
			containerStatus = newContainer
			if runtimeStatus != nil {
				return model.NewRuntimeOutcome(runtimeStatus, containerStatus, inflight, hasInflight), nil
			}

		case unix.SIGINT, unix.SIGQUIT, unix.SIGTERM:
			delivered, err := procutil.Kill(runtimePid, sig)
			if err != nil {
				return nil, err
			}
			if !delivered {
				// The runtime is already gone; remember the signal for
				// replay once the container PID is knowable (spec §4.2,
				// §8 scenario 4 "inflight signal").
				inflight = sig
				hasInflight = true
			}

		default:
			return nil, errors.Errorf("unexpected signal %s received during runtime-wait phase", sig)
		}
	}
}

// reapRuntimeWindow non-blockingly reaps every reapable child and
// partitions the results into (runtime status, container status),
// asserting never more than one of either per window (spec §4.2).
func reapRuntimeWindow(runtimePid int, container model.TerminationStatus) (runtime, newContainer model.TerminationStatus, err error) {
	statuses, err := procutil.ReapAll()
	if err != nil {
		return nil, container, err
	}
	newContainer = container
	for _, st := range statuses {
		if st.Pid() == runtimePid {
			if runtime != nil {
				return nil, newContainer, errors.Errorf("runtime pid %d reaped twice in one window", runtimePid)
			}
			runtime = st
			continue
		}
		if newContainer != nil {
			return nil, newContainer, errors.Errorf("ambiguous container termination status: already have %s, now %s", newContainer, st)
		}
		newContainer = st
	}
	return runtime, newContainer, nil
}
