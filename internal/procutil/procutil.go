// Package procutil wraps the low-level process-supervision primitives the
// shim relies on: subreaper registration, parent-death signal, signal mask
// handoff, the signal-FD, and non-blocking reaping. It is the Go analogue of
// nixtools in the original implementation.
package procutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetChildSubreaper flags the calling process as a subreaper (man 2 prctl,
// PR_SET_CHILD_SUBREAPER): descendants that lose their immediate parent are
// reparented here instead of to PID 1.
func SetChildSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "prctl(PR_SET_CHILD_SUBREAPER) failed")
	}
	return nil
}

// BlockSignals blocks the given signals on the calling thread's mask and
// returns the previous mask so it can be restored later (e.g. by the
// runtime helper right before exec).
func BlockSignals(signals ...unix.Signal) (unix.Sigset_t, error) {
	var old unix.Sigset_t
	set := sigset(signals)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return old, errors.Wrap(err, "pthread_sigmask(SIG_BLOCK) failed")
	}
	return old, nil
}

// RestoreSignalMask restores a previously captured signal mask.
func RestoreSignalMask(mask unix.Sigset_t) error {
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &mask, nil); err != nil {
		return errors.Wrap(err, "pthread_sigmask(SIG_SETMASK) failed")
	}
	return nil
}

// EmptySignalMask unblocks every signal on the calling thread, used by the
// runtime helper right before it execs the OCI runtime so the runtime
// inherits the default disposition rather than the shim's blocked set.
func EmptySignalMask() error {
	var empty unix.Sigset_t
	return RestoreSignalMask(empty)
}

func sigset(signals []unix.Signal) unix.Sigset_t {
	var set unix.Sigset_t
	for _, s := range signals {
		// Sigset_t is a fixed-size bitmask; golang.org/x/sys/unix exposes no
		// portable "add signal" helper, so bit twiddle directly as libc's
		// sigaddset would. Signal numbers are 1-based.
		word := (uint(s) - 1) / 64
		bit := (uint(s) - 1) % 64
		set.Val[word] |= 1 << bit
	}
	return set
}
