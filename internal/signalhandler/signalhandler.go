// Package signalhandler implements the reactor's signal-FD consumer (spec
// §4.4): it owns the signal-FD and the cached container termination
// status, reaps children on SIGCHLD, and forwards other signals to the
// container. Grounded on original_source's container/signal.rs Handler and
// the teacher's cmd/containerd-shim/main.go SIGCHLD dispatch.
package signalhandler

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
	"shimmy/internal/procutil"
)

// Handler consumes one signal-FD and tracks the container's termination.
type Handler struct {
	sigfd        *procutil.SignalFD
	containerPid int
	status       model.TerminationStatus
	log          logrus.FieldLogger
}

// New creates a Handler bound to sigfd and the known container PID.
func New(sigfd *procutil.SignalFD, containerPid int, log logrus.FieldLogger) *Handler {
	return &Handler{sigfd: sigfd, containerPid: containerPid, log: log}
}

// Fd returns the signal-FD, for epoll registration.
func (h *Handler) Fd() int { return h.sigfd.Fd() }

// SeedContainerStatus pre-populates the cached container status for the
// Conjoint runtime outcome (spec §4.2): the container was already reaped
// in the same window as the runtime, before the reactor ever registered
// the signal-FD, so there is no SIGCHLD left to deliver it.
func (h *Handler) SeedContainerStatus(status model.TerminationStatus) error {
	if h.status != nil {
		return errors.Errorf("container pid %d status seeded twice (already %s)", h.containerPid, h.status)
	}
	h.status = status
	return nil
}

// ContainerStatus returns the cached container TerminationStatus, or
// (nil, false) if the container hasn't been reaped yet (spec §3 invariant
// 2: transitions None -> Some exactly once).
func (h *Handler) ContainerStatus() (model.TerminationStatus, bool) {
	return h.status, h.status != nil
}

// HandleSignal reads exactly one signal from the signal-FD and dispatches
// it: SIGCHLD triggers a non-blocking reap; SIGINT, SIGQUIT and SIGTERM are
// forwarded to the container PID. Any other signal is returned as an error.
// The signal-FD is only ever created for the four signals spec §4.1 names,
// so this does not happen in practice, but the return value lets callers
// assert it.
func (h *Handler) HandleSignal() error {
	sig, err := h.sigfd.ReadSignal()
	if err != nil {
		return errors.Wrap(err, "read_signal failed")
	}

	switch sig {
	case unix.SIGCHLD:
		return h.handleSIGCHLD()
	case unix.SIGINT, unix.SIGQUIT, unix.SIGTERM:
		return h.forward(sig)
	default:
		return errors.Errorf("unexpected signal %s received by the signal handler", sig)
	}
}

func (h *Handler) handleSIGCHLD() error {
	statuses, err := procutil.ReapAll()
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Pid() != h.containerPid {
			// A grandchild reparented to the shim via the subreaper bit
			// (spec §4.1 step 2, §9) — not tracked, just reaped away.
			h.log.WithField("pid", st.Pid()).Debug("reaped unrelated descendant")
			continue
		}
		if h.status != nil {
			return errors.Errorf("container pid %d reaped twice (already %s, now %s)", h.containerPid, h.status, st)
		}
		h.status = st
	}
	return nil
}

func (h *Handler) forward(sig unix.Signal) error {
	h.log.WithField("signal", sig).Debug("forwarding signal to container")
	delivered, err := procutil.Kill(h.containerPid, sig)
	if err != nil {
		return err
	}
	if !delivered {
		h.log.WithField("signal", sig).Warn("container process not found, signal dropped")
	}
	return nil
}

// Close closes the underlying signal-FD.
func (h *Handler) Close() error { return h.sigfd.Close() }
