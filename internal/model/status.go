// Package model holds the small set of value types shared across the shim:
// process termination statuses and the outcome of the runtime-wait phase.
package model

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TerminationStatus is the result of reaping a single child process. It is
// a sealed interface with exactly two implementations, Exited and Signaled,
// mirroring how the teacher's event.go models exit outcomes as a small
// family of concrete structs behind a common interface.
type TerminationStatus interface {
	// Pid returns the process ID this status was observed for.
	Pid() int
	fmt.Stringer
	sealedTerminationStatus()
}

// Exited records a process that called exit() (or returned from main) with
// the given code.
type Exited struct {
	PidValue int
	Code     int32
}

func (e Exited) Pid() int { return e.PidValue }

func (e Exited) String() string { return fmt.Sprintf("Exited with code %d", e.Code) }

func (Exited) sealedTerminationStatus() {}

// Signaled records a process killed by an unhandled signal.
type Signaled struct {
	PidValue int
	Signal   unix.Signal
}

func (s Signaled) Pid() int { return s.PidValue }

func (s Signaled) String() string { return fmt.Sprintf("received signal %s", s.Signal) }

func (Signaled) sealedTerminationStatus() {}

// FromWaitStatus builds a TerminationStatus from a reaped pid and its
// syscall.WaitStatus, the Go equivalent of nix's WaitStatus pattern match.
func FromWaitStatus(pid int, ws unix.WaitStatus) TerminationStatus {
	if ws.Signaled() {
		return Signaled{PidValue: pid, Signal: ws.Signal()}
	}
	return Exited{PidValue: pid, Code: int32(ws.ExitStatus())}
}

// RuntimeOutcome is the result of the runtime-wait phase (spec §4.2): either
// only the runtime was reaped in this window (Solitary), or both the
// runtime and the container were (Conjoint) because the runtime died
// abnormally and took the container down with it, or before the container
// PID was ever recorded.
type RuntimeOutcome interface {
	// Runtime returns the runtime's own termination status.
	Runtime() TerminationStatus
	// Container returns the container's termination status, if one was
	// observed in the same window.
	Container() (TerminationStatus, bool)
	// Inflight returns a termination signal received by the shim while the
	// runtime was exiting and the container PID was not yet knowable.
	Inflight() (unix.Signal, bool)
	fmt.Stringer
	sealedRuntimeOutcome()
}

type solitary struct {
	runtime  TerminationStatus
	inflight unix.Signal
	hasFlt   bool
}

func (s solitary) Runtime() TerminationStatus                 { return s.runtime }
func (s solitary) Container() (TerminationStatus, bool)        { return nil, false }
func (s solitary) Inflight() (unix.Signal, bool)               { return s.inflight, s.hasFlt }
func (solitary) sealedRuntimeOutcome()                         {}
func (s solitary) String() string {
	if s.hasFlt {
		return fmt.Sprintf("Runtime %s. Beware: inflight %s detected.", s.runtime, s.inflight)
	}
	return fmt.Sprintf("Runtime %s.", s.runtime)
}

type conjoint struct {
	runtime   TerminationStatus
	container TerminationStatus
	inflight  unix.Signal
	hasFlt    bool
}

func (c conjoint) Runtime() TerminationStatus          { return c.runtime }
func (c conjoint) Container() (TerminationStatus, bool) { return c.container, true }
func (c conjoint) Inflight() (unix.Signal, bool)        { return c.inflight, c.hasFlt }
func (conjoint) sealedRuntimeOutcome()                  {}
func (c conjoint) String() string {
	if c.hasFlt {
		return fmt.Sprintf("Runtime %s. Container %s. Beware: inflight %s detected.", c.runtime, c.container, c.inflight)
	}
	return fmt.Sprintf("Runtime %s. Container %s.", c.runtime, c.container)
}

// NewRuntimeOutcome builds a RuntimeOutcome from the runtime's status, an
// optional container status observed in the same window, and an optional
// inflight signal, following the same constructor logic as the original
// runtime.rs TerminationStatus::new.
func NewRuntimeOutcome(runtime TerminationStatus, container TerminationStatus, inflight unix.Signal, hasInflight bool) RuntimeOutcome {
	if container == nil {
		return solitary{runtime: runtime, inflight: inflight, hasFlt: hasInflight}
	}
	return conjoint{runtime: runtime, container: container, inflight: inflight, hasFlt: hasInflight}
}

// CleanExit reports whether the outcome is the sole case the shim proceeds
// to serve on: a Solitary runtime exit with code 0. A Conjoint outcome
// (the container was reaped in the same SIGCHLD window as the runtime) is
// never clean, even when the runtime's own status is Exited(0) — the
// container is already gone, so there is nothing left to serve. Mirrors
// original_source's main.rs, which only matches
// Solitary(Exited(.., 0), inflight) to proceed and treats every Conjoint
// arm as abnormal regardless of the runtime's status.
func CleanExit(o RuntimeOutcome) bool {
	ex, ok := o.Runtime().(Exited)
	if !ok || ex.Code != 0 {
		return false
	}
	_, hasContainer := o.Container()
	return !hasContainer
}
