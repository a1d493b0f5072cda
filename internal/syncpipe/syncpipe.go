// Package syncpipe implements the status-report protocol to the container
// manager (spec §4.6, §6): unframed JSON objects written to an inherited
// file descriptor. Grounded on original_source's syncpipe.rs, adapted from
// a single message type to the two the spec defines.
package syncpipe

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SyncPipe is the manager-supplied FD the shim reports startup and
// abnormal-termination status on.
type SyncPipe struct {
	file *os.File
}

// New wraps an inherited sync-pipe FD, setting FD_CLOEXEC on it (spec §6:
// "must have FD_CLOEXEC set after adoption") so it does not leak into the
// runtime's exec.
func New(fd int) (*SyncPipe, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "fcntl(F_SETFD, FD_CLOEXEC) on sync pipe failed")
	}
	return &SyncPipe{file: os.NewFile(uintptr(fd), "syncpipe")}, nil
}

type containerPidMessage struct {
	Kind string `json:"kind"`
	Pid  int    `json:"pid"`
}

// ReportContainerPid sends the one-time "container_pid" message (spec §4.6),
// which must happen before the reactor registers the attach listener.
func (s *SyncPipe) ReportContainerPid(pid int) error {
	return s.write(containerPidMessage{Kind: "container_pid", Pid: pid})
}

type runtimeAbnormalTerminationMessage struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Stderr string `json:"stderr"`
}

// ReportRuntimeAbnormalTermination sends the "runtime_abnormal_termination"
// message (spec §4.6, §8 scenario 2) when the runtime-wait phase didn't
// observe a clean exit.
func (s *SyncPipe) ReportRuntimeAbnormalTermination(status string, stderr []byte) error {
	return s.write(runtimeAbnormalTerminationMessage{
		Kind:   "runtime_abnormal_termination",
		Status: status,
		Stderr: decodeStderr(stderr),
	})
}

func decodeStderr(b []byte) string {
	// utf8-or-repr, per spec §4.6: valid UTF-8 stderr is passed through
	// as-is; anything else falls back to a Go %q-style representation
	// rather than silently mangling bytes, matching original_source's
	// String::from_utf8(...).unwrap_or(format!("{:?}", stderr)).
	if isValidUTF8(b) {
		return string(b)
	}
	return quoteBytes(b)
}

func (s *SyncPipe) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "sync pipe JSON marshal failed")
	}
	if _, err := s.file.Write(data); err != nil {
		return errors.Wrap(err, "sync pipe write failed")
	}
	return nil
}

// Close closes the underlying FD.
func (s *SyncPipe) Close() error { return s.file.Close() }
