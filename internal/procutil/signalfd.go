package procutil

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SignalFD wraps a Linux signalfd(2) descriptor: once the corresponding
// signals are blocked (see BlockSignals), they arrive as readable events on
// this FD carrying a signalfd_siginfo record instead of invoking an async
// handler — the mechanism spec §4's "signal source" is built on.
type SignalFD struct {
	file *os.File
}

// NewSignalFD creates a non-blocking signalfd for the given signals. The
// signals must already be blocked on this thread (and inherited by every
// other thread in the process) or reads will race with default disposition.
func NewSignalFD(signals ...unix.Signal) (*SignalFD, error) {
	set := sigset(signals)
	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "signalfd() failed")
	}
	return &SignalFD{file: os.NewFile(uintptr(fd), "signalfd")}, nil
}

// Fd returns the underlying file descriptor, for registration with a poller.
func (s *SignalFD) Fd() int { return int(s.file.Fd()) }

// Wait blocks until the signalfd is readable. The runtime-wait phase (spec
// §4.2) has no reactor/poller yet — just this one descriptor to wait on —
// so a bare poll(2) on it stands in for the reactor's epoll loop.
func (s *SignalFD) Wait() error {
	fds := []unix.PollFd{{Fd: int32(s.Fd()), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return errors.Wrap(err, "poll(signalfd) failed")
	}
}

// Close closes the signalfd.
func (s *SignalFD) Close() error { return s.file.Close() }

// signalfdSiginfoSize is sizeof(struct signalfd_siginfo) on Linux — 128
// bytes, padded well past the fields we read.
const signalfdSiginfoSize = 128

// ReadSignal reads exactly one signalfd_siginfo record and returns the
// signal it carries. Only the leading ssi_signo (uint32) field is decoded;
// the spec does not require the rest of the record (pid, status, ...) for
// forwarding decisions.
func (s *SignalFD) ReadSignal() (unix.Signal, error) {
	var buf [signalfdSiginfoSize]byte
	n, err := s.file.Read(buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "read(signalfd) failed")
	}
	if n < 4 {
		return 0, errors.Errorf("short read from signalfd: %d bytes", n)
	}
	signo := binary.LittleEndian.Uint32(buf[0:4])
	return unix.Signal(signo), nil
}
