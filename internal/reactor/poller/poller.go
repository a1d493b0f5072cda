// Package poller is a thin, level-triggered epoll wrapper used by the
// reactor. It is adapted from the teacher's archutils/epoll.go (a
// straight-through syscall.Epoll* wrapper) and monitor/monitor_linux.go
// (which drove the wrapper from a run loop) — generalized from "notify once
// on process exit (EPOLLHUP)" to "deliver every readiness event to the
// caller's dispatch loop".
package poller

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness conditions to wait for on a
// registration, matching the EPOLLIN/EPOLLHUP/EPOLLERR flags spec §4.3
// assigns per fixed token.
type Interest uint32

const (
	Readable Interest = unix.EPOLLIN
	Writable Interest = unix.EPOLLOUT
	HangUp   Interest = unix.EPOLLHUP
	ErrFlag  Interest = unix.EPOLLERR
)

// Event is one readiness notification returned from Wait.
type Event struct {
	Token      uint64
	Readable   bool
	Writable   bool
	HangUp     bool
	Err        bool
}

// Poller is a single epoll instance. All registrations are level-triggered
// (spec §4.3: "simpler to reason about partial reads" — no EPOLLET is ever
// set), so a source with data left unread after one dispatch is notified
// again on the next Wait.
type Poller struct {
	epfd int
}

// New creates a fresh epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1 failed")
	}
	return &Poller{epfd: fd}, nil
}

// Add registers fd for the given interests, tagged with an opaque token
// that Wait echoes back so the caller can dispatch without a second lookup.
func (p *Poller) Add(fd int, token uint64, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	binaryPutToken(&ev, token)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl(ADD, fd=%d) failed", fd)
	}
	return nil
}

// Remove deregisters fd. Per spec invariant 4, callers must always Remove
// before closing the underlying FD.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll_ctl(DEL, fd=%d) failed", fd)
	}
	return nil
}

// Wait blocks up to timeoutMillis (use -1 to block indefinitely, 0 for a
// non-blocking poll — spec §4.3's "heartbeat=0 to drive non-blocking
// drain") and returns the events delivered this call, reusing dst's backing
// array; any events already in dst are discarded.
func (p *Poller) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	var raw [128]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst[:0], nil
		}
		return nil, errors.Wrap(err, "epoll_wait failed")
	}
	dst = dst[:0]
	for i := 0; i < n; i++ {
		ev := raw[i]
		dst = append(dst, Event{
			Token:    binaryGetToken(&ev),
			Readable: ev.Events&uint32(Readable) != 0,
			Writable: ev.Events&uint32(Writable) != 0,
			HangUp:   ev.Events&uint32(HangUp) != 0,
			Err:      ev.Events&uint32(ErrFlag) != 0,
		})
	}
	return dst, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
