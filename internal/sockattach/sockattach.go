// Package sockattach implements the attach listener (spec §4.3 "Attach
// listener" handler, §6 wire format): a non-blocking Unix domain socket
// that accepts live attach clients and hands each connection's FD to the
// reactor for registration as both a scatter sink and a gather source.
//
// It is built directly on golang.org/x/sys/unix rather than net.Listen:
// the reactor drives every FD itself through one epoll instance (see
// internal/reactor), so the listener and its client connections must be
// raw, non-blocking descriptors the reactor owns — going through net's
// listener would hand the same FDs to the Go runtime's netpoller too,
// fighting the reactor for readiness notifications.
package sockattach

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Listener wraps a non-blocking Unix domain socket listener bound at a
// well-known path (spec §6 --container-attachfile).
type Listener struct {
	fd   int
	path string
}

// Bind creates, binds and listens on path, removing any stale socket file
// left over from a previous run first.
func Bind(path string) (*Listener, error) {
	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket(AF_UNIX) failed")
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind(%s) failed", path)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listen() failed")
	}
	return &Listener{fd: fd, path: path}, nil
}

// Fd returns the listener's file descriptor, for epoll registration.
func (l *Listener) Fd() int { return l.fd }

// Accept accepts one pending connection, non-blocking. ok is false and err
// is nil when no connection was pending (EAGAIN) — the spec's "on accept()
// error: log and continue" covers only genuine accept errors, not the
// expected empty-backlog case.
func (l *Listener) Accept() (client *Client, ok bool, err error) {
	// The connection is accepted blocking and only switched to non-blocking
	// after os.NewFile has wrapped it, so os.File does not hand it to the Go
	// runtime's netpoller and EAGAIN reaches the reactor's callers.
	connFd, _, aerr := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(aerr, "accept(attach listener) failed")
	}
	file := os.NewFile(uintptr(connFd), "attach-client")
	if err := unix.SetNonblock(connFd, true); err != nil {
		file.Close()
		return nil, false, errors.Wrap(err, "set O_NONBLOCK on attach client failed")
	}
	return &Client{ID: uuid.NewString(), file: file}, true, nil
}

// Close closes the listener and removes the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.fd)
	_ = os.Remove(l.path)
	if err != nil {
		return errors.Wrap(err, "close(attach listener) failed")
	}
	return nil
}

// Client is one attach connection. It is the single owner of its FD per
// spec invariant 5 — the reactor stores *Client in its attach-streams map
// and hands out streamio.FileView values (non-owning) to the Scatterers
// and the Gatherer.
type Client struct {
	ID   string
	file *os.File
}

// Fd returns the raw file descriptor for epoll registration.
func (c *Client) Fd() int { return int(c.file.Fd()) }

// File returns the owning *os.File, used to build streamio.FileView
// capability references.
func (c *Client) File() *os.File { return c.file }

// Close closes the client's connection exactly once.
func (c *Client) Close() error { return c.file.Close() }
