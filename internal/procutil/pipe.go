package procutil

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pipe is a raw OS pipe with both ends still blocking.
type Pipe struct {
	Read  *os.File
	Write *os.File
}

// NewPipe creates one CLOEXEC pipe.
func NewPipe(readName, writeName string) (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "pipe2() failed")
	}
	return &Pipe{
		Read:  os.NewFile(uintptr(fds[0]), readName),
		Write: os.NewFile(uintptr(fds[1]), writeName),
	}, nil
}

// StdioPipe is one pipe used to carry a container's stdout, stderr, or
// stdin between the shim and the runtime helper (spec §4.1 step 3). Master
// is the end the shim keeps (and registers with the reactor); Slave is the
// end handed to the runtime helper to become the container's stdio and
// closed in the shim once the helper has started.
//
// The constructors below leave both ends blocking; callers switch Master
// to non-blocking mode with SetNonblock. Slave is left blocking, since the
// container process attached to it expects ordinary blocking stdio
// semantics.
type StdioPipe struct {
	Master *os.File
	Slave  *os.File
}

// NewOutputPipe creates a pipe for an output stream (container stdout or
// stderr): the shim reads from Master (the pipe's read end), the runtime
// helper writes to Slave (the write end, attached to the container's fd 1
// or 2).
func NewOutputPipe(name string) (*StdioPipe, error) {
	p, err := NewPipe(name+"-master", name+"-slave")
	if err != nil {
		return nil, err
	}
	return &StdioPipe{Master: p.Read, Slave: p.Write}, nil
}

// NewInputPipe creates a pipe for the input stream (container stdin): the
// shim writes to Master (the write end), the runtime helper reads from
// Slave (the read end, attached to the container's fd 0).
func NewInputPipe(name string) (*StdioPipe, error) {
	p, err := NewPipe(name+"-master", name+"-slave")
	if err != nil {
		return nil, err
	}
	return &StdioPipe{Master: p.Write, Slave: p.Read}, nil
}

// SetNonblock flips fd to non-blocking mode, matching spec §5's "all FDs
// are non-blocking" for every FD the reactor itself reads or writes.
func SetNonblock(f *os.File) error {
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		return errors.Wrapf(err, "set O_NONBLOCK on fd %d failed", f.Fd())
	}
	return nil
}
