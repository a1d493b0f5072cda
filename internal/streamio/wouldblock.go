package streamio

import (
	"errors"
	"os"
	"syscall"
)

// isWouldBlock reports whether err wraps EAGAIN/EWOULDBLOCK, the error a
// non-blocking *os.File returns instead of suspending the caller. os.File
// surfaces the underlying syscall.Errno through an *os.PathError only when
// the fd was still blocking at wrap time and switched to non-blocking
// afterwards (an fd already non-blocking at wrap time goes to the Go
// runtime's netpoller, which parks instead) — see
// internal/procutil.SetNonblock and sockattach's Accept.
func isWouldBlock(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
