package procutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RedirectStdioToDevNull replaces fds 0, 1 and 2 with /dev/null (spec
// §4.1 step 2: "Shim: reassigns stdio to /dev/null"), so the detached
// shim holds no reference to whatever terminal or pipe the manager
// started it with.
func RedirectStdioToDevNull() error {
	fd, err := unix.Open("/dev/null", unix.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open(/dev/null) failed")
	}
	defer unix.Close(fd)

	for _, target := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		if err := unix.Dup2(fd, target); err != nil {
			return errors.Wrapf(err, "dup2(/dev/null, %d) failed", target)
		}
	}
	return nil
}
