package procutil

import "syscall"

// RuntimeHelperAttr returns the SysProcAttr used to start the runtime
// helper process (spec §4.1 step 4): Pdeathsig ensures that if the shim
// itself dies before the helper execs the OCI runtime, the kernel kills the
// helper with SIGKILL rather than leaving it orphaned. Adapted from the
// teacher's containerd-shim/process_pdeathsig.go, generalized from "the
// runtime binary" to any immediate child the shim wants auto-killed with it.
func RuntimeHelperAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
		Setpgid:   false,
	}
}
