package supervisor

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"shimmy/internal/procutil"
	"shimmy/internal/reexec"
	"shimmy/internal/shimconfig"
)

const (
	reexecRuntimeHelper = "shimmy-runtime-helper"
	envRuntimeHelper     = "_SHIMMY_RUNTIME_HELPER"
)

// runtimeHelperArgs is what the shim hands the runtime-helper re-exec
// across the environment: just enough to build the exec(3) argv spec
// §4.1 step 4 specifies.
type runtimeHelperArgs struct {
	Runtime          string   `json:"runtime"`
	RuntimeArgs      []string `json:"runtimeArgs"`
	Bundle           string   `json:"bundle"`
	ContainerPidfile string   `json:"containerPidfile"`
	ContainerID      string   `json:"containerId"`
}

// spawnRuntimeHelper performs spec §4.1 step 4: fork (via re-exec) a
// helper that will restore the default signal mask and exec the external
// runtime with its stdio attached to the pipe slave ends. Returns the
// helper's PID, which the runtime-wait phase (§4.2) watches for.
func spawnRuntimeHelper(cfg shimconfig.Config, stdout, stderr, stdin *procutil.StdioPipe) (int, error) {
	args := runtimeHelperArgs{
		Runtime:          cfg.Runtime,
		RuntimeArgs:      cfg.RuntimeArgs,
		Bundle:           cfg.Bundle,
		ContainerPidfile: cfg.ContainerPidfile,
		ContainerID:      cfg.ContainerID,
	}
	data, err := json.Marshal(args)
	if err != nil {
		return 0, errors.Wrap(err, "marshal runtime helper args failed")
	}

	cmd := reexec.Command(reexecRuntimeHelper)
	cmd.Env = append(os.Environ(), envRuntimeHelper+"="+string(data))
	cmd.SysProcAttr = procutil.RuntimeHelperAttr()
	cmd.Stdout = stdout.Slave
	cmd.Stderr = stderr.Slave
	if stdin != nil {
		cmd.Stdin = stdin.Slave
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "start runtime helper failed")
	}
	return cmd.Process.Pid, nil
}

// runRuntimeHelper is the reexec entry point for spec §4.1 step 4's
// grandchild. It runs as an ordinary Go process (stdio already wired to
// the pipe slaves by the parent's exec.Cmd), so it is safe to use the Go
// runtime here — unlike the gap between a raw fork(2) and its exec,
// nothing unsafe happens between this process's own fork+exec and now.
func runRuntimeHelper() {
	var args runtimeHelperArgs
	if err := json.Unmarshal([]byte(os.Getenv(envRuntimeHelper)), &args); err != nil {
		os.Exit(127)
	}

	if err := procutil.EmptySignalMask(); err != nil {
		os.Exit(127)
	}

	argv := append([]string{args.Runtime}, args.RuntimeArgs...)
	argv = append(argv, "create",
		"--bundle", args.Bundle,
		"--pid-file", args.ContainerPidfile,
		args.ContainerID,
	)

	// unix.Exec replaces this process image outright; on success it
	// never returns. Spec §4.1 step 4: "If exec fails, the helper exits
	// with status 127."
	_ = unix.Exec(args.Runtime, argv, os.Environ())
	os.Exit(127)
}
