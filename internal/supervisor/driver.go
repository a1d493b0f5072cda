// Package supervisor implements the supervision driver (spec §4.1) and the
// runtime-wait phase (spec §4.2): forking the shim off the manager,
// detaching it, double-forking the runtime, and handing off to the
// reactor once the runtime has exited cleanly.
//
// Go cannot safely raw-fork() a multi-threaded process and run arbitrary
// code before exec — only the kernel's clone+execve trampoline inside
// os/exec is safe, and it offers no hook for the signal-mask restore and
// stdio wiring spec §4.1 steps 2 and 4 require between a fork and its
// exec. Both steps are instead implemented as a re-exec of this same
// binary under a different argv[0] (internal/reexec): the child runs as a
// normal Go process first, does the privileged setup, then either
// continues (the detached shim) or calls syscall.Exec directly into the
// external runtime (the runtime helper). This is the same trick runc uses
// for its own re-exec'd "init" stage.
package supervisor

import (
	"encoding/json"
	"os"
	"strconv"
	"syscall"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shimmy/internal/reexec"
	"shimmy/internal/shimconfig"
)

const reexecDetachedShim = "shimmy-detached-shim"

func init() {
	reexec.Register(reexecDetachedShim, runDetachedShim)
	reexec.Register(reexecRuntimeHelper, runRuntimeHelper)
}

// Run is the entry point for the process the manager directly invokes. It
// performs spec §4.1 step 1: fork off the shim, write its PID to the
// configured pidfile, and return so the caller can exit 0 — the manager
// never waits on the shim past this point.
func Run(cfg shimconfig.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal shim config failed")
	}

	syncPipeFile := os.NewFile(uintptr(cfg.SyncPipeFD), "syncpipe")

	cmd := reexec.Command(reexecDetachedShim)
	cmd.Env = append(os.Environ(), shimconfig.EnvConfig+"="+string(data))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.ExtraFiles = []*os.File{syncPipeFile}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "fork shim failed")
	}
	_ = syncPipeFile.Close()

	pidData := []byte(strconv.Itoa(cmd.Process.Pid) + "\n")
	if err := atomicwriter.WriteFile(cfg.ShimPidfile, pidData, 0o644); err != nil {
		return errors.Wrapf(err, "write shim pidfile %s failed", cfg.ShimPidfile)
	}

	return errors.Wrap(cmd.Process.Release(), "detach from forked shim failed")
}

func decodeConfig() shimconfig.Config {
	var cfg shimconfig.Config
	if err := json.Unmarshal([]byte(os.Getenv(shimconfig.EnvConfig)), &cfg); err != nil {
		logrus.WithError(err).Fatal("decode shim config from environment failed")
	}
	return cfg
}

func newLogger(level string) logrus.FieldLogger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
