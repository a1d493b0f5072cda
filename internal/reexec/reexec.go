// Package reexec lets the shim re-invoke its own binary as a differently
// named subprocess, dispatching on argv[0] back in this same process. The
// supervision driver uses it twice (spec §4.1): once to produce the
// detached shim itself (the "fork; parent writes pidfile and exits" step),
// and once to produce the runtime helper (the "restore signal mask, then
// exec the runtime" step) — both of which need code to run between the
// fork and the final exec, which a plain os/exec.Command cannot do.
//
// Adapted from the argv[0]-dispatch idiom in
// go.podman.io/storage/pkg/reexec (vendored by jesseduffield/lazydocker),
// the same trick runc's own re-exec'd "init" process uses to do
// privileged setup before handing off to a container's real entrypoint.
package reexec

import (
	"fmt"
	"os"
	"os/exec"
)

var initializers = make(map[string]func())

// Register associates name with an initializer that Command callers can
// dispatch into by setting argv[0] to name. Panics on a
// duplicate name, since that always indicates a programming error (two
// packages picked the same re-exec identity) rather than a runtime
// condition to recover from.
func Register(name string, initializer func()) {
	if _, exists := initializers[name]; exists {
		panic(fmt.Sprintf("reexec: %q already registered", name))
	}
	initializers[name] = initializer
}

// Init must be the first thing main() calls. It reports whether argv[0]
// matched a registered name, in which case the matching initializer has
// already run and main should return immediately without doing anything
// else.
func Init() bool {
	if initializer, ok := initializers[os.Args[0]]; ok {
		initializer()
		return true
	}
	return false
}

// Self returns the path used to re-invoke the running binary: /proc/self/exe
// rather than os.Args[0], so the re-exec keeps working even if the
// on-disk binary is replaced or relative to a since-changed working
// directory.
func Self() string { return "/proc/self/exe" }

// Command builds an *exec.Cmd that re-invokes the current binary with
// args[0] set to a name previously passed to Register — the child's
// Init() call will dispatch into that initializer instead of running
// main's usual startup path.
func Command(args ...string) *exec.Cmd {
	cmd := exec.Command(Self())
	cmd.Args = args
	return cmd
}
