package supervisor

import (
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
	"shimmy/internal/procutil"
	"shimmy/internal/syncpipe"
)

// shimSignals is the blocked set spec §4.1 step 3 names: SIGCHLD (child
// death) plus the three termination requests the shim forwards to the
// container during the runtime-wait phase and the reactor's signal
// handler.
var shimSignals = []unix.Signal{unix.SIGCHLD, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM}

// runDetachedShim is the reexec entry point for the process spec §4.1
// calls "the shim": steps 2 through 6. It never returns — it calls
// os.Exit once the container has been served (or once abnormal
// termination has been reported), matching spec §6's "the shim itself
// exits 0 after writing the exit file".
func runDetachedShim() {
	cfg := decodeConfig()
	log := newLogger(cfg.ShimLogLevel)

	if err := procutil.RedirectStdioToDevNull(); err != nil {
		log.WithError(err).Fatal("redirect shim stdio to /dev/null failed")
	}
	if err := procutil.SetChildSubreaper(); err != nil {
		log.WithError(err).Fatal("set child subreaper failed")
	}

	// Pin this goroutine to its OS thread before blocking signals: the
	// runtime helper is forked from this same thread below, and fork()
	// only carries over the calling thread's signal mask (spec §9:
	// "signals are blocked before the pre-exec fork").
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if _, err := procutil.BlockSignals(shimSignals...); err != nil {
		log.WithError(err).Fatal("block shim signals failed")
	}

	stdout, err := procutil.NewOutputPipe("stdout")
	if err != nil {
		log.WithError(err).Fatal("create stdout pipe failed")
	}
	stderr, err := procutil.NewOutputPipe("stderr")
	if err != nil {
		log.WithError(err).Fatal("create stderr pipe failed")
	}
	var stdin *procutil.StdioPipe
	if cfg.Stdin {
		stdin, err = procutil.NewInputPipe("stdin")
		if err != nil {
			log.WithError(err).Fatal("create stdin pipe failed")
		}
	}
	for _, p := range []*procutil.StdioPipe{stdout, stderr, stdin} {
		if p == nil {
			continue
		}
		if err := procutil.SetNonblock(p.Master); err != nil {
			log.WithError(err).Fatal("set container stream non-blocking failed")
		}
	}

	helperPid, err := spawnRuntimeHelper(cfg, stdout, stderr, stdin)
	if err != nil {
		log.WithError(err).Fatal("spawn runtime helper failed")
	}
	closeSlaves(stdout, stderr, stdin)

	sigfd, err := procutil.NewSignalFD(shimSignals...)
	if err != nil {
		log.WithError(err).Fatal("create signalfd failed")
	}

	syncPipe, err := syncpipe.New(3)
	if err != nil {
		log.WithError(err).Fatal("adopt sync pipe failed")
	}

	outcome, err := RuntimeWait(sigfd, helperPid)
	if err != nil {
		log.WithError(err).Fatal("runtime-wait phase failed")
	}
	log.WithField("outcome", outcome).Info("runtime-wait phase complete")

	if !model.CleanExit(outcome) {
		reportAbnormalTermination(syncPipe, outcome, stderr, log)
		os.Exit(0)
	}

	if err := Serve(cfg, outcome, sigfd, stdout, stderr, stdin, syncPipe, log); err != nil {
		log.WithError(err).Fatal("serve phase failed")
	}
	os.Exit(0)
}

func closeSlaves(stdout, stderr, stdin *procutil.StdioPipe) {
	stdout.Slave.Close()
	stderr.Slave.Close()
	if stdin != nil {
		stdin.Slave.Close()
	}
}

// reportAbnormalTermination implements spec §4.2's "On any other outcome:
// do not serve; report abnormal termination on the sync pipe with the
// runtime's stderr bytes, then exit" plus the stderr-capture supplement
// in SPEC_FULL.md, draining whatever the runtime wrote to its stderr
// pipe before it exited.
func reportAbnormalTermination(syncPipe *syncpipe.SyncPipe, outcome model.RuntimeOutcome, stderr *procutil.StdioPipe, log logrus.FieldLogger) {
	data := drainNonBlocking(stderr.Master)
	if err := syncPipe.ReportRuntimeAbnormalTermination(outcome.String(), data); err != nil {
		log.WithError(err).Error("report runtime abnormal termination failed")
	}
}

// drainNonBlockingBufSize bounds the stderr capture included in the
// abnormal-termination sync message.
const drainNonBlockingBufSize = 64 * 1024

func drainNonBlocking(f *os.File) []byte {
	var out []byte
	var buf [4096]byte
	for len(out) < drainNonBlockingBufSize {
		n, err := f.Read(buf[:])
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out
}
