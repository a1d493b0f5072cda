package supervisor

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shimmy/internal/exitfile"
	"shimmy/internal/logwriter"
	"shimmy/internal/model"
	"shimmy/internal/procutil"
	"shimmy/internal/reactor"
	"shimmy/internal/shimconfig"
	"shimmy/internal/signalhandler"
	"shimmy/internal/sockattach"
	"shimmy/internal/streamio"
	"shimmy/internal/syncpipe"
)

// Serve implements the clean-exit branch of spec §4.2 together with all of
// §4.3: read the container PID the runtime wrote to its pidfile, report it
// on the sync pipe, replay any inflight signal, open the log writer and
// attach listener, construct the reactor, run it to completion, and
// persist the result to the exit file.
//
// The "container_pid" sync message is sent, and only afterwards is the
// attach listener bound and registered by reactor.New — preserving spec
// §5 ordering guarantee 3 ("the container_pid message is observable
// before any attach client can receive bytes").
func Serve(
	cfg shimconfig.Config,
	outcome model.RuntimeOutcome,
	sigfd *procutil.SignalFD,
	stdout, stderr, stdin *procutil.StdioPipe,
	syncPipe *syncpipe.SyncPipe,
	log logrus.FieldLogger,
) error {
	containerPid, err := readPidfile(cfg.ContainerPidfile)
	if err != nil {
		return errors.Wrap(err, "read container pidfile failed")
	}

	sig := signalhandler.New(sigfd, containerPid, log)
	if status, ok := outcome.Container(); ok {
		// The container was already reaped in the same SIGCHLD window as
		// the runtime (spec §3 RuntimeOutcome.Conjoint); there is no
		// SIGCHLD left to deliver it, so seed the cache directly.
		if err := sig.SeedContainerStatus(status); err != nil {
			return err
		}
	}

	if err := syncPipe.ReportContainerPid(containerPid); err != nil {
		return errors.Wrap(err, "report container pid failed")
	}

	if replay, ok := outcome.Inflight(); ok {
		delivered, err := procutil.Kill(containerPid, replay)
		if err != nil {
			return errors.Wrap(err, "deliver inflight signal failed")
		}
		if !delivered {
			log.WithField("signal", replay).Warn("inflight signal target not found")
		}
	}

	logWriter, err := logwriter.Open(cfg.ContainerLogfile)
	if err != nil {
		return errors.Wrap(err, "open container log file failed")
	}
	defer logWriter.Close()

	listener, err := sockattach.Bind(cfg.ContainerAttach)
	if err != nil {
		return errors.Wrap(err, "bind attach listener failed")
	}
	defer func() {
		if cerr := listener.Close(); cerr != nil {
			log.WithError(cerr).Warn("attach listener close failed")
		}
	}()

	rcfg := reactor.Config{
		ContainerPid:   containerPid,
		Stdout:         stdioView(stdout),
		Stderr:         stdioView(stderr),
		Stdin:          stdioView(stdin),
		StdinOnce:      cfg.StdinOnce,
		AttachListener: listener,
		LogWriter:      logWriter,
		SignalHandler:  sig,
		Log:            log,
	}

	r, err := reactor.New(rcfg)
	if err != nil {
		return errors.Wrap(err, "construct reactor failed")
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			log.WithError(cerr).Warn("reactor close failed")
		}
	}()

	status, err := r.Run()
	if err != nil {
		return errors.Wrap(err, "reactor run failed")
	}
	log.WithField("status", status).Info("container reaped")

	return errors.Wrap(exitfile.Write(cfg.ContainerExitfile, status, time.Now()), "write exit file failed")
}

// stdioView adapts a procutil.StdioPipe's master end into a
// reactor.StdioPipe, or returns nil for an unconfigured stream (stdin,
// when --stdin was not passed).
func stdioView(p *procutil.StdioPipe) *reactor.StdioPipe {
	if p == nil {
		return nil
	}
	return &reactor.StdioPipe{Fd: int(p.Master.Fd()), Stream: streamio.FileView{F: p.Master}}
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s failed", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "parse container pid from %s failed", path)
	}
	return pid, nil
}
