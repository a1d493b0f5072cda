// Package reactor implements the shim's central event loop (spec §4.3):
// the single-threaded, poll-driven state machine that demultiplexes
// readiness across the container's stdio pipes, the signal-FD, and the
// attach listener, and reports the container's TerminationStatus once it
// has been reaped and its output streams are drained.
//
// Grounded on original_source's container/reactor.rs (mio-based) ported to
// an epoll poller adapted from the teacher's archutils/epoll.go and
// monitor/monitor_linux.go.
package reactor

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shimmy/internal/logwriter"
	"shimmy/internal/model"
	"shimmy/internal/reactor/poller"
	"shimmy/internal/signalhandler"
	"shimmy/internal/sockattach"
	"shimmy/internal/streamio"
)

// Fixed poll tokens (spec §4.3). Per-attach-client tokens are allocated
// starting at tokenUnused.
const (
	tokStdout = 10
	tokStderr = 20
	tokSignal = 30
	tokAttach = 40

	tokenUnused = 1000
)

// heartbeatMillis is the liveness-log timeout used while the container is
// still running (spec §3 ReactorState.heartbeat / §4.3 main loop).
const heartbeatMillis = 5000

// Config bundles everything the reactor needs from the driver once the
// runtime has exited cleanly and the container PID is known (spec §4.3).
type Config struct {
	ContainerPid int

	Stdout *StdioPipe // container's stdout read end (master)
	Stderr *StdioPipe // container's stderr read end (master)
	Stdin  *StdioPipe // container's stdin write end (master); nil if --stdin not set

	StdinOnce bool

	AttachListener *sockattach.Listener
	LogWriter      *logwriter.LogWriter
	SignalHandler  *signalhandler.Handler

	Log logrus.FieldLogger
}

// StdioPipe is the minimal surface the reactor needs from a container
// stdio pipe's master end: a raw fd for poll registration plus a
// streamio.Source/Sink view built from the same descriptor.
type StdioPipe struct {
	Fd     int
	Stream streamio.FileView
}

type attachEntry struct {
	client        *sockattach.Client
	stdoutSinkID  int
	stderrSinkID  int
	hasStdoutSink bool
	hasStderrSink bool
}

// Reactor is the constructed, ready-to-run event loop.
type Reactor struct {
	poll      *poller.Poller
	heartbeat int

	stdoutFd        int
	stderrFd        int
	stdoutScatterer *streamio.Scatterer
	stderrScatterer *streamio.Scatterer

	stdinGatherer *streamio.Gatherer
	stdinOnce     bool

	sig            *signalhandler.Handler
	attachListener *sockattach.Listener

	attachStreams map[uint64]*attachEntry
	nextToken     uint64

	logWriter *logwriter.LogWriter
	log       logrus.FieldLogger
}

// New constructs a Reactor and registers its four fixed sources. The
// sync-pipe "container_pid" message must already have been sent by the
// caller before this runs (spec §4.6, ordering guarantee 3): registering
// the attach listener here, after that send, is what makes the ordering
// guarantee hold.
func New(cfg Config) (*Reactor, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		poll:            p,
		heartbeat:       heartbeatMillis,
		stdoutFd:        cfg.Stdout.Fd,
		stderrFd:        cfg.Stderr.Fd,
		stdoutScatterer: streamio.NewScatterer(cfg.Stdout.Stream, cfg.Stdout.Fd, streamio.TagStdout, cfg.Log),
		stderrScatterer: streamio.NewScatterer(cfg.Stderr.Stream, cfg.Stderr.Fd, streamio.TagStderr, cfg.Log),
		stdinOnce:       cfg.StdinOnce,
		sig:             cfg.SignalHandler,
		attachListener:  cfg.AttachListener,
		attachStreams:   make(map[uint64]*attachEntry),
		nextToken:       tokenUnused,
		logWriter:       cfg.LogWriter,
		log:             cfg.Log,
	}

	r.stdoutScatterer.AddSink(logwriter.StdoutSink{W: cfg.LogWriter}, false)
	r.stderrScatterer.AddSink(logwriter.StderrSink{W: cfg.LogWriter}, false)

	if cfg.Stdin != nil {
		r.stdinGatherer = streamio.NewGatherer(cfg.Stdin.Stream)
	}

	if err := r.poll.Add(r.stdoutFd, tokStdout, poller.Readable|poller.HangUp); err != nil {
		return nil, err
	}
	if err := r.poll.Add(r.stderrFd, tokStderr, poller.Readable|poller.HangUp); err != nil {
		return nil, err
	}
	if err := r.poll.Add(r.sig.Fd(), tokSignal, poller.Readable|poller.ErrFlag); err != nil {
		return nil, err
	}
	if err := r.poll.Add(r.attachListener.Fd(), tokAttach, poller.Readable|poller.ErrFlag); err != nil {
		return nil, err
	}

	return r, nil
}

// Run drives the event loop until the container has been reaped and its
// output streams are drained, then returns its TerminationStatus (spec
// §4.3 main loop, invariant 3).
func (r *Reactor) Run() (model.TerminationStatus, error) {
	for {
		if status, ok := r.sig.ContainerStatus(); ok {
			_ = status
			break
		}
		n, err := r.pollOnce()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			r.log.Debug("still serving container")
		}
	}

	if err := r.poll.Remove(r.sig.Fd()); err != nil {
		return nil, errors.Wrap(err, "deregister signalfd failed")
	}
	if err := r.poll.Remove(r.attachListener.Fd()); err != nil {
		return nil, errors.Wrap(err, "deregister attach listener failed")
	}
	r.heartbeat = 0

	for {
		n, err := r.pollOnce()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		r.log.Debug("draining container IO streams")
	}

	status, _ := r.sig.ContainerStatus()
	return status, nil
}

func (r *Reactor) pollOnce() (int, error) {
	events, err := r.poll.Wait(make([]poller.Event, 0, 128), r.heartbeat)
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		switch ev.Token {
		case tokStdout:
			r.handleOutputEvent(ev, r.stdoutScatterer, &r.stdoutFd, "stdout")
		case tokStderr:
			r.handleOutputEvent(ev, r.stderrScatterer, &r.stderrFd, "stderr")
		case tokSignal:
			r.handleSignalEvent()
		case tokAttach:
			r.handleAttachListenerEvent(ev)
		default:
			r.handleAttachStreamEvent(ev)
		}
	}
	return len(events), nil
}

func (r *Reactor) handleOutputEvent(ev poller.Event, sc *streamio.Scatterer, fd *int, name string) {
	if ev.Readable {
		n, err := sc.Scatter()
		if err != nil {
			r.log.WithError(err).WithField("stream", name).Error("container stream read failed")
			r.deregisterOutput(fd)
			return
		}
		if n == 0 {
			r.deregisterOutput(fd)
			return
		}
		r.log.WithField("bytes", n).WithField("stream", name).Debug("scattered container output")
		return
	}
	if ev.HangUp {
		r.deregisterOutput(fd)
	}
}

func (r *Reactor) deregisterOutput(fd *int) {
	if *fd < 0 {
		return
	}
	if err := r.poll.Remove(*fd); err != nil {
		r.log.WithError(err).Warn("deregister container stream failed")
	}
	*fd = -1
}

func (r *Reactor) handleSignalEvent() {
	if err := r.sig.HandleSignal(); err != nil {
		r.log.WithError(err).Error("signal handling failed")
	}
}

func (r *Reactor) handleAttachListenerEvent(ev poller.Event) {
	if ev.Err {
		r.log.Error("attach listener event with error flag")
		return
	}

	for {
		client, ok, err := r.attachListener.Accept()
		if err != nil {
			r.log.WithError(err).Error("attach listener accept failed")
			return
		}
		if !ok {
			return
		}
		r.registerAttachClient(client)
	}
}

func (r *Reactor) registerAttachClient(client *sockattach.Client) {
	token := r.nextToken
	r.nextToken++

	if err := r.poll.Add(client.Fd(), token, poller.Readable|poller.ErrFlag|poller.HangUp); err != nil {
		r.log.WithError(err).Error("register attach stream failed")
		client.Close()
		return
	}

	view := streamio.FileView{F: client.File()}
	entry := &attachEntry{client: client}

	if r.stdinGatherer != nil {
		r.stdinGatherer.AddSource(token, view)
	}
	entry.stdoutSinkID = r.stdoutScatterer.AddSink(view, true)
	entry.hasStdoutSink = true
	entry.stderrSinkID = r.stderrScatterer.AddSink(view, true)
	entry.hasStderrSink = true

	r.attachStreams[token] = entry
	r.log.WithField("client", client.ID).Debug("attach client connected")
}

func (r *Reactor) handleAttachStreamEvent(ev poller.Event) {
	token := ev.Token
	if ev.Readable && r.stdinGatherer != nil {
		n, srcErr, sinkErr := r.stdinGatherer.Gather(token)
		if sinkErr != nil {
			r.log.WithError(sinkErr).Warn("container stdin write failed")
		}
		if srcErr != nil {
			r.onAttachClientEOF(token)
			return
		}
		if n == 0 {
			r.onAttachClientEOF(token)
			return
		}
		r.log.WithField("bytes", n).Debug("gathered attach client input")
		return
	}
	if ev.HangUp || ev.Err {
		r.onAttachClientEOF(token)
	}
}

// onAttachClientEOF handles a closed attach connection: the source is
// always removed from the gatherer and the client deregistered, and if
// stdin_once is set, the whole Gatherer is dropped (spec §4.3, §8 boundary
// behaviour on stdin_once).
func (r *Reactor) onAttachClientEOF(token uint64) {
	if r.stdinGatherer != nil {
		r.stdinGatherer.RemoveSource(token)
		if r.stdinOnce {
			r.stdinGatherer = nil
		}
	}
	r.removeAttachClient(token)
}

// removeAttachClient tears down one attach connection following the
// ordering spec §9's design notes mandate: scatterers' sinks, gatherer's
// sources, reactor map, then deregister and close.
func (r *Reactor) removeAttachClient(token uint64) {
	entry, ok := r.attachStreams[token]
	if !ok {
		return
	}

	if entry.hasStdoutSink {
		r.stdoutScatterer.RemoveSink(entry.stdoutSinkID)
	}
	if entry.hasStderrSink {
		r.stderrScatterer.RemoveSink(entry.stderrSinkID)
	}
	if r.stdinGatherer != nil {
		r.stdinGatherer.RemoveSource(token)
	}

	delete(r.attachStreams, token)

	if err := r.poll.Remove(entry.client.Fd()); err != nil {
		r.log.WithError(err).Warn("deregister attach stream failed")
	}
	if err := entry.client.Close(); err != nil {
		r.log.WithError(err).Warn("close attach stream failed")
	}
}

// Close releases every FD the reactor still owns: the poller itself and any
// remaining attach clients. It does not close the signal handler, the
// container stdio pipes or the log writer; their owners close them
// separately, since they outlive a single Reactor.Run() call in tests.
func (r *Reactor) Close() error {
	var result *multierror.Error
	for token := range r.attachStreams {
		r.removeAttachClient(token)
	}
	if err := r.poll.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// TickDuration converts the current heartbeat into a time.Duration, for
// logging/tests only.
func (r *Reactor) TickDuration() time.Duration {
	return time.Duration(r.heartbeat) * time.Millisecond
}
