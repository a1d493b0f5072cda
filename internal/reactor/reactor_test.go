package reactor

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"shimmy/internal/logwriter"
	"shimmy/internal/model"
	"shimmy/internal/procutil"
	"shimmy/internal/signalhandler"
	"shimmy/internal/sockattach"
	"shimmy/internal/streamio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixture bundles every handle a reactor needs so tests can build, drive and
// tear one down without repeating the wiring.
type fixture struct {
	r        *Reactor
	stdout   *procutil.StdioPipe
	stderr   *procutil.StdioPipe
	listener *sockattach.Listener
	handler  *signalhandler.Handler
	lw       *logwriter.LogWriter
	sockPath string
	logPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stdout, err := procutil.NewOutputPipe("stdout")
	require.NoError(t, err)
	require.NoError(t, procutil.SetNonblock(stdout.Master))

	stderr, err := procutil.NewOutputPipe("stderr")
	require.NoError(t, err)
	require.NoError(t, procutil.SetNonblock(stderr.Master))

	sigfd, err := procutil.NewSignalFD(unix.SIGCHLD)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	handler := signalhandler.New(sigfd, os.Getpid(), log)

	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	listener, err := sockattach.Bind(sockPath)
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "container.log")
	lw, err := logwriter.Open(logPath)
	require.NoError(t, err)

	r, err := New(Config{
		ContainerPid:   os.Getpid(),
		Stdout:         &StdioPipe{Fd: int(stdout.Master.Fd()), Stream: streamio.FileView{F: stdout.Master}},
		Stderr:         &StdioPipe{Fd: int(stderr.Master.Fd()), Stream: streamio.FileView{F: stderr.Master}},
		AttachListener: listener,
		LogWriter:      lw,
		SignalHandler:  handler,
		Log:            log,
	})
	require.NoError(t, err)

	return &fixture{
		r: r, stdout: stdout, stderr: stderr, listener: listener,
		handler: handler, lw: lw, sockPath: sockPath, logPath: logPath,
	}
}

func (f *fixture) closeRemaining(t *testing.T) {
	t.Helper()
	_ = f.handler.Close()
	_ = f.listener.Close()
	_ = f.lw.Close()
	_ = f.stdout.Master.Close()
	_ = f.stderr.Master.Close()
}

func TestNewRegistersFixedSourcesAndCloseTearsDownCleanly(t *testing.T) {
	f := newFixture(t)
	defer f.closeRemaining(t)
	defer f.stdout.Slave.Close()
	defer f.stderr.Slave.Close()

	assert.NoError(t, f.r.Close())
}

func TestRegisterAndRemoveAttachClientWiresAndUnwiresSinks(t *testing.T) {
	f := newFixture(t)
	defer f.closeRemaining(t)
	defer f.stdout.Slave.Close()
	defer f.stderr.Slave.Close()
	defer f.r.Close()

	conn, err := net.DialTimeout("unix", f.sockPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var client *sockattach.Client
	deadline := time.Now().Add(time.Second)
	for client == nil && time.Now().Before(deadline) {
		client, _, err = f.listener.Accept()
		require.NoError(t, err)
		if client == nil {
			time.Sleep(time.Millisecond)
		}
	}
	require.NotNil(t, client)

	f.r.registerAttachClient(client)
	require.Len(t, f.r.attachStreams, 1)

	var token uint64
	for tok := range f.r.attachStreams {
		token = tok
	}
	entry := f.r.attachStreams[token]
	assert.True(t, entry.hasStdoutSink)
	assert.True(t, entry.hasStderrSink)

	f.r.removeAttachClient(token)
	assert.Len(t, f.r.attachStreams, 0)
}

func TestDrainFlushesBufferedOutputWhenContainerAlreadyReaped(t *testing.T) {
	f := newFixture(t)
	defer f.closeRemaining(t)

	_, werr := f.stdout.Slave.WriteString("hello\n")
	require.NoError(t, werr)
	require.NoError(t, f.stdout.Slave.Close())
	require.NoError(t, f.stderr.Slave.Close())

	require.NoError(t, f.handler.SeedContainerStatus(model.Exited{PidValue: os.Getpid(), Code: 0}))

	status, err := f.r.Run()
	require.NoError(t, err)
	exited, ok := status.(model.Exited)
	require.True(t, ok)
	assert.Equal(t, int32(0), exited.Code)

	require.NoError(t, f.r.Close())
	require.NoError(t, f.lw.Close())

	data, err := os.ReadFile(f.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), " stdout hello\n")
}
