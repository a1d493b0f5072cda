package signalhandler

import (
	"os/exec"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
	"shimmy/internal/procutil"
)

func discardLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestSeedContainerStatusRejectsDoubleSeed(t *testing.T) {
	h := New(nil, 1, discardLogger())
	require.NoError(t, h.SeedContainerStatus(model.Exited{PidValue: 1, Code: 0}))
	err := h.SeedContainerStatus(model.Exited{PidValue: 1, Code: 0})
	assert.Error(t, err)
}

func TestContainerStatusReflectsSeed(t *testing.T) {
	h := New(nil, 1, discardLogger())
	_, ok := h.ContainerStatus()
	assert.False(t, ok)

	require.NoError(t, h.SeedContainerStatus(model.Exited{PidValue: 1, Code: 9}))
	status, ok := h.ContainerStatus()
	require.True(t, ok)
	assert.Equal(t, model.Exited{PidValue: 1, Code: 9}, status)
}

func TestHandleSIGCHLDCapturesContainerExit(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	h := New(nil, pid, discardLogger())

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, h.handleSIGCHLD())
		if _, ok := h.ContainerStatus(); ok {
			break
		}
		require.True(t, time.Now().Before(deadline), "container status never observed")
		time.Sleep(time.Millisecond)
	}

	status, ok := h.ContainerStatus()
	require.True(t, ok)
	exited, ok := status.(model.Exited)
	require.True(t, ok)
	assert.Equal(t, int32(0), exited.Code)
}

func TestHandleSIGCHLDRejectsDoubleReapOfContainer(t *testing.T) {
	h := New(nil, 1, discardLogger())
	require.NoError(t, h.SeedContainerStatus(model.Exited{PidValue: 1, Code: 0}))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	// Re-point containerPid at the freshly spawned process so handleSIGCHLD
	// reaps it under a PID that already has a seeded status.
	h.containerPid = cmd.Process.Pid

	deadline := time.Now().Add(2 * time.Second)
	var sawErr bool
	for time.Now().Before(deadline) && !sawErr {
		if err := h.handleSIGCHLD(); err != nil {
			sawErr = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, sawErr)
}

func TestForwardSendsSignalToContainerPid(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer func() {
		_, _ = procutil.Kill(pid, unix.SIGKILL)
		_, _ = procutil.ReapAll()
	}()

	h := New(nil, pid, discardLogger())
	require.NoError(t, h.forward(unix.SIGTERM))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		statuses, err := procutil.ReapAll()
		require.NoError(t, err)
		for _, st := range statuses {
			if st.Pid() == pid {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("container process was not terminated by forwarded signal")
}

func TestForwardDoesNotErrorWhenContainerAlreadyGone(t *testing.T) {
	h := New(nil, 1<<30, discardLogger())
	assert.NoError(t, h.forward(unix.SIGTERM))
}
