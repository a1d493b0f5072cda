package procutil

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"shimmy/internal/model"
)

func TestReapAllReapsExitedChild(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	deadline := time.Now().Add(2 * time.Second)
	var found model.TerminationStatus
	for found == nil && time.Now().Before(deadline) {
		statuses, err := ReapAll()
		require.NoError(t, err)
		for _, st := range statuses {
			if st.Pid() == pid {
				found = st
			}
		}
		if found == nil {
			time.Sleep(time.Millisecond)
		}
	}
	require.NotNil(t, found)
	exited, ok := found.(model.Exited)
	require.True(t, ok)
	assert.Equal(t, int32(0), exited.Code)
}

func TestReapAllReturnsNilWithNoChildren(t *testing.T) {
	statuses, err := ReapAll()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestKillDeliversToRealProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	defer func() {
		_, _ = Kill(pid, unix.SIGKILL)
		_, _ = ReapAll()
	}()

	delivered, err := Kill(pid, unix.SIGTERM)
	require.NoError(t, err)
	assert.True(t, delivered)

	deadline := time.Now().Add(2 * time.Second)
	var found bool
	for !found && time.Now().Before(deadline) {
		statuses, err := ReapAll()
		require.NoError(t, err)
		for _, st := range statuses {
			if st.Pid() == pid {
				found = true
			}
		}
		if !found {
			time.Sleep(time.Millisecond)
		}
	}
	assert.True(t, found)
}

func TestKillReturnsNotDeliveredForNoSuchProcess(t *testing.T) {
	delivered, err := Kill(1<<30, unix.SIGTERM)
	require.NoError(t, err)
	assert.False(t, delivered)
}
