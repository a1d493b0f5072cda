package syncpipe

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeSyncPipe(t *testing.T) (*SyncPipe, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	sp, err := New(int(w.Fd()))
	require.NoError(t, err)
	return sp, r
}

func TestReportContainerPid(t *testing.T) {
	sp, r := pipeSyncPipe(t)
	require.NoError(t, sp.ReportContainerPid(4242))
	require.NoError(t, sp.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "container_pid", msg["kind"])
	assert.Equal(t, float64(4242), msg["pid"])
}

func TestReportRuntimeAbnormalTerminationWithValidUTF8(t *testing.T) {
	sp, r := pipeSyncPipe(t)
	require.NoError(t, sp.ReportRuntimeAbnormalTermination("Runtime Exited with code 1.", []byte("boom")))
	require.NoError(t, sp.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "runtime_abnormal_termination", msg["kind"])
	assert.Equal(t, "Runtime Exited with code 1.", msg["status"])
	assert.Equal(t, "boom", msg["stderr"])
}

func TestReportRuntimeAbnormalTerminationWithInvalidUTF8(t *testing.T) {
	sp, r := pipeSyncPipe(t)
	invalid := []byte{0xff, 0xfe, 0x00}
	require.NoError(t, sp.ReportRuntimeAbnormalTermination("Runtime Signaled.", invalid))
	require.NoError(t, sp.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.NotEqual(t, string(invalid), msg["stderr"])
	assert.Contains(t, msg["stderr"].(string), `\x`)
}
