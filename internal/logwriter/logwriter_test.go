package logwriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWriteStreamOneRecordPerNonEmptyLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	w, err := Open(path)
	assert.NilError(t, err)
	w.now = fixedClock(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	assert.NilError(t, w.WriteStream(Stdout, []byte("hello\n\nworld\n")))
	assert.NilError(t, w.Close())

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(data),
		"2026-07-31T12:00:00Z stdout hello\n"+
			"2026-07-31T12:00:00Z stdout world\n")
}

func TestWriteStreamSkipsEmptyPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	w, err := Open(path)
	assert.NilError(t, err)
	defer w.Close()

	assert.NilError(t, w.WriteStream(Stderr, nil))
	assert.NilError(t, w.WriteStream(Stderr, []byte("\n")))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, len(data), 0)
}

func TestOpenTruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	assert.NilError(t, os.WriteFile(path, []byte("stale content\n"), 0o644))

	w, err := Open(path)
	assert.NilError(t, err)
	defer w.Close()

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, len(data), 0)
}

func TestStdoutStderrSinksTagRecordsCorrectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	w, err := Open(path)
	assert.NilError(t, err)
	w.now = fixedClock(time.Unix(0, 0).UTC())

	n, err := (StdoutSink{W: w}).Write([]byte("out\n"))
	assert.NilError(t, err)
	assert.Equal(t, n, 4)

	n, err = (StderrSink{W: w}).Write([]byte("err\n"))
	assert.NilError(t, err)
	assert.Equal(t, n, 4)
	assert.NilError(t, w.Close())

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(data),
		"1970-01-01T00:00:00Z stdout out\n"+
			"1970-01-01T00:00:00Z stderr err\n")
}
