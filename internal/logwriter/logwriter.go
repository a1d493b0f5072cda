// Package logwriter implements the container log file (spec §4.5, §6): one
// record per non-empty line, timestamped and stream-tagged. Grounded on
// original_source's container/logger.rs (open create+truncate, split on
// '\n', skip empty lines) and the teacher's timestamp/record conventions in
// cmd/containerd-shim/main.go's writeMessage.
package logwriter

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
)

// StreamName is the literal ASCII token recorded for each line (spec §4.5,
// §6): "stdout" or "stderr".
type StreamName string

const (
	Stdout StreamName = "stdout"
	Stderr StreamName = "stderr"
)

// LogWriter appends timestamped, stream-tagged records to a single file.
//
// Partial lines are NOT buffered across calls: each Write splits only the
// bytes it was given on '\n' and flushes any chunk lacking a trailing
// newline as if it were complete. This mirrors the open question in spec
// §9/§4.5 ("implementers should document whether to buffer across calls")
// — SPEC_FULL.md §"OPEN QUESTIONS" resolves it in favor of matching
// original_source's logger.rs, which has the same behavior.
type LogWriter struct {
	file *os.File
	now  func() time.Time
}

// Open creates (truncating) the log file at path.
func Open(path string) (*LogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open container log file %s failed", path)
	}
	return &LogWriter{file: f, now: time.Now}, nil
}

// WriteStream appends one record per non-empty '\n'-delimited line found in
// data, tagged with stream. The Scatterer reaches this through the
// StdoutSink/StderrSink adapters below so it never has to know a LogWriter
// isn't itself a plain streamio.Sink.
func (w *LogWriter) WriteStream(stream StreamName, data []byte) error {
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if err := w.writeRecord(stream, line); err != nil {
			return err
		}
	}
	return nil
}

func (w *LogWriter) writeRecord(stream StreamName, line []byte) error {
	record := w.now().UTC().Format(time.RFC3339Nano) + " " + string(stream) + " " + string(line) + "\n"
	if _, err := w.file.WriteString(record); err != nil {
		return errors.Wrap(err, "container log write failed")
	}
	return nil
}

// Close closes the underlying file.
func (w *LogWriter) Close() error { return w.file.Close() }

// StdoutSink and StderrSink adapt a LogWriter into the two streamio.Sink
// views a Scatterer needs — one per container output stream — so each
// Scatterer can register the log writer without it needing to know its own
// stream identity.
type StdoutSink struct{ W *LogWriter }

func (s StdoutSink) Write(p []byte) (int, error) {
	return len(p), s.W.WriteStream(Stdout, p)
}

type StderrSink struct{ W *LogWriter }

func (s StderrSink) Write(p []byte) (int, error) {
	return len(p), s.W.WriteStream(Stderr, p)
}
