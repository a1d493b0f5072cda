// Package exitfile writes the on-disk exit-status artifact (spec §4.7): a
// single-line JSON object recording how the container terminated, written
// exactly once. It uses github.com/moby/sys/atomicwriter for write-then-rename
// semantics, resolving spec §8's round-trip property ("readers see a
// complete JSON object or none") the way the teacher already depends on
// that library for exactly this pattern elsewhere in the repo.
package exitfile

import (
	"encoding/json"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"

	"shimmy/internal/model"
)

type record struct {
	At       string `json:"at"`
	Reason   string `json:"reason"`
	ExitCode *int32 `json:"exitCode,omitempty"`
	Signal   *int   `json:"signal,omitempty"`
}

// Write persists status to path as a single JSON line, atomically.
func Write(path string, status model.TerminationStatus, now time.Time) error {
	rec := record{At: now.UTC().Format(time.RFC3339Nano)}
	switch s := status.(type) {
	case model.Exited:
		rec.Reason = "exited"
		code := s.Code
		rec.ExitCode = &code
	case model.Signaled:
		rec.Reason = "signaled"
		sig := int(s.Signal)
		rec.Signal = &sig
	default:
		return errors.Errorf("exitfile: unknown termination status %T", status)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "exit file JSON marshal failed")
	}
	data = append(data, '\n')

	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "atomic write of exit file %s failed", path)
	}
	return nil
}
