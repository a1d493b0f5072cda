package streamio

import (
	"github.com/sirupsen/logrus"
)

// Stream tags prefixed onto bytes delivered to attach sinks, letting a
// single attach connection carry both stdout and stderr (spec §3, §6).
const (
	TagStdout byte = 1
	TagStderr byte = 2
)

// bufSize bounds a single read, matching spec §4.3's "reads are bounded by
// a fixed buffer (32 KiB) and a single read per event".
const bufSize = 32 * 1024

type scatterSink struct {
	sink    Sink
	tagged  bool   // false for the log-writer sink, which gets the untagged payload
	pending []byte // unwritten remainder from a prior WouldBlock, retried before new bytes
}

// Scatterer fans one container output stream (stdout or stderr) out to an
// ordered set of sinks: the log writer (untagged) and zero or more attach
// clients (tag-prefixed). A sink that fails is silently dropped — the
// source is never penalized for a broken attach client (spec §3 invariant).
type Scatterer struct {
	source Source
	fd     int
	tag    byte
	log    logrus.FieldLogger

	nextID int
	sinks  map[int]*scatterSink
	order  []int
}

// NewScatterer creates a Scatterer reading from source (associated with fd
// for poller registration) and tagging forwarded bytes with tag.
func NewScatterer(source Source, fd int, tag byte, log logrus.FieldLogger) *Scatterer {
	return &Scatterer{
		source: source,
		fd:     fd,
		tag:    tag,
		log:    log,
		sinks:  make(map[int]*scatterSink),
	}
}

// Fd returns the underlying source file descriptor.
func (s *Scatterer) Fd() int { return s.fd }

// AddSink registers a new sink and returns its id for later removal.
// tagged selects whether the sink receives the tag-prefixed buffer (attach
// clients) or the bare payload (the log writer).
func (s *Scatterer) AddSink(sink Sink, tagged bool) int {
	id := s.nextID
	s.nextID++
	s.sinks[id] = &scatterSink{sink: sink, tagged: tagged}
	s.order = append(s.order, id)
	return id
}

// RemoveSink deregisters a sink by id. Removing an id that isn't present is
// a no-op, since an attach client can be torn down from the reactor side
// (EOF on its own FD) concurrently with a scatter-triggered removal.
func (s *Scatterer) RemoveSink(id int) {
	if _, ok := s.sinks[id]; !ok {
		return
	}
	delete(s.sinks, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Scatter performs one scatter cycle: a single read from the source,
// fanned out to every live sink. It returns the number of bytes read; 0
// means EOF. A read error is returned to the caller (who deregisters the
// whole scatterer); a sink write error only removes that sink.
//
// A sink that would block on this cycle's write is never spun on (spec
// §5): its unwritten bytes are appended to its own pending backlog and
// retried, ahead of any newly read bytes, the next time Scatter runs.
func (s *Scatterer) Scatter() (int, error) {
	var buf [1 + bufSize]byte
	buf[0] = s.tag
	n, err := s.source.Read(buf[1:])
	if err != nil {
		if isEOF(err) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	tagged := buf[:n+1]
	payload := buf[1 : n+1]

	for _, id := range append([]int(nil), s.order...) {
		sk := s.sinks[id]
		data := payload
		if sk.tagged {
			data = tagged
		}
		if len(sk.pending) > 0 {
			data = append(sk.pending, data...)
		}

		remaining, werr := writeSome(sk.sink, data)
		if werr != nil {
			s.log.WithError(werr).WithField("sink", id).Debug("scatter: dropping failed sink")
			s.RemoveSink(id)
			continue
		}
		if len(remaining) > 0 {
			sk.pending = append([]byte(nil), remaining...)
			s.log.WithField("sink", id).WithField("pending", len(remaining)).Debug("scatter: sink would block, buffering for retry")
		} else {
			sk.pending = nil
		}
	}

	return n, nil
}
