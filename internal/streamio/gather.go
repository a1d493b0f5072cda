package streamio

// Gatherer fans the input of N attach clients in to the single container
// stdin sink. A source that errors on read is removed; a sink (stdin)
// write error is logged by the caller and the source is kept — SPEC_FULL.md's
// decision on the spec's stated Open Question, matching original_source's
// io.rs Gatherer, which never drops a source because of a sink failure.
type Gatherer struct {
	sink Sink

	sources map[uint64]Source
	pending []byte // unwritten remainder from a prior WouldBlock on sink
}

// NewGatherer creates a Gatherer writing to sink (the container's stdin
// write end).
func NewGatherer(sink Sink) *Gatherer {
	return &Gatherer{sink: sink, sources: make(map[uint64]Source)}
}

// AddSource registers source under token (the poll token of its attach
// connection).
func (g *Gatherer) AddSource(token uint64, source Source) {
	g.sources[token] = source
}

// RemoveSource deregisters a source. A no-op if the token is unknown.
func (g *Gatherer) RemoveSource(token uint64) {
	delete(g.sources, token)
}

// HasSource reports whether a source is still registered under token.
func (g *Gatherer) HasSource(token uint64) bool {
	_, ok := g.sources[token]
	return ok
}

// Gather reads once from the source registered under token and writes the
// bytes read to the stdin sink. It returns the number of bytes read; 0
// means the source hit EOF (the caller removes it). srcErr, if non-nil, is
// a read failure on the source (callers treat this the same as EOF);
// sinkErr, if non-nil, is a stdin write failure (callers log and continue,
// keeping the source registered).
//
// If the sink would block, Gather never spins on it (spec §5): the
// unwritten bytes join the Gatherer's pending backlog, written ahead of
// whatever the next Gather call reads, instead of being retried in place.
func (g *Gatherer) Gather(token uint64) (n int, srcErr, sinkErr error) {
	source, ok := g.sources[token]
	if !ok {
		return 0, nil, nil
	}

	var buf [bufSize]byte
	n, err := source.Read(buf[:])
	if err != nil {
		if isEOF(err) {
			return 0, nil, nil
		}
		return 0, err, nil
	}
	if n == 0 {
		return 0, nil, nil
	}

	data := buf[:n]
	if len(g.pending) > 0 {
		data = append(g.pending, data...)
	}

	remaining, werr := writeSome(g.sink, data)
	if werr != nil {
		g.pending = nil
		return n, nil, werr
	}
	if len(remaining) > 0 {
		g.pending = append([]byte(nil), remaining...)
	} else {
		g.pending = nil
	}
	return n, nil, nil
}
