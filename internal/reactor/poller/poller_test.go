package poller

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndWaitReportsReadable(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, p.Add(int(r.Fd()), 123, Readable|HangUp))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(nil, 1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(123), events[0].Token)
	assert.True(t, events[0].Readable)
	assert.False(t, events[0].HangUp)
}

func TestWaitReportsHangUpAfterWriterCloses(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, p.Add(int(r.Fd()), 7, Readable|HangUp))
	require.NoError(t, w.Close())

	events, err := p.Wait(nil, 1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(7), events[0].Token)
	// An empty pipe whose write end is closed reports HUP (and no readable
	// data, since nothing was ever written).
	assert.True(t, events[0].HangUp)
}

func TestWaitTimesOutWithNoEvents(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, p.Add(int(r.Fd()), 1, Readable))

	events, err := p.Wait(nil, 50)
	require.NoError(t, err)
	assert.Len(t, events, 0)
}

func TestRemoveStopsDelivery(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, p.Add(int(r.Fd()), 1, Readable))
	require.NoError(t, p.Remove(int(r.Fd())))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(nil, 50)
	require.NoError(t, err)
	assert.Len(t, events, 0)
}

func TestTokenSurvivesHighBitsRoundTrip(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	const token = uint64(1) << 40
	require.NoError(t, p.Add(int(r.Fd()), token, Readable))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(nil, 1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, token, events[0].Token)
}
