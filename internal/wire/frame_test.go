package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeConn adapts a net.Conn pair for the Framer's deadlineReadWriter need.
func pipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestFramerRoundTrip(t *testing.T) {
	client, server := pipeConn(t)
	clientFramer := NewFramer(client, time.Second)
	serverFramer := NewFramer(server, time.Second)

	cases := []struct {
		header string
		body   []byte
	}{
		{"GREETING", []byte("alice")},
		{"EVENT", []byte("SAVE#foo.cpp#2024-01-01 00:00:00")},
		{"CHAT", []byte("bob;carol#hi")},
		{"REQ_EVENTS", []byte("")},
	}

	for _, tc := range cases {
		tc := tc
		done := make(chan error, 1)
		go func() { done <- clientFramer.WriteFrame(Frame{Header: tc.header, Body: tc.body}) }()

		got, err := serverFramer.ReadFrame()
		require.NoError(t, err)
		require.NoError(t, <-done)
		require.Equal(t, tc.header, got.Header)
		require.Equal(t, tc.body, got.Body)
	}
}

func TestComposeJoinsWithHash(t *testing.T) {
	fr := Compose("EVENT", []byte("alice"), []byte("SAVE"), []byte("foo.cpp"))
	require.Equal(t, "EVENT", fr.Header)
	require.Equal(t, "alice#SAVE#foo.cpp", string(fr.Body))
}

func TestReadFrameUnknownHeaderIsRecoverable(t *testing.T) {
	client, server := pipeConn(t)
	serverFramer := NewFramer(server, time.Second)

	go func() {
		_, _ = client.Write([]byte("BOGUS#3#abc"))
		_, _ = client.Write([]byte("EVENT#0#"))
	}()

	_, err := serverFramer.ReadFrame()
	require.ErrorIs(t, err, ErrUnknownHeader)

	got, err := serverFramer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "EVENT", got.Header)
	require.Empty(t, got.Body)
}

func TestReadFrameBadLengthIsFraming(t *testing.T) {
	client, server := pipeConn(t)
	serverFramer := NewFramer(server, time.Second)

	go func() { _, _ = client.Write([]byte("EVENT#notanumber#")) }()

	_, err := serverFramer.ReadFrame()
	require.ErrorIs(t, err, ErrFraming)
}

func TestReadFrameTransferTimeout(t *testing.T) {
	client, server := pipeConn(t)
	serverFramer := NewFramer(server, 20*time.Millisecond)

	go func() { _, _ = client.Write([]byte("EVENT#")) }()

	_, err := serverFramer.ReadFrame()
	require.ErrorIs(t, err, ErrTransferTimeout)
}

func TestHeaderSetsOverlapOnlyOnSharedBidirectionalTags(t *testing.T) {
	shared := map[string]bool{"GREETING": true, "EVENT": true, "CHAT": true}
	for h := range InboundHeaders {
		if OutboundHeaders[h] {
			require.True(t, shared[h], "unexpected inbound/outbound overlap on %q", h)
		}
	}
}
