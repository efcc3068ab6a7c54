package hub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/teamradar/teamradar-server/internal/connection"
	"github.com/teamradar/teamradar-server/internal/metrics"
	"github.com/teamradar/teamradar-server/internal/registry"
	"github.com/teamradar/teamradar-server/internal/store"
	"github.com/teamradar/teamradar-server/internal/store/memstore"
	"github.com/teamradar/teamradar-server/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestHub wires a Hub over memstore fakes and a real Registry, and
// starts its dispatch loop. Callers must cancel ctx (via the returned
// cancel func) when done.
func newTestHub(t *testing.T) (*Hub, *registry.Registry, *memstore.EventStore, *memstore.UserDirectory, *memstore.BlobStore, func()) {
	t.Helper()
	reg := registry.New()
	events := memstore.NewEventStore()
	directory := memstore.NewUserDirectory()
	blobs := memstore.NewBlobStore()
	m := metrics.New(prometheus.NewRegistry())

	h := New(reg, events, directory, blobs, m, zerolog.Nop(), 32)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, reg, events, directory, blobs, cancel
}

// connectUser wires a Connection through the full greeting handshake over
// an in-memory pipe and returns both ends, with the server-side Connection
// already posted as KindConnect into the Hub.
func connectUser(t *testing.T, h *Hub, reg *registry.Registry, name string) (*connection.Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := connection.New(serverSide, reg, h, nil, zerolog.Nop(), time.Second, 0, 0, 16)
	go conn.Serve()

	framer := wire.NewFramer(clientSide, time.Second)
	require.NoError(t, framer.WriteFrame(wire.Compose("GREETING", []byte(name))))
	reply, err := framer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "GREETING", reply.Header)
	require.Equal(t, "OK, CONNECTED", string(reply.Body))

	waitUntil(t, func() bool { return conn.Ready() })
	return conn, clientSide
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestConnectUpsertsAndMarksOnline(t *testing.T) {
	h, reg, _, directory, _, cancel := newTestHub(t)
	defer cancel()

	_, client := connectUser(t, h, reg, "alice")
	defer client.Close()

	waitUntil(t, func() bool {
		online, _ := directory.IsOnline(context.Background(), "alice")
		return online
	})
}

func TestEventBroadcastsToProjectMatesExcludingSource(t *testing.T) {
	h, reg, events, directory, _, cancel := newTestHub(t)
	defer cancel()

	_, aliceClient := connectUser(t, h, reg, "alice")
	_, bobClient := connectUser(t, h, reg, "bob")
	defer aliceClient.Close()
	defer bobClient.Close()

	aliceFramer := wire.NewFramer(aliceClient, time.Second)
	bobFramer := wire.NewFramer(bobClient, time.Second)

	// alice joins first, with no project-mates yet, so nothing to announce.
	require.NoError(t, aliceFramer.WriteFrame(wire.Compose("JOIN_PROJECT", []byte("radar"))))
	waitUntil(t, func() bool {
		u, ok, _ := directory.Get(context.Background(), "alice")
		return ok && u.Project == "radar"
	})

	// bob's join is processed after alice's, so it announces to alice alone.
	require.NoError(t, bobFramer.WriteFrame(wire.Compose("JOIN_PROJECT", []byte("radar"))))
	joinedFrame, err := aliceFramer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "EVENT", joinedFrame.Header)

	require.NoError(t, aliceFramer.WriteFrame(wire.Compose("EVENT", []byte("MODE/Edit"), []byte("file.go"))))

	fr, err := bobFramer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "EVENT", fr.Header)

	waitUntil(t, func() bool {
		evs, _ := events.Query(context.Background(), store.EventFilter{Users: []string{"alice"}, Types: []string{"MODE/Edit"}})
		return len(evs) == 1
	})
}

func TestChatRelaysOnlyToNamedRecipients(t *testing.T) {
	h, reg, _, _, _, cancel := newTestHub(t)
	defer cancel()

	_, aliceClient := connectUser(t, h, reg, "alice")
	_, bobClient := connectUser(t, h, reg, "bob")
	_, carolClient := connectUser(t, h, reg, "carol")
	defer aliceClient.Close()
	defer bobClient.Close()
	defer carolClient.Close()

	aliceFramer := wire.NewFramer(aliceClient, time.Second)
	bobFramer := wire.NewFramer(bobClient, time.Second)

	require.NoError(t, aliceFramer.WriteFrame(wire.Compose("CHAT", []byte("bob"), []byte("hello"))))

	fr, err := bobFramer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "CHAT", fr.Header)

	carolFramer := wire.NewFramer(carolClient, time.Second)
	carolGotFrame := make(chan struct{})
	go func() {
		carolFramer.ReadFrame()
		close(carolGotFrame)
	}()
	select {
	case <-carolGotFrame:
		t.Fatal("carol should not have received a CHAT frame addressed to bob")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegPhotoRejectsNonImageData(t *testing.T) {
	h, reg, _, directory, blobs, cancel := newTestHub(t)
	defer cancel()

	_, client := connectUser(t, h, reg, "alice")
	defer client.Close()

	framer := wire.NewFramer(client, time.Second)
	require.NoError(t, framer.WriteFrame(wire.Compose("REG_PHOTO", []byte("png"), []byte("not an image"))))

	time.Sleep(50 * time.Millisecond)
	_, ok, _ := blobs.Get(context.Background(), "alice.png")
	require.False(t, ok)

	u, _, _ := directory.Get(context.Background(), "alice")
	require.Empty(t, u.Image)
}
