package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/teamradar/teamradar-server/internal/hub"
	"github.com/teamradar/teamradar-server/internal/metrics"
	"github.com/teamradar/teamradar-server/internal/registry"
	"github.com/teamradar/teamradar-server/internal/store/memstore"
	"github.com/teamradar/teamradar-server/internal/wire"
)

func TestListenerAcceptsAndCompletesGreeting(t *testing.T) {
	reg := registry.New()
	m := metrics.New(prometheus.NewRegistry())
	h := hub.New(reg, memstore.NewEventStore(), memstore.NewUserDirectory(), memstore.NewBlobStore(), m, zerolog.Nop(), 32)

	ln := New(Config{
		Addr:            "127.0.0.1:0",
		TransferTimeout: time.Second,
		WriteQueueCap:   16,
	}, reg, h, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ln.Run(ctx) }()

	// Addr() isn't exposed until the listener binds; poll briefly.
	var addr string
	require.Eventually(t, func() bool {
		if ln.ln == nil {
			return false
		}
		addr = ln.ln.Addr().String()
		return true
	}, time.Second, time.Millisecond)

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	framer := wire.NewFramer(client, time.Second)
	require.NoError(t, framer.WriteFrame(wire.Compose("GREETING", []byte("dave"))))
	reply, err := framer.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "GREETING", reply.Header)
	require.Equal(t, "OK, CONNECTED", string(reply.Body))

	cancel()
	<-done
}
