package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/teamradar/teamradar-server/internal/connection"
)

type nopPoster struct{}

func (nopPoster) Post(connection.Inbound) {}

func newTestConn(t *testing.T, reg connection.Registry) *connection.Connection {
	t.Helper()
	_, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })
	return connection.New(server, reg, nopPoster{}, nil, zerolog.Nop(), time.Second, 0, 0, 4)
}

func TestTryInsertRejectsDuplicate(t *testing.T) {
	r := New()
	a := newTestConn(t, r)
	b := newTestConn(t, r)

	require.True(t, r.TryInsert("alice", a))
	require.False(t, r.TryInsert("alice", b))
	require.True(t, r.Contains("alice"))
}

func TestConcurrentGreetingsExactlyOneWins(t *testing.T) {
	r := New()
	const n = 50
	conns := make([]*connection.Connection, n)
	for i := range conns {
		conns[i] = newTestConn(t, r)
	}

	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.TryInsert("contested", conns[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestRemoveAndRename(t *testing.T) {
	r := New()
	a := newTestConn(t, r)
	require.True(t, r.TryInsert("alice", a))

	require.True(t, r.Rename("alice", "alice2"))
	require.False(t, r.Contains("alice"))
	require.True(t, r.Contains("alice2"))

	require.False(t, r.Rename("missing", "whatever"))

	r.Remove("alice2")
	require.False(t, r.Contains("alice2"))
}

func TestEachVisitsSortedSnapshot(t *testing.T) {
	r := New()
	names := []string{"carol", "alice", "bob"}
	for _, n := range names {
		require.True(t, r.TryInsert(n, newTestConn(t, r)))
	}

	var visited []string
	r.Each(func(name string, _ *connection.Connection) {
		visited = append(visited, name)
	})
	require.Equal(t, []string{"alice", "bob", "carol"}, visited)
}
