// Package listener runs the TCP accept loop and supervises it alongside
// the Hub's dispatch goroutine. The accept-loop-plus-goroutine-per-socket
// shape is grounded on SagerNet/smux's session model generalized from
// "multiplex streams over one dialed conn" to "one goroutine per accepted
// conn"; joint lifecycle supervision via golang.org/x/sync/errgroup follows
// rockstar-0000-aistore's dsort package, which uses errgroup.WithContext to
// run a worker alongside a cancellable pipeline.
package listener

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/teamradar/teamradar-server/internal/connection"
	"github.com/teamradar/teamradar-server/internal/hub"
	"github.com/teamradar/teamradar-server/internal/metrics"
)

// Config bounds the per-connection knobs Listener passes to every
// connection.Connection it creates.
type Config struct {
	Addr            string
	TransferTimeout time.Duration
	IdleTimeout     time.Duration
	MaxBufferBytes  int
	WriteQueueCap   int
}

// Listener owns the raw net.Listener and hands every accepted socket to a
// new connection.Connection wired to hub.
type Listener struct {
	cfg     Config
	reg     connection.Registry
	hub     *hub.Hub
	metrics *metrics.Metrics
	log     zerolog.Logger

	ln net.Listener
}

// New constructs a Listener. Run performs the actual net.Listen call, so
// construction never fails. m may be nil.
func New(cfg Config, reg connection.Registry, h *hub.Hub, m *metrics.Metrics, log zerolog.Logger) *Listener {
	return &Listener{cfg: cfg, reg: reg, hub: h, metrics: m, log: log}
}

// Run opens the listening socket and blocks, accepting connections and
// running the Hub's dispatch loop, until ctx is cancelled. It returns the
// first error from either the accept loop or the Hub, per errgroup's
// fail-fast semantics.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listener: listen")
	}
	l.ln = ln
	l.log.Info().Str("addr", l.cfg.Addr).Msg("listening")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return l.hub.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	group.Go(func() error {
		return l.acceptLoop(gctx, ln)
	})

	return group.Wait()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "listener: accept")
		}
		conn := connection.New(raw, l.reg, l.hub, l.metrics, l.log, l.cfg.TransferTimeout, l.cfg.IdleTimeout, l.cfg.MaxBufferBytes, l.cfg.WriteQueueCap)
		go conn.Serve()
	}
}
