// Package connection implements one state machine per peer socket: the
// greeting handshake, the Ready steady state, and teardown. It is grounded
// on SagerNet/smux's Session — a die channel plus sync.Once for idempotent
// close, and a bounded outbound queue drained by its own goroutine — scaled
// down from "one session, many multiplexed streams" to "one socket, one
// named peer".
package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamradar/teamradar-server/internal/metrics"
	"github.com/teamradar/teamradar-server/internal/wire"
)

// State is a Connection's position in WaitingGreeting -> ReadingGreeting ->
// Ready -> Closed.
type State int32

const (
	StateWaitingGreeting State = iota
	StateReadingGreeting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWaitingGreeting:
		return "waiting_greeting"
	case StateReadingGreeting:
		return "reading_greeting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind distinguishes the three things a Connection can post to its Poster.
type Kind int

const (
	KindFrame Kind = iota
	KindConnect
	KindDisconnect
)

// Inbound is one message handed from a Connection up to the Hub.
type Inbound struct {
	Conn  *Connection
	Kind  Kind
	Frame wire.Frame
}

// Poster is the Hub's receiving side, as seen by a Connection. Posting must
// not block the caller indefinitely on server-side failure; implementations
// are expected to run one serializing goroutine behind a buffered channel.
type Poster interface {
	Post(msg Inbound)
}

// Registry is the ConnectionRegistry's interface, as seen by a Connection.
// Defined here (not in package registry) so connection does not import
// registry — registry imports connection instead, breaking the cycle.
type Registry interface {
	TryInsert(name string, conn *Connection) bool
	Remove(name string)
}

var (
	errUnexpectedHeader = errors.New("connection: expected GREETING before any other frame")
	errDuplicateName    = errors.New("connection: greeting name already taken")
)

// Connection owns one peer socket: framing, the greeting handshake, and a
// bounded outbound write queue. Closing is idempotent and cancels both the
// read and write loops.
type Connection struct {
	ID       uuid.UUID
	raw      net.Conn
	framer   *wire.Framer
	log      zerolog.Logger
	registry Registry
	poster   Poster
	metrics  *metrics.Metrics

	writeCh   chan wire.Frame
	closeCh   chan struct{}
	closeOnce sync.Once

	state        State32
	idleTimeout  time.Duration
	lastActivity atomic.Int64 // unix nanos

	mu       sync.Mutex
	userName string
	project  string
}

// State32 is a small atomic wrapper so State reads never race with the
// single writer in handleGreeting/teardown.
type State32 struct{ v int32 }

func (s *State32) Load() State      { return State(atomic.LoadInt32(&s.v)) }
func (s *State32) Store(v State)    { atomic.StoreInt32(&s.v, int32(v)) }

// New constructs a Connection over an accepted socket. writeQueueCap bounds
// the outbound queue; exceeding it closes the connection rather than
// blocking the Hub. idleTimeout, if positive, closes a connection that
// exchanges no frames for that long; zero disables it. m may be nil, in
// which case framing-error counting is skipped.
func New(raw net.Conn, registry Registry, poster Poster, m *metrics.Metrics, log zerolog.Logger, transferTimeout, idleTimeout time.Duration, maxBufferBytes, writeQueueCap int) *Connection {
	if writeQueueCap <= 0 {
		writeQueueCap = 256
	}
	framer := wire.NewFramer(raw, transferTimeout)
	framer.SetMaxBuffer(maxBufferBytes)
	c := &Connection{
		ID:          uuid.New(),
		raw:         raw,
		framer:      framer,
		log:         log.With().Str("remote", raw.RemoteAddr().String()).Logger(),
		registry:    registry,
		poster:      poster,
		metrics:     m,
		writeCh:     make(chan wire.Frame, writeQueueCap),
		closeCh:     make(chan struct{}),
		idleTimeout: idleTimeout,
	}
	c.state.Store(StateWaitingGreeting)
	c.touch()
	return c
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Serve runs the read and write loops until the connection closes. It
// blocks until teardown is complete.
func (c *Connection) Serve() {
	go c.writeLoop()
	if c.idleTimeout > 0 {
		go c.idleReaper()
	}
	c.readLoop()
}

// idleReaper closes the connection if no frame crosses the wire (in either
// direction) for idleTimeout. It only ever tightens the transfer timeout's
// per-byte deadline with a whole-connection one.
func (c *Connection) idleReaper() {
	ticker := time.NewTicker(c.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastActivity.Load())
			if time.Since(last) >= c.idleTimeout {
				c.log.Warn().Msg("idle timeout, closing connection")
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.teardown()
	for {
		fr, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrUnknownHeader) {
				c.log.Warn().Err(err).Msg("dropping unrecognized frame")
				continue
			}
			if errors.Is(err, wire.ErrFraming) {
				c.log.Warn().Err(err).Msg("framing error, aborting connection")
				if c.metrics != nil {
					c.metrics.FramingErrorsTotal.Inc()
				}
			} else if errors.Is(err, wire.ErrTransferTimeout) {
				c.log.Warn().Msg("transfer timeout, aborting connection")
				if c.metrics != nil {
					c.metrics.FramingErrorsTotal.Inc()
				}
			}
			return
		}
		c.touch()
		if c.handleFrame(fr) != nil {
			return
		}
	}
}

func (c *Connection) handleFrame(fr wire.Frame) error {
	if c.state.Load() != StateReady {
		return c.handleGreeting(fr)
	}
	c.poster.Post(Inbound{Conn: c, Kind: KindFrame, Frame: fr})
	return nil
}

func (c *Connection) handleGreeting(fr wire.Frame) error {
	if fr.Header != "GREETING" {
		c.log.Warn().Str("header", fr.Header).Msg("expected GREETING first")
		return errUnexpectedHeader
	}
	c.state.Store(StateReadingGreeting)

	name := string(fr.Body)
	// isSocketClosed guards against a greeting that raced an already-closed
	// socket.
	if name == "" || c.isSocketClosed() || !c.registry.TryInsert(name, c) {
		// Written directly, not queued: teardown follows at once and would
		// close the socket before the write loop got to a queued reply.
		_ = c.framer.WriteFrame(wire.Compose("GREETING", []byte("WRONG_USER")))
		return errDuplicateName
	}

	c.mu.Lock()
	c.userName = name
	c.mu.Unlock()
	c.state.Store(StateReady)

	c.sendRaw(wire.Compose("GREETING", []byte("OK, CONNECTED")))
	c.poster.Post(Inbound{Conn: c, Kind: KindConnect})
	return nil
}

func (c *Connection) writeLoop() {
	for {
		select {
		case fr, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.framer.WriteFrame(fr); err != nil {
				c.log.Warn().Err(err).Msg("write failed, closing connection")
				c.Close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// Send enqueues a composed frame for the peer. It is a no-op if the
// connection is not Ready, except GREETING replies, which the handshake
// sends without this guard.
func (c *Connection) Send(fr wire.Frame) {
	if c.state.Load() != StateReady {
		return
	}
	c.sendRaw(fr)
}

func (c *Connection) sendRaw(fr wire.Frame) {
	c.touch()
	select {
	case c.writeCh <- fr:
	default:
		// Slow-consumer policy: a full outbound queue closes the peer
		// rather than let one stalled reader back up the whole Hub.
		c.log.Warn().Msg("outbound queue full, closing slow consumer")
		c.Close()
	}
}

// Close is idempotent; it cancels the write loop and the underlying
// socket, which in turn unblocks the read loop's next ReadFrame call.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.raw.Close()
	})
	return nil
}

func (c *Connection) isSocketClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Connection) teardown() {
	c.Close()
	wasReady := c.state.Load() == StateReady
	c.state.Store(StateClosed)

	if !wasReady {
		return
	}
	c.mu.Lock()
	name := c.userName
	c.mu.Unlock()

	c.registry.Remove(name)
	c.poster.Post(Inbound{Conn: c, Kind: KindDisconnect})
}

// UserName returns the bound user name, or "" before Ready.
func (c *Connection) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

// Project returns the currently bound project, or "" if unbound.
func (c *Connection) Project() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// SetProject rebinds the connection's project, returning the previous one.
// Only the Hub goroutine calls this, so no extra synchronization beyond the
// mutex guarding the field is required.
func (c *Connection) SetProject(project string) (previous string) {
	c.mu.Lock()
	previous = c.project
	c.project = project
	c.mu.Unlock()
	return previous
}

// Ready reports whether the connection has completed its handshake.
func (c *Connection) Ready() bool {
	return c.state.Load() == StateReady
}

// RemoteAddr exposes the peer address for logging/diagnostics.
func (c *Connection) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// String implements fmt.Stringer for log-friendly identification.
func (c *Connection) String() string {
	if name := c.UserName(); name != "" {
		return fmt.Sprintf("conn(%s)", name)
	}
	return fmt.Sprintf("conn(%s)", c.ID)
}
