// Package hub dispatches inbound frames to handlers: it persists events via
// EventStore, fans out to project-mates via the ConnectionRegistry, and
// answers queries by consulting EventStore/UserDirectory/BlobStore. One Hub
// goroutine serializes every store mutation and broadcast; registry inserts
// and removals happen on Connection goroutines under the Registry's own
// lock. The dispatch loop is grounded on
// other_examples/82bc134e_vtphan-switchboard's hub.go — a single run loop
// draining register/unregister/message channels — generalized from
// WebSocket classroom broadcast to TeamRadar's tag-dispatched protocol.
package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/teamradar/teamradar-server/internal/connection"
	"github.com/teamradar/teamradar-server/internal/metrics"
	"github.com/teamradar/teamradar-server/internal/registry"
	"github.com/teamradar/teamradar-server/internal/store"
	"github.com/teamradar/teamradar-server/internal/wire"
)

// handlerFunc handles one inbound frame tag. The static tag -> handler
// table below replaces polymorphic dispatch with a plain data table.
// Receiver-first so method expressions like (*Hub).onEvent assign directly.
type handlerFunc func(h *Hub, ctx context.Context, conn *connection.Connection, fr wire.Frame)

var handlerTable = map[string]handlerFunc{
	"EVENT":           (*Hub).onEvent,
	"REG_PHOTO":       (*Hub).onRegPhoto,
	"REG_COLOR":       (*Hub).onRegColor,
	"JOIN_PROJECT":    (*Hub).onJoinProject,
	"CHAT":            (*Hub).onChat,
	"REQ_TEAMMEMBERS": (*Hub).onReqTeamMembers,
	"REQ_ONLINE":      (*Hub).onReqOnline,
	"REQ_PHOTO":       (*Hub).onReqPhoto,
	"REQ_COLOR":       (*Hub).onReqColor,
	"REQ_EVENTS":      (*Hub).onReqEvents,
	"REQ_TIMESPAN":    (*Hub).onReqTimespan,
	"REQ_PROJECTS":    (*Hub).onReqProjects,
	"REQ_LOCATION":    (*Hub).onReqLocation,
}

// Hub owns the registry and store collaborators and runs the single
// serializing dispatch goroutine.
type Hub struct {
	registry  *registry.Registry
	events    store.EventStore
	directory store.UserDirectory
	blobs     store.BlobStore
	metrics   *metrics.Metrics
	log       zerolog.Logger

	inbox chan connection.Inbound
	done  chan struct{}
}

// New constructs a Hub. inboxSize bounds how many posted messages may be
// queued before a Connection's Post call blocks — matching SagerNet/smux's
// own bounded channels (e.g. chAccepts's defaultAcceptBacklog).
func New(reg *registry.Registry, events store.EventStore, directory store.UserDirectory, blobs store.BlobStore, m *metrics.Metrics, log zerolog.Logger, inboxSize int) *Hub {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Hub{
		registry:  reg,
		events:    events,
		directory: directory,
		blobs:     blobs,
		metrics:   m,
		log:       log,
		inbox:     make(chan connection.Inbound, inboxSize),
		done:      make(chan struct{}),
	}
}

// Post implements connection.Poster. It blocks the calling Connection's
// read loop only as long as the Hub's inbox is full — the same backpressure
// shape as SagerNet/smux's writeRequest channel sends in session.go.
func (h *Hub) Post(msg connection.Inbound) {
	select {
	case h.inbox <- msg:
	case <-h.done:
	}
}

// Run drains the inbox until ctx is cancelled. It is the Hub's single
// goroutine: every registry read-for-broadcast and every store mutation
// happens here, in FIFO arrival order.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case msg := <-h.inbox:
			h.dispatch(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, msg connection.Inbound) {
	switch msg.Kind {
	case connection.KindConnect:
		h.handleConnect(ctx, msg.Conn)
	case connection.KindDisconnect:
		h.handleDisconnect(ctx, msg.Conn)
	case connection.KindFrame:
		h.handleFrame(ctx, msg.Conn, msg.Frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	fn, ok := handlerTable[fr.Header]
	if !ok {
		h.log.Warn().Str("header", fr.Header).Msg("no handler registered for frame tag")
		return
	}
	fn(h, ctx, conn, fr)
}

// handleConnect logs the connect event but never broadcasts it; connect
// is visibility-on-query only (see DESIGN.md's open question notes).
func (h *Hub) handleConnect(ctx context.Context, conn *connection.Connection) {
	user := conn.UserName()
	if err := h.directory.Upsert(ctx, user); err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("upsert user failed")
	}
	if err := h.directory.SetOnline(ctx, user, true); err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("set online failed")
	}
	h.logEvent(ctx, user, "Connected", "")
	if h.metrics != nil {
		h.metrics.ConnectionsReady.Inc()
	}
}

// handleDisconnect broadcasts the synthetic DISCONNECTED event to the
// departing user's remaining project-mates, then marks them offline.
func (h *Hub) handleDisconnect(ctx context.Context, conn *connection.Connection) {
	user := conn.UserName()
	project := conn.Project()
	now := time.Now()

	h.broadcastToProject(project, conn, wire.Compose("EVENT",
		[]byte(user), []byte("DISCONNECTED"), []byte(""), []byte(now.Format(store.TimeLayout))))

	if err := h.directory.SetOnline(ctx, user, false); err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("set offline failed")
	}
	h.logEventAt(ctx, user, "DISCONNECTED", "", now)
	if h.metrics != nil {
		h.metrics.ConnectionsReady.Dec()
	}
}

// broadcastToProject sends fr to every Ready connection bound to project,
// excluding source — the one fan-out rule every handler shares.
func (h *Hub) broadcastToProject(project string, source *connection.Connection, fr wire.Frame) {
	if project == "" {
		return
	}
	h.registry.Each(func(_ string, conn *connection.Connection) {
		if conn == source || !conn.Ready() || conn.Project() != project {
			return
		}
		conn.Send(fr)
		if h.metrics != nil {
			h.metrics.BroadcastsTotal.Inc()
		}
	})
}

// logEvent appends one Logs row stamped with the current time.
func (h *Hub) logEvent(ctx context.Context, user, eventType, params string) {
	h.logEventAt(ctx, user, eventType, params, time.Now())
}

func (h *Hub) logEventAt(ctx context.Context, user, eventType, params string, at time.Time) {
	if _, err := h.events.Append(ctx, user, eventType, params, at); err != nil {
		h.log.Error().Err(err).Str("user", user).Str("event", eventType).Msg("append event failed")
		return
	}
	if h.metrics != nil {
		h.metrics.EventsLoggedTotal.Inc()
	}
}
