package hub

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/teamradar/teamradar-server/internal/blobsniff"
	"github.com/teamradar/teamradar-server/internal/connection"
	"github.com/teamradar/teamradar-server/internal/phase"
	"github.com/teamradar/teamradar-server/internal/store"
	"github.com/teamradar/teamradar-server/internal/wire"
)

// splitFirst splits body at the first '#' byte. Bodies below the header
// line are never re-scanned by the Framer, so handlers that expect
// sub-fields must split the raw bytes themselves; splitting on the first
// occurrence only keeps any '#' inside a trailing content field intact.
func splitFirst(body []byte) (head string, rest []byte, ok bool) {
	idx := bytes.IndexByte(body, '#')
	if idx < 0 {
		return "", nil, false
	}
	return string(body[:idx]), body[idx+1:], true
}

func splitSemicolon(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

func joinFields(items []string) []byte {
	return []byte(strings.Join(items, "#"))
}

// onEvent persists and fans out a client-originated activity event.
// Body: eventType#parameters.
func (h *Hub) onEvent(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	eventType, params, ok := splitFirst(fr.Body)
	if !ok {
		h.log.Warn().Str("user", conn.UserName()).Msg("malformed EVENT body")
		return
	}
	now := time.Now()
	h.logEventAt(ctx, conn.UserName(), eventType, string(params), now)

	frame := wire.Compose("EVENT", []byte(conn.UserName()), []byte(eventType), params, []byte(now.Format(store.TimeLayout)))
	h.broadcastToProject(conn.Project(), conn, frame)
}

// onRegPhoto stores an avatar image and announces it to project-mates.
// Body: suffix#rawImageBytes.
func (h *Hub) onRegPhoto(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	suffix, data, ok := splitFirst(fr.Body)
	if !ok {
		h.log.Warn().Str("user", conn.UserName()).Msg("malformed REG_PHOTO body")
		return
	}
	if !blobsniff.LooksLikeImage(data) {
		h.log.Warn().Str("user", conn.UserName()).Msg("REG_PHOTO rejected: unrecognized image format")
		return
	}
	fileName := conn.UserName() + "." + suffix
	if err := h.blobs.Put(ctx, fileName, data); err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("store photo failed")
		return
	}
	if err := h.directory.SetImage(ctx, conn.UserName(), fileName); err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("set image failed")
	}
	h.logEvent(ctx, conn.UserName(), "Register Photo", fileName)

	h.broadcastToProject(conn.Project(), conn, wire.Compose("PHOTO_REPLY", []byte(fileName), data))
}

// onRegColor records a display color and announces it. Body: "#RRGGBB"
// (a single literal hex-color field, not a '#'-delimited pair of fields).
func (h *Hub) onRegColor(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	color := string(fr.Body)
	if err := h.directory.SetColor(ctx, conn.UserName(), color); err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("set color failed")
	}
	h.logEvent(ctx, conn.UserName(), "Register Color", color)

	h.broadcastToProject(conn.Project(), conn, wire.Compose("COLOR_REPLY", []byte(conn.UserName()), []byte(color)))
}

// onJoinProject moves S between projects, announcing departure from the
// old project (if any) and arrival at the new one.
func (h *Hub) onJoinProject(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	newProject := string(fr.Body)
	oldProject := conn.SetProject(newProject)
	now := time.Now()

	if oldProject != "" && oldProject != newProject {
		h.broadcastToProject(oldProject, conn, wire.Compose("EVENT",
			[]byte(conn.UserName()), []byte("DISCONNECTED"), []byte(oldProject), []byte(now.Format(store.TimeLayout))))
		h.logEventAt(ctx, conn.UserName(), "DISCONNECTED", oldProject, now)
	}

	if err := h.directory.SetProject(ctx, conn.UserName(), newProject); err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("set project failed")
	}
	h.broadcastToProject(newProject, conn, wire.Compose("EVENT",
		[]byte(conn.UserName()), []byte("JOINED"), []byte(newProject), []byte(now.Format(store.TimeLayout))))
	h.logEventAt(ctx, conn.UserName(), "JOINED", newProject, now)
}

// onChat relays a direct message to each named recipient, unlogged.
// Body: recipient1;recipient2;...#content.
func (h *Hub) onChat(_ context.Context, conn *connection.Connection, fr wire.Frame) {
	recipients, content, ok := splitFirst(fr.Body)
	if !ok {
		h.log.Warn().Str("user", conn.UserName()).Msg("malformed CHAT body")
		return
	}
	for _, name := range splitSemicolon(recipients) {
		target, found := h.registry.Lookup(name)
		if !found || !target.Ready() {
			continue
		}
		target.Send(wire.Compose("CHAT", []byte(conn.UserName()), content))
	}
}

// onReqTeamMembers replies with the names of S's project-mates.
func (h *Hub) onReqTeamMembers(ctx context.Context, conn *connection.Connection, _ wire.Frame) {
	members, err := h.directory.ListProjectMembers(ctx, conn.Project())
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("list project members failed")
		return
	}
	conn.Send(wire.Compose("TEAMMEMBERS_REPLY", joinFields(members)))
	h.logEvent(ctx, conn.UserName(), "Request Team Members", "")
}

// onReqOnline replies whether the named user is currently connected.
func (h *Hub) onReqOnline(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	target := string(fr.Body)
	online, err := h.directory.IsOnline(ctx, target)
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("is online failed")
		return
	}
	status := "FALSE"
	if online {
		status = "TRUE"
	}
	conn.Send(wire.Compose("ONLINE_REPLY", []byte(target), []byte(status)))
	h.logEvent(ctx, conn.UserName(), "Request Online", target)
}

// onReqPhoto replies with a registered avatar. A miss sends no reply and
// logs a failure rather than an empty PHOTO_REPLY (see DESIGN.md).
func (h *Hub) onReqPhoto(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	target := string(fr.Body)
	fileName := target + ".png"
	data, found, err := h.blobs.Get(ctx, fileName)
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("get photo failed")
		return
	}
	if !found {
		h.logEvent(ctx, conn.UserName(), "Request Photo Failed", target)
		return
	}
	conn.Send(wire.Compose("PHOTO_REPLY", []byte(fileName), data))
	h.logEvent(ctx, conn.UserName(), "Request Photo", target)
}

// onReqColor replies with a user's registered color, defaulting to black.
func (h *Hub) onReqColor(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	target := string(fr.Body)
	u, found, err := h.directory.Get(ctx, target)
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("get user failed")
		return
	}
	color := "#000000"
	if found && u.Color != "" {
		color = u.Color
	}
	conn.Send(wire.Compose("COLOR_REPLY", []byte(target), []byte(color)))
	h.logEvent(ctx, conn.UserName(), "Request Color", target)
}

// onReqEvents answers a filtered, optionally phase-clustered, event query.
// Body: users;...#types;...#start;end#phases;...#fuzziness.
func (h *Hub) onReqEvents(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	fields := bytes.Split(fr.Body, []byte{'#'})
	if len(fields) != 5 {
		h.log.Warn().Str("user", conn.UserName()).Msg("malformed REQ_EVENTS body")
		return
	}
	users := splitSemicolon(string(fields[0]))
	types := splitSemicolon(string(fields[1]))

	var start, end time.Time
	if span := strings.SplitN(string(fields[2]), ";", 2); len(span) == 2 {
		start, _ = time.Parse(store.TimeLayout, span[0])
		end, _ = time.Parse(store.TimeLayout, span[1])
	}
	phaseNames := splitSemicolon(string(fields[3]))
	fuzziness, _ := strconv.Atoi(string(fields[4]))

	events, err := h.events.Query(ctx, store.EventFilter{Users: users, Types: types, Start: start, End: end})
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("query events failed")
		return
	}

	clustered := phase.Cluster(toPhaseEvents(events), fuzziness, phaseNames)
	for _, e := range clustered {
		conn.Send(wire.Compose("EVENTS_REPLY",
			[]byte(e.UserName), []byte(e.EventType), []byte(e.Parameters), []byte(e.Time.Format(store.TimeLayout))))
	}
	h.logEvent(ctx, conn.UserName(), "Request Events", "")
}

func toPhaseEvents(events []store.Event) []phase.Event {
	out := make([]phase.Event, len(events))
	for i, e := range events {
		out[i] = phase.Event{UserName: e.UserName, EventType: e.EventType, Parameters: e.Parameters, Time: e.Time}
	}
	return out
}

// onReqTimespan replies with the earliest and latest logged event times.
func (h *Hub) onReqTimespan(ctx context.Context, conn *connection.Connection, _ wire.Frame) {
	start, end, err := h.events.TimeSpan(ctx)
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("timespan query failed")
		return
	}
	conn.Send(wire.Compose("TIMESPAN_REPLY", []byte(start.Format(store.TimeLayout)), []byte(end.Format(store.TimeLayout))))
	h.logEvent(ctx, conn.UserName(), "Request Timespan", "")
}

// onReqProjects replies with every project name anyone has joined.
func (h *Hub) onReqProjects(ctx context.Context, conn *connection.Connection, _ wire.Frame) {
	projects, err := h.directory.ListProjects(ctx)
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("list projects failed")
		return
	}
	conn.Send(wire.Compose("PROJECTS_REPLY", joinFields(projects)))
	h.logEvent(ctx, conn.UserName(), "Request Projects", "")
}

// onReqLocation replies with the target user's most recent SAVE event, as
// an EVENT frame (per the operation's own wording — not LOCATION_REPLY,
// which remains a reserved outbound tag; see DESIGN.md).
func (h *Hub) onReqLocation(ctx context.Context, conn *connection.Connection, fr wire.Frame) {
	target := string(fr.Body)
	events, err := h.events.Query(ctx, store.EventFilter{Users: []string{target}, Types: []string{"SAVE"}})
	if err != nil {
		h.log.Error().Err(err).Str("user", conn.UserName()).Msg("location query failed")
		return
	}
	if len(events) == 0 {
		h.logEvent(ctx, conn.UserName(), "Request Location Failed", target)
		return
	}
	latest := events[len(events)-1]
	conn.Send(wire.Compose("EVENT", []byte(target), []byte("SAVE"), []byte(latest.Parameters), []byte(latest.Time.Format(store.TimeLayout))))
	h.logEvent(ctx, conn.UserName(), "Request Location", target)
}
