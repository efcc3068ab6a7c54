// Package memstore provides in-memory fakes for store.EventStore,
// store.UserDirectory, and store.BlobStore used by Hub's tests — the
// teacher has no DI/mocking framework either, so these are hand-written
// structs implementing the real interfaces, not generated mocks.
package memstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/teamradar/teamradar-server/internal/store"
)

// EventStore is an in-memory store.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events []store.Event
	nextID int64
}

func NewEventStore() *EventStore { return &EventStore{} }

func (s *EventStore) Append(_ context.Context, userName, eventType, parameters string, at time.Time) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := store.Event{ID: s.nextID, UserName: userName, EventType: eventType, Parameters: parameters, Time: at}
	s.events = append(s.events, e)
	return e, nil
}

func (s *EventStore) Query(_ context.Context, filter store.EventFilter) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userSet := toSet(filter.Users)
	typeSet := toSet(filter.Types)

	var out []store.Event
	for _, e := range s.events {
		if len(userSet) > 0 && !userSet[e.UserName] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.EventType] {
			continue
		}
		if !filter.Start.IsZero() && e.Time.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && e.Time.After(filter.End) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func (s *EventStore) TimeSpan(_ context.Context) (time.Time, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return time.Time{}, time.Time{}, nil
	}
	start, end := s.events[0].Time, s.events[0].Time
	for _, e := range s.events[1:] {
		if e.Time.Before(start) {
			start = e.Time
		}
		if e.Time.After(end) {
			end = e.Time
		}
	}
	return start, end, nil
}

func (s *EventStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	return nil
}

func (s *EventStore) Export(_ context.Context, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		fmt.Fprintf(w, "%d,%s,%s,%s,%s\n", e.ID, e.Time.Format(store.TimeLayout), e.UserName, e.EventType, e.Parameters)
	}
	return nil
}

// UserDirectory is an in-memory store.UserDirectory.
type UserDirectory struct {
	mu    sync.Mutex
	users map[string]store.User
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[string]store.User)}
}

func (d *UserDirectory) Upsert(_ context.Context, userName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[userName]; !ok {
		d.users[userName] = store.User{UserName: userName, Color: "#000000"}
	}
	return nil
}

func (d *UserDirectory) mutate(userName string, fn func(u *store.User)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userName]
	if !ok {
		u = store.User{UserName: userName, Color: "#000000"}
	}
	fn(&u)
	d.users[userName] = u
	return nil
}

func (d *UserDirectory) SetOnline(_ context.Context, userName string, online bool) error {
	return d.mutate(userName, func(u *store.User) { u.Online = online })
}

func (d *UserDirectory) SetColor(_ context.Context, userName, colorHex string) error {
	return d.mutate(userName, func(u *store.User) { u.Color = colorHex })
}

func (d *UserDirectory) SetImage(_ context.Context, userName, imagePath string) error {
	return d.mutate(userName, func(u *store.User) { u.Image = imagePath })
}

func (d *UserDirectory) SetProject(_ context.Context, userName, project string) error {
	return d.mutate(userName, func(u *store.User) { u.Project = project })
}

func (d *UserDirectory) Get(_ context.Context, userName string) (store.User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userName]
	return u, ok, nil
}

func (d *UserDirectory) IsOnline(ctx context.Context, userName string) (bool, error) {
	u, ok, _ := d.Get(ctx, userName)
	return ok && u.Online, nil
}

func (d *UserDirectory) ListProjectMembers(_ context.Context, project string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, u := range d.users {
		if u.Project == project {
			out = append(out, u.UserName)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *UserDirectory) ListProjects(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := map[string]bool{}
	for _, u := range d.users {
		if u.Project != "" {
			set[u.Project] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// BlobStore is an in-memory store.BlobStore.
type BlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewBlobStore() *BlobStore { return &BlobStore{data: make(map[string][]byte)} }

func (b *BlobStore) Put(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.data[name] = cp
	return nil
}

func (b *BlobStore) Get(_ context.Context, name string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[name]
	return d, ok, nil
}

var (
	_ store.EventStore    = (*EventStore)(nil)
	_ store.UserDirectory = (*UserDirectory)(nil)
	_ store.BlobStore     = (*BlobStore)(nil)
)
