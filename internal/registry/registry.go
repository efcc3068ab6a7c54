// Package registry implements the process-wide userName -> *Connection
// directory. It is grounded on SagerNet/smux's Session.streams map — a
// plain mutex-guarded map tracking a concurrent id -> stream table.
package registry

import (
	"sort"
	"sync"

	"github.com/teamradar/teamradar-server/internal/connection"
)

// Registry maps user names to their Ready Connection. All operations are
// atomic with respect to concurrent callers: concurrent greetings racing on
// the same name resolve to exactly one winner.
type Registry struct {
	mu    sync.Mutex
	byName map[string]*connection.Connection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*connection.Connection)}
}

// TryInsert binds name to conn iff name is not already held. It implements
// connection.Registry.
func (r *Registry) TryInsert(name string, conn *connection.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return false
	}
	r.byName[name] = conn
	return true
}

// Remove unbinds name, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Rename moves the binding from old to newName. It fails (returning false)
// if old is absent or newName is already taken.
func (r *Registry) Rename(old, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byName[old]
	if !ok {
		return false
	}
	if _, taken := r.byName[newName]; taken {
		return false
	}
	delete(r.byName, old)
	r.byName[newName] = conn
	return true
}

// Lookup returns the Connection bound to name, if any.
func (r *Registry) Lookup(name string) (*connection.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byName[name]
	return conn, ok
}

// Contains reports whether name is currently bound.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	return ok
}

// Each calls fn once per (name, Connection) pair under a consistent
// snapshot of the registry taken at call time — later inserts/removes do
// not affect an in-progress Each, so one broadcast always sees a stable
// membership list.
func (r *Registry) Each(fn func(name string, conn *connection.Connection)) {
	r.mu.Lock()
	snapshot := make(map[string]*connection.Connection, len(r.byName))
	for name, conn := range r.byName {
		snapshot[name] = conn
	}
	r.mu.Unlock()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(name, snapshot[name])
	}
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
