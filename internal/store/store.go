// Package store defines the EventStore, UserDirectory, and BlobStore
// interfaces the Hub depends on. These are the abstract collaborators;
// concrete adapters live in store/sqlite, store/blobfs, and store/memstore.
package store

import (
	"context"
	"io"
	"time"
)

// TimeLayout is the textual timestamp format used on the wire and in the
// Logs table: yyyy-MM-dd HH:mm:ss.
const TimeLayout = "2006-01-02 15:04:05"

// Event is one row of the Logs table: a persisted TeamRadarEvent.
type Event struct {
	ID         int64
	UserName   string
	EventType  string
	Parameters string
	Time       time.Time
}

// EventFilter narrows a Query call. Zero-value fields mean "unfiltered" for
// that dimension; an empty Users/Types slice, nil or not, is likewise
// unfiltered.
type EventFilter struct {
	Users []string
	Types []string
	Start time.Time
	End   time.Time
}

// EventStore appends and queries the persisted event log (the Logs table).
type EventStore interface {
	Append(ctx context.Context, userName, eventType, parameters string, at time.Time) (Event, error)
	Query(ctx context.Context, filter EventFilter) ([]Event, error)
	TimeSpan(ctx context.Context) (start, end time.Time, err error)
	Clear(ctx context.Context) error
	Export(ctx context.Context, w io.Writer) error
}

// User is one row of the Users table.
type User struct {
	UserName string
	Online   bool
	Color    string
	Image    string
	Project  string
}

// UserDirectory owns presence and identity metadata (the Users table).
type UserDirectory interface {
	Upsert(ctx context.Context, userName string) error
	SetOnline(ctx context.Context, userName string, online bool) error
	SetColor(ctx context.Context, userName, colorHex string) error
	SetImage(ctx context.Context, userName, imagePath string) error
	SetProject(ctx context.Context, userName, project string) error
	Get(ctx context.Context, userName string) (User, bool, error)
	IsOnline(ctx context.Context, userName string) (bool, error)
	ListProjectMembers(ctx context.Context, project string) ([]string, error)
	ListProjects(ctx context.Context) ([]string, error)
}

// BlobStore persists named binary blobs — photo uploads in practice.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, bool, error)
}
