// Package sqlite backs EventStore and UserDirectory with two tables,
// Logs and Users. Grounded on
// other_examples/82bc134e_vtphan-switchboard's go.mod, which requires
// github.com/mattn/go-sqlite3 directly for a classroom hub's persistence —
// the same "hub + registry + relational log" shape as TeamRadar.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/teamradar/teamradar-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS Logs (
	ID INTEGER PRIMARY KEY AUTOINCREMENT,
	Time TEXT NOT NULL,
	Client TEXT NOT NULL,
	Event TEXT NOT NULL,
	Parameters TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS Users (
	Username TEXT PRIMARY KEY,
	Online INTEGER NOT NULL DEFAULT 0,
	Color TEXT NOT NULL DEFAULT '#000000',
	Image TEXT NOT NULL DEFAULT '',
	Project TEXT NOT NULL DEFAULT ''
);
`

// Store implements store.EventStore and store.UserDirectory over a single
// SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) the SQLite file at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1) // go-sqlite3 + a single writer-goroutine Hub: no contention to manage
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: migrate schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one Logs row and returns it with its assigned ID.
func (s *Store) Append(ctx context.Context, userName, eventType, parameters string, at time.Time) (store.Event, error) {
	ts := at.Format(store.TimeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO Logs (Time, Client, Event, Parameters) VALUES (?, ?, ?, ?)`,
		ts, userName, eventType, parameters)
	if err != nil {
		return store.Event{}, errors.Wrap(err, "sqlite: append event")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Event{}, errors.Wrap(err, "sqlite: append event id")
	}
	return store.Event{
		ID: id, UserName: userName, EventType: eventType, Parameters: parameters, Time: at,
	}, nil
}

// Query filters Logs by user set, type set, and time window. A nil
// Users/Types slice means unfiltered on that dimension.
func (s *Store) Query(ctx context.Context, filter store.EventFilter) ([]store.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ID, Time, Client, Event, Parameters FROM Logs WHERE 1=1`)
	var args []interface{}

	if len(filter.Users) > 0 {
		sb.WriteString(" AND Client IN (" + placeholders(len(filter.Users)) + ")")
		for _, u := range filter.Users {
			args = append(args, u)
		}
	}
	if len(filter.Types) > 0 {
		sb.WriteString(" AND Event IN (" + placeholders(len(filter.Types)) + ")")
		for _, ty := range filter.Types {
			args = append(args, ty)
		}
	}
	if !filter.Start.IsZero() {
		sb.WriteString(" AND Time >= ?")
		args = append(args, filter.Start.Format(store.TimeLayout))
	}
	if !filter.End.IsZero() {
		sb.WriteString(" AND Time <= ?")
		args = append(args, filter.End.Format(store.TimeLayout))
	}
	sb.WriteString(" ORDER BY Time ASC, ID ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: query events")
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var (
			e     store.Event
			tsStr string
		)
		if err := rows.Scan(&e.ID, &tsStr, &e.UserName, &e.EventType, &e.Parameters); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan event")
		}
		e.Time, err = time.Parse(store.TimeLayout, tsStr)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite: parse event time")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// TimeSpan returns the min and max Logs.Time.
func (s *Store) TimeSpan(ctx context.Context) (time.Time, time.Time, error) {
	var minStr, maxStr sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MIN(Time), MAX(Time) FROM Logs`).Scan(&minStr, &maxStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "sqlite: time span")
	}
	if !minStr.Valid || !maxStr.Valid {
		return time.Time{}, time.Time{}, nil
	}
	start, err := time.Parse(store.TimeLayout, minStr.String)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "sqlite: parse min time")
	}
	end, err := time.Parse(store.TimeLayout, maxStr.String)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrap(err, "sqlite: parse max time")
	}
	return start, end, nil
}

// Clear deletes every Logs row. Admin-only; never reachable over the wire.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM Logs`)
	return errors.Wrap(err, "sqlite: clear logs")
}

// Export writes every Logs row as CSV, for the out-of-scope admin GUI's
// export dialog.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `SELECT ID, Time, Client, Event, Parameters FROM Logs ORDER BY ID ASC`)
	if err != nil {
		return errors.Wrap(err, "sqlite: export query")
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ID", "Time", "Client", "Event", "Parameters"}); err != nil {
		return errors.Wrap(err, "sqlite: export header")
	}
	for rows.Next() {
		var id int64
		var ts, client, event, params string
		if err := rows.Scan(&id, &ts, &client, &event, &params); err != nil {
			return errors.Wrap(err, "sqlite: export scan")
		}
		if err := cw.Write([]string{strconv.FormatInt(id, 10), ts, client, event, params}); err != nil {
			return errors.Wrap(err, "sqlite: export write")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "sqlite: export flush")
}

// Upsert creates a User row with defaults if absent; a no-op otherwise.
func (s *Store) Upsert(ctx context.Context, userName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO Users (Username) VALUES (?) ON CONFLICT(Username) DO NOTHING`, userName)
	return errors.Wrap(err, "sqlite: upsert user")
}

// SetOnline toggles presence.
func (s *Store) SetOnline(ctx context.Context, userName string, online bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Users SET Online = ? WHERE Username = ?`, online, userName)
	return errors.Wrap(err, "sqlite: set online")
}

// SetColor sets the display color.
func (s *Store) SetColor(ctx context.Context, userName, colorHex string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Users SET Color = ? WHERE Username = ?`, colorHex, userName)
	return errors.Wrap(err, "sqlite: set color")
}

// SetImage sets the avatar image path.
func (s *Store) SetImage(ctx context.Context, userName, imagePath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Users SET Image = ? WHERE Username = ?`, imagePath, userName)
	return errors.Wrap(err, "sqlite: set image")
}

// SetProject rebinds the user's project.
func (s *Store) SetProject(ctx context.Context, userName, project string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE Users SET Project = ? WHERE Username = ?`, project, userName)
	return errors.Wrap(err, "sqlite: set project")
}

// Get returns the full User row.
func (s *Store) Get(ctx context.Context, userName string) (store.User, bool, error) {
	var u store.User
	var online int
	err := s.db.QueryRowContext(ctx,
		`SELECT Username, Online, Color, Image, Project FROM Users WHERE Username = ?`, userName,
	).Scan(&u.UserName, &online, &u.Color, &u.Image, &u.Project)
	if err == sql.ErrNoRows {
		return store.User{}, false, nil
	}
	if err != nil {
		return store.User{}, false, errors.Wrap(err, "sqlite: get user")
	}
	u.Online = online != 0
	return u, true, nil
}

// IsOnline reports current presence for userName (false if unknown).
func (s *Store) IsOnline(ctx context.Context, userName string) (bool, error) {
	u, ok, err := s.Get(ctx, userName)
	if err != nil || !ok {
		return false, err
	}
	return u.Online, nil
}

// ListProjectMembers lists every user bound to project, online or not.
func (s *Store) ListProjectMembers(ctx context.Context, project string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT Username FROM Users WHERE Project = ? ORDER BY Username ASC`, project)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: list project members")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan project member")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListProjects returns distinct non-empty project names, sorted.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT Project FROM Users WHERE Project != '' ORDER BY Project ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan project")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

var _ store.EventStore = (*Store)(nil)
var _ store.UserDirectory = (*Store)(nil)
