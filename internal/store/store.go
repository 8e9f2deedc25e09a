// Package store is the SQLite persistence layer behind the durability
// workers and the offline tools. The canvas is the source of truth at
// runtime; the store only has to converge on the next flush.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS board (
	x     INTEGER NOT NULL,
	y     INTEGER NOT NULL,
	color CHAR(7) NOT NULL,
	uid   INTEGER NOT NULL,
	time  TIMESTAMP NOT NULL,
	PRIMARY KEY (x, y)
);

CREATE TABLE IF NOT EXISTS paint (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	x     INTEGER NOT NULL,
	y     INTEGER NOT NULL,
	color CHAR(7) NOT NULL,
	uid   INTEGER NOT NULL,
	time  TIMESTAMP NOT NULL
);
`

// BoardRow is one persisted cell. Color is "#RRGGBB" uppercase.
type BoardRow struct {
	X     int
	Y     int
	Color string
	UID   int64
	Time  time.Time
}

// PaintRow is one persisted paint action.
type PaintRow struct {
	X     int
	Y     int
	Color string
	UID   int64
	Time  time.Time
}

// Store wraps the database handle shared by the durability workers.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at path, creating it if missing.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway; one connection avoids
	// SQLITE_BUSY churn between the two workers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Init creates the board and paint tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBoard reads every persisted cell.
func (s *Store) LoadBoard(ctx context.Context) ([]BoardRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, color, uid, time FROM board`)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	defer rows.Close()

	var cells []BoardRow
	for rows.Next() {
		var r BoardRow
		if err := rows.Scan(&r.X, &r.Y, &r.Color, &r.UID, &r.Time); err != nil {
			return nil, fmt.Errorf("scan board row: %w", err)
		}
		cells = append(cells, r)
	}

	return cells, rows.Err()
}

// UpsertCells writes one chunk of cells, overwriting color, uid and time
// on conflict. Callers chunk; this builds a single multi-row statement.
func (s *Store) UpsertCells(ctx context.Context, cells []BoardRow) error {
	if len(cells) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO board (x, y, color, uid, time) VALUES `)

	args := make([]any, 0, len(cells)*5)
	for i, c := range cells {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, c.X, c.Y, c.Color, c.UID, c.Time)
	}
	sb.WriteString(` ON CONFLICT (x, y) DO UPDATE SET
		color = excluded.color,
		uid = excluded.uid,
		time = excluded.time`)

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert %d cells: %w", len(cells), err)
	}
	return nil
}

// InsertActions appends one chunk of paint actions.
func (s *Store) InsertActions(ctx context.Context, actions []PaintRow) error {
	if len(actions) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO paint (x, y, color, uid, time) VALUES `)

	args := make([]any, 0, len(actions)*5)
	for i, a := range actions {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, a.X, a.Y, a.Color, a.UID, a.Time)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert %d actions: %w", len(actions), err)
	}
	return nil
}

// CountPaints returns the number of persisted paint actions.
func (s *Store) CountPaints(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paint`).Scan(&n)
	return n, err
}

// LoadPaints reads every persisted paint action in insertion order.
func (s *Store) LoadPaints(ctx context.Context) ([]PaintRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, color, uid, time FROM paint ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load paints: %w", err)
	}
	defer rows.Close()

	var paints []PaintRow
	for rows.Next() {
		var p PaintRow
		if err := rows.Scan(&p.X, &p.Y, &p.Color, &p.UID, &p.Time); err != nil {
			return nil, fmt.Errorf("scan paint row: %w", err)
		}
		paints = append(paints, p)
	}

	return paints, rows.Err()
}
