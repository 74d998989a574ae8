package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"ScoreBoard/internal/state"
)

// Dialect selects placeholder style and column types.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQL statements are written with ? placeholders and rebound per dialect.
const (
	insertAnnotationSQL = `
INSERT INTO annotations (id, item_id, author_id, author_display_name, layer_label, path, color, tool, opacity, created_at_ms, client_ref)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

	selectAnnotationsSQL = `
SELECT id, item_id, author_id, author_display_name, layer_label, path, color, tool, opacity, created_at_ms, client_ref
FROM annotations
WHERE item_id = ?
ORDER BY created_at_ms ASC, id ASC`

	deleteAnnotationSQL = `DELETE FROM annotations WHERE id = ?`

	insertCommandSQL = `
INSERT INTO commands (id, item_id, sender_id, sender_display_name, message, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

	selectCommandsSQL = `
SELECT id, item_id, sender_id, sender_display_name, message, created_at_ms
FROM (
	SELECT id, item_id, sender_id, sender_display_name, message, created_at_ms
	FROM commands
	WHERE item_id = ?
	ORDER BY created_at_ms DESC
	LIMIT ?
) recent
ORDER BY created_at_ms ASC`
)

func schema(d Dialect) []string {
	floatType := "REAL"
	if d == DialectPostgres {
		floatType = "DOUBLE PRECISION"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS annotations (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_display_name TEXT NOT NULL DEFAULT '',
	layer_label TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	tool TEXT NOT NULL,
	opacity ` + floatType + ` NOT NULL DEFAULT 1,
	created_at_ms BIGINT NOT NULL,
	client_ref TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS annotations_item_idx ON annotations (item_id, created_at_ms)`,
		`CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_display_name TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	created_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS commands_item_idx ON commands (item_id, created_at_ms)`,
	}
}

// SQLStore implements Store on database/sql for sqlite and postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) a database file in WAL mode. ":memory:" keeps
// everything on a single in-process connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == ":memory:" {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, db.Ping()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres opens a pgx-backed pool.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLStore applies the schema and returns a store over db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range schema(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) insert(ctx context.Context, ex execer, a state.Annotation) error {
	path, err := json.Marshal(a.Path)
	if err != nil {
		return fmt.Errorf("marshal path: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(insertAnnotationSQL),
		a.ID, a.ItemID, a.AuthorID, a.AuthorDisplayName, a.LayerLabel, string(path),
		a.Color, string(a.Tool), a.Opacity, a.CreatedAt.UnixMilli(), a.ClientRef)
	if err != nil {
		return unavailable("insert annotation", err)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, a state.Annotation) (state.Annotation, error) {
	if err := s.insert(ctx, s.db, a); err != nil {
		return state.Annotation{}, err
	}
	return a, nil
}

// BulkCreate writes the batch in one transaction.
func (s *SQLStore) BulkCreate(ctx context.Context, as []state.Annotation) ([]state.Annotation, error) {
	if len(as) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range as {
		if err := s.insert(ctx, tx, a); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return as, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(deleteAnnotationSQL), id)
	if err != nil {
		return unavailable("delete annotation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete annotation", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListByItem(ctx context.Context, itemID string) ([]state.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectAnnotationsSQL), itemID)
	if err != nil {
		return nil, unavailable("list annotations", err)
	}
	defer rows.Close()

	var out []state.Annotation
	for rows.Next() {
		var a state.Annotation
		var path, tool string
		var createdMs int64
		if err := rows.Scan(&a.ID, &a.ItemID, &a.AuthorID, &a.AuthorDisplayName, &a.LayerLabel,
			&path, &a.Color, &tool, &a.Opacity, &createdMs, &a.ClientRef); err != nil {
			return nil, err
		}
		a.Tool = state.Tool(tool)
		a.CreatedAt = time.UnixMilli(createdMs).UTC()
		if err := json.Unmarshal([]byte(path), &a.Path); err != nil {
			return nil, fmt.Errorf("decode path of %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateCommand(ctx context.Context, c state.Command) (state.Command, error) {
	_, err := s.db.ExecContext(ctx, s.rebind(insertCommandSQL),
		c.ID, c.ItemID, c.SenderID, c.SenderDisplayName, c.Message, c.CreatedAt.UnixMilli())
	if err != nil {
		return state.Command{}, unavailable("insert command", err)
	}
	return c, nil
}

func (s *SQLStore) ListCommands(ctx context.Context, itemID string, limit int) ([]state.Command, error) {
	if limit <= 0 {
		limit = MaxCommandsPerItem
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectCommandsSQL), itemID, limit)
	if err != nil {
		return nil, unavailable("list commands", err)
	}
	defer rows.Close()

	var out []state.Command
	for rows.Next() {
		var c state.Command
		var createdMs int64
		if err := rows.Scan(&c.ID, &c.ItemID, &c.SenderID, &c.SenderDisplayName, &c.Message, &createdMs); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
