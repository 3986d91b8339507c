package practicestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-practice/internal/content"
	_ "modernc.org/sqlite"
)

type sqliteCollection struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a practice database at path.
func OpenSQLite(ctx context.Context, path string, vacuum bool, log *slog.Logger) (Collection, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	c := &sqliteCollection{db: db}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if vacuum {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("practice store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return c, nil
}

func (c *sqliteCollection) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS practices (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    title TEXT,
    audio_path TEXT,
    document BLOB NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_practices_created ON practices(created_at);
`
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (c *sqliteCollection) Add(ctx context.Context, rec Record) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO practices(id, kind, title, audio_path, document, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Metadata.Kind), rec.Metadata.Title, rec.Metadata.AudioPath, rec.Document,
		rec.Metadata.CreatedAt.UTC().Format(TimestampLayout))
	return err
}

func (c *sqliteCollection) Get(ctx context.Context, id string) (Record, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, kind, title, audio_path, document, created_at FROM practices WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (c *sqliteCollection) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, title, audio_path, document, created_at FROM practices ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec              Record
		kind, created    string
		title, audioPath sql.NullString
	)
	if err := row.Scan(&rec.ID, &kind, &title, &audioPath, &rec.Document, &created); err != nil {
		return Record{}, err
	}
	ts, err := time.Parse(TimestampLayout, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	rec.Metadata = Metadata{
		Kind:      content.Kind(kind),
		Title:     title.String,
		AudioPath: audioPath.String,
		CreatedAt: ts,
	}
	return rec, nil
}

func (c *sqliteCollection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *sqliteCollection) Close() error { return c.db.Close() }
