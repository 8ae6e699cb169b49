package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/fxlab/internal/renderer"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id         TEXT PRIMARY KEY,
	markup     TEXT NOT NULL,
	style      TEXT NOT NULL,
	behavior   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLDrafts stores drafts in SQLite.
type SQLDrafts struct {
	db  *sql.DB
	now func() time.Time

	stmtSave   *sql.Stmt
	stmtLoad   *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
}

// OpenSQL opens (creating if needed) the database at dsn. dsn is a file path,
// a "file:" URI or ":memory:".
func OpenSQL(ctx context.Context, dsn string) (*SQLDrafts, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errStorage("create directory", err)
			}
		}
	}

	db, err := initDB(dsn)
	if err != nil {
		return nil, errStorage("open", err)
	}
	// SQLite serializes writers anyway, and an in-memory database exists per
	// connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errStorage("open", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errStorage("migrate", err)
	}

	s := &SQLDrafts{db: db, now: time.Now}
	if err := s.prepare(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLDrafts) prepare(ctx context.Context) error {
	var err error
	if s.stmtSave, err = s.db.PrepareContext(ctx, `
		INSERT INTO drafts (id, markup, style, behavior, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			markup = excluded.markup,
			style = excluded.style,
			behavior = excluded.behavior,
			updated_at = excluded.updated_at`); err != nil {
		return errStorage("prepare save", err)
	}
	if s.stmtLoad, err = s.db.PrepareContext(ctx,
		"SELECT markup, style, behavior, updated_at FROM drafts WHERE id = ?"); err != nil {
		return errStorage("prepare load", err)
	}
	if s.stmtDelete, err = s.db.PrepareContext(ctx, "DELETE FROM drafts WHERE id = ?"); err != nil {
		return errStorage("prepare delete", err)
	}
	if s.stmtList, err = s.db.PrepareContext(ctx,
		"SELECT id, markup, style, behavior, updated_at FROM drafts ORDER BY id"); err != nil {
		return errStorage("prepare list", err)
	}
	return nil
}

func (s *SQLDrafts) Save(ctx context.Context, id string, b renderer.Bundle) error {
	_, err := s.stmtSave.ExecContext(ctx, id, b.Markup, b.Style, b.Behavior, s.now().UTC().UnixNano())
	if err != nil {
		return errStorage("save", err)
	}
	return nil
}

func (s *SQLDrafts) Load(ctx context.Context, id string) (Draft, error) {
	d := Draft{ID: id}
	var updated int64
	err := s.stmtLoad.QueryRowContext(ctx, id).Scan(&d.Bundle.Markup, &d.Bundle.Style, &d.Bundle.Behavior, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, errNotFound(id)
	}
	if err != nil {
		return Draft{}, errStorage("load", err)
	}
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return d, nil
}

func (s *SQLDrafts) Delete(ctx context.Context, id string) error {
	if _, err := s.stmtDelete.ExecContext(ctx, id); err != nil {
		return errStorage("delete", err)
	}
	return nil
}

// List returns drafts ordered by id.
func (s *SQLDrafts) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, errStorage("list", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var d Draft
		var updated int64
		if err := rows.Scan(&d.ID, &d.Bundle.Markup, &d.Bundle.Style, &d.Bundle.Behavior, &updated); err != nil {
			return nil, errStorage("list", err)
		}
		d.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errStorage("list", err)
	}
	return out, nil
}

func (s *SQLDrafts) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtSave, s.stmtLoad, s.stmtDelete, s.stmtList} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
