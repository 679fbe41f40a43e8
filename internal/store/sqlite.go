package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLite is the sqlite backend. Rows keep their insertion order through the
// records.seq column; column values live in fields, one row per cell.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens or creates the database at dbPath.
// dbPath can be ":memory:" for throwaway stores.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLite{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		sheet TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(sheet, name)
	);
	CREATE INDEX IF NOT EXISTS idx_records_sheet ON records(sheet, seq);

	CREATE TABLE IF NOT EXISTS fields (
		sheet TEXT NOT NULL,
		name TEXT NOT NULL,
		col TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (sheet, name, col)
	);
	CREATE INDEX IF NOT EXISTS idx_fields_col ON fields(sheet, col, value);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file.
func (s *SQLite) Path() string {
	return s.dbPath
}

// filterSQL turns f into a WHERE fragment over records aliased r.
func filterSQL(f Filter) (string, []any) {
	const cell = `SELECT 1 FROM fields f WHERE f.sheet = r.sheet AND f.name = r.name AND f.col = ?`

	if f.Column == NameColumn {
		switch f.Op {
		case OpEq:
			return "r.name = ?", []any{f.Value}
		case OpNe:
			return "r.name <> ?", []any{f.Value}
		default:
			return "1 = 1", nil
		}
	}

	switch f.Op {
	case OpEq:
		if f.Value == "" {
			return "NOT EXISTS (" + cell + " AND f.value <> '')", []any{f.Column}
		}
		return "EXISTS (" + cell + " AND f.value = ?)", []any{f.Column, f.Value}
	case OpNe:
		if f.Value == "" {
			return "EXISTS (" + cell + " AND f.value <> '')", []any{f.Column}
		}
		return "NOT EXISTS (" + cell + " AND f.value = ?)", []any{f.Column, f.Value}
	case OpNonBlank:
		return "EXISTS (" + cell + " AND f.value <> '')", []any{f.Column}
	default:
		return "1 = 1", nil
	}
}

// Rows implements Store.
func (s *SQLite) Rows(ctx context.Context, sheet string, f Filter, limit int) ([]Row, error) {
	if err := checkSheet(sheet); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	where, args := filterSQL(f)
	query := fmt.Sprintf(`
		SELECT sel.name, COALESCE(fl.col, ''), COALESCE(fl.value, '')
		FROM (
			SELECT r.seq, r.name FROM records r
			WHERE r.sheet = ? AND %s
			ORDER BY r.seq
			LIMIT ?
		) sel
		LEFT JOIN fields fl ON fl.sheet = ? AND fl.name = sel.name
		ORDER BY sel.seq
	`, where)

	params := append([]any{sheet}, args...)
	params = append(params, limit, sheet)

	rs, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sheet, err)
	}
	defer rs.Close()

	var out []Row
	for rs.Next() {
		var name, col, value string
		if err := rs.Scan(&name, &col, &value); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Name != name {
			out = append(out, Row{Name: name, Fields: make(map[string]string)})
		}
		if col != "" && value != "" {
			out[len(out)-1].Fields[col] = value
		}
	}
	return out, rs.Err()
}

// Append implements Store.
func (s *SQLite) Append(ctx context.Context, sheet string, names []string) (int, error) {
	if err := checkSheet(sheet); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO records (sheet, name) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, sheet, name)
		if err != nil {
			return 0, fmt.Errorf("append %s/%s: %w", sheet, name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// Update implements Store.
func (s *SQLite) Update(ctx context.Context, sheet, column string, values map[string]string) (int, error) {
	if err := checkSheet(sheet); err != nil {
		return 0, err
	}
	if err := checkColumn(column); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO fields (sheet, name, col, value, updated_at)
		SELECT ?, ?, ?, ?, CURRENT_TIMESTAMP
		WHERE EXISTS (SELECT 1 FROM records WHERE sheet = ? AND name = ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	updated := 0
	for name, value := range values {
		res, err := stmt.ExecContext(ctx, sheet, name, column, value, sheet, name)
		if err != nil {
			return 0, fmt.Errorf("update %s/%s: %w", sheet, name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
