package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"locshare.org/internal/store/pg/migrations"
)

const defaultSeedsTable = "schema_seeds"

// Manager applies the embedded schema migrations through goose and executes
// SQL seed files stored on disk.
type Manager struct {
	db         *sql.DB
	schema     fs.FS
	seedsDir   string
	seedsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSchema replaces the embedded migrations.
func WithSchema(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.schema = fsys
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		schema:     migrations.FS,
		seedsDir:   seedsDir,
		seedsTable: defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) provider() (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, m.db, m.schema)
	if err != nil {
		return nil, fmt.Errorf("init goose: %w", err)
	}
	return p, nil
}

// Up applies all pending migrations and returns the applied versions.
func (m *Manager) Up(ctx context.Context) ([]int64, error) {
	p, err := m.provider()
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (int64, error) {
	p, err := m.provider()
	if err != nil {
		return 0, err
	}
	res, err := p.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return 0, errors.New("no migrations applied")
		}
		return 0, fmt.Errorf("rollback migration: %w", err)
	}
	return res.Source.Version, nil
}

// MigrationState describes one known migration.
type MigrationState struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Status returns every known migration in version order.
func (m *Manager) Status(ctx context.Context) ([]MigrationState, error) {
	p, err := m.provider()
	if err != nil {
		return nil, err
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationState{
			Version:   st.Source.Version,
			Name:      filepath.Base(st.Source.Path),
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

// Seed runs every seed file not yet recorded in the seeds table. Each file
// runs in its own transaction together with its bookkeeping row, so a failed
// seed leaves no partial state and is retried on the next run.
func (m *Manager) Seed(ctx context.Context) error {
	done, err := m.Seeds(ctx)
	if err != nil {
		return err
	}
	names, err := seedFiles(m.seedsDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if slices.Contains(done, name) {
			continue
		}
		body, err := os.ReadFile(filepath.Join(m.seedsDir, name))
		if err != nil {
			return err
		}
		if err := m.runSeed(ctx, name, string(body)); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
	}
	return nil
}

// Seeds lists applied seed files in application order.
func (m *Manager) Seeds(ctx context.Context) ([]string, error) {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, m.seedsTable)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure %s: %w", m.seedsTable, err)
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) runSeed(ctx context.Context, name, body string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.seedsTable)
	if _, err := tx.ExecContext(ctx, record, name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// seedFiles returns the *.sql files directly inside dir in lexical order.
// A missing directory yields no seeds.
func seedFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// splitStatements splits SQL on semicolons outside single-quoted literals and
// drops blank statements.
func splitStatements(sql string) []string {
	var (
		stmts    []string
		cur      strings.Builder
		inString bool
	)
	emit := func() {
		if strings.TrimSpace(cur.String()) != "" {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
	}
	for _, r := range sql {
		cur.WriteRune(r)
		switch {
		case r == '\'':
			inString = !inString
		case r == ';' && !inString:
			emit()
		}
	}
	emit()
	return stmts
}
