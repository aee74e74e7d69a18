package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one versioned SQL file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies NNN_name.sql files from a filesystem, recording each
// applied version in the _migrations table.
type Migrator struct {
	pool  *pgxpool.Pool
	files fs.FS
}

// NewMigrator reads migrations from files, typically the embedded
// migrations.FS or os.DirFS for an override directory.
func NewMigrator(pool *pgxpool.Pool, files fs.FS) *Migrator {
	return &Migrator{pool: pool, files: files}
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// LoadMigrations returns the .sql files sorted by their numeric prefix.
// Files without a numeric prefix are skipped; duplicate versions are an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, name)
		}
		seen[version] = name

		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.pool.Exec(ctx, migrationsTable); err != nil {
		return nil, fmt.Errorf("create _migrations table: %w", err)
	}
	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Up applies every pending migration in version order, each in its own
// transaction, and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return WithTx(ctx, m.pool, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return fmt.Errorf("execute SQL: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO _migrations (version, name) VALUES ($1, $2)",
			mig.Version, mig.Name,
		); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

// Status lists all known migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
