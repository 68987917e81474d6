package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/ai-counsel/counsel/internal/sqlitedriver" // registers "sqlite3" driver

	"github.com/ai-counsel/counsel/pkg/observability"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration represents a single database migration step.
type migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// migrator manages SQLite schema migrations using embedded SQL files. It
// uses a sync.Mutex to prevent concurrent migration execution within the
// process — the graph store assumes a single writer per database file.
type migrator struct {
	db         *sql.DB
	tracer     observability.Tracer
	migrations []migration
	mu         sync.Mutex
}

// newMigrator creates a migrator with embedded SQL migrations and sets
// PRAGMA busy_timeout so concurrent readers/writers wait instead of
// failing immediately under lock contention.
func newMigrator(db *sql.DB, tracer observability.Tracer) (*migrator, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	return &migrator{db: db, tracer: tracer, migrations: migrations}, nil
}

// migrateUp applies all pending migrations up to the latest version.
func (m *migrator) migrateUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, observability.SpanMigratorMigrateUp)
	defer m.tracer.EndSpan(span)

	if err := m.ensureMigrationsTable(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	currentVersion, err := m.currentVersion(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttribute("current_version", currentVersion)

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= currentVersion {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			span.RecordError(err)
			return fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		applied++
	}
	span.SetAttribute("migrations_applied", applied)
	return nil
}

// currentVersion returns the highest applied migration version, 0 if the
// schema_migrations table does not exist yet.
func (m *migrator) currentVersion(ctx context.Context) (int, error) {
	var tableCount int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&tableCount); err != nil {
		return 0, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}

	var version int
	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

func (m *migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			description TEXT
		)
	`)
	return err
}

func (m *migrator) applyMigration(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?) ON CONFLICT (version) DO NOTHING",
		mig.Version, mig.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads all embedded SQL migration files and pairs up/down
// files by numeric prefix.
func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	upFiles := make(map[int]string)
	downFiles := make(map[int]string)
	descriptions := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		remainder := parts[1]
		if desc, ok := strings.CutSuffix(remainder, ".up.sql"); ok {
			descriptions[version] = desc
			upFiles[version] = string(content)
		} else if strings.HasSuffix(remainder, ".down.sql") {
			downFiles[version] = string(content)
		}
	}

	var versions []int
	for v := range upFiles {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	migrations := make([]migration, 0, len(versions))
	for _, v := range versions {
		migrations = append(migrations, migration{
			Version:     v,
			Description: descriptions[v],
			UpSQL:       upFiles[v],
			DownSQL:     downFiles[v],
		})
	}
	return migrations, nil
}
