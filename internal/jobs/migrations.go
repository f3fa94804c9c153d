package jobs

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"easel/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type migration struct {
	name string
	sql  string
}

// MigrationRecord is one ledger entry describing a migration attempt.
type MigrationRecord struct {
	Name      string
	Succeeded bool
	Error     string
	AppliedAt time.Time
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			name: strings.TrimSuffix(name, ".sql"),
			sql:  string(data),
		})
	}
	return migrations, nil
}

// Migrate applies the embedded migration sequence. Each entry runs in its own
// transaction and its outcome is recorded in the ledger; a failing entry is
// rolled back and logged without stopping the remaining sequence. Re-running
// applies only entries that have not yet succeeded.
func (s *Store) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	return s.applyMigrationSequence(ctx, migrations)
}

func (s *Store) applyMigrationSequence(ctx context.Context, migrations []migration) error {
	ctx = ensureContext(ctx)
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        name TEXT PRIMARY KEY,
        succeeded INTEGER NOT NULL,
        error TEXT,
        applied_at TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	succeeded, err := s.succeededMigrations(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, entry := range migrations {
		if succeeded[entry.name] {
			continue
		}
		if err := s.applyMigration(ctx, entry); err != nil {
			s.logger.Error("migration failed",
				logging.String("migration", entry.name),
				logging.Error(err))
			if recordErr := s.recordMigration(ctx, entry.name, false, err.Error()); recordErr != nil {
				return recordErr
			}
			failed = append(failed, entry.name)
			continue
		}
		s.logger.Info("migration applied", logging.String("migration", entry.name))
		if err := s.recordMigration(ctx, entry.name, true, ""); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("migrations failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, entry migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, entry.sql); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (s *Store) recordMigration(ctx context.Context, name string, succeeded bool, errMessage string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO schema_migrations (name, succeeded, error, applied_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
             succeeded = excluded.succeeded,
             error = excluded.error,
             applied_at = excluded.applied_at`,
		name,
		boolToInt(succeeded),
		nullableString(errMessage),
		formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return nil
}

func (s *Store) succeededMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM schema_migrations WHERE succeeded = 1`)
	if err != nil {
		return nil, fmt.Errorf("query migration ledger: %w", err)
	}
	defer rows.Close()

	succeeded := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		succeeded[name] = true
	}
	return succeeded, rows.Err()
}

// MigrationRecords returns the full ledger ordered by migration name.
func (s *Store) MigrationRecords(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name, succeeded, error, applied_at FROM schema_migrations ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query migration ledger: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			record     MigrationRecord
			succeeded  int
			errMessage sql.NullString
			appliedRaw string
		)
		if err := rows.Scan(&record.Name, &succeeded, &errMessage, &appliedRaw); err != nil {
			return nil, err
		}
		record.Succeeded = succeeded != 0
		record.Error = errMessage.String
		if applied, err := parseTimeString(appliedRaw); err == nil {
			record.AppliedAt = applied
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
