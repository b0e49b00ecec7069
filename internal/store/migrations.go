package store

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veyra/stronghold/migrations"
)

/*
 * Migration runner.
 *
 * Applies embedded .sql files in lexical order, one transaction per
 * migration so a failure never leaves partial schema. SHA-256 checksums of
 * applied migrations are recorded and validated on every run to detect
 * edits to already-applied files.
 */

// MigrationStatus reports the state of one migration file.
type MigrationStatus struct {
	ID        string
	Checksum  string
	Applied   bool
	AppliedAt *time.Time
}

type migrationFile struct {
	ID       string
	SQL      string
	Checksum string
}

// MigrateUp applies all pending migrations for the connected driver.
func MigrateUp(db *sqlx.DB) error {
	files, err := loadMigrationFiles(db.DriverName())
	if err != nil {
		return err
	}

	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	if err := validateChecksums(db, files); err != nil {
		return err
	}

	applied, err := appliedMigrationIDs(db)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	for _, m := range files {
		if applied[m.ID] {
			continue
		}

		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", m.ID, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
			}
		}
		if _, err := tx.Exec(db.Rebind(
			`INSERT INTO schema_migrations (migration_id, checksum, applied_at) VALUES (?, ?, ?)`),
			m.ID, m.Checksum, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
		}
	}
	return nil
}

// MigrateStatus reports applied and pending migrations.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	files, err := loadMigrationFiles(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	var rows []struct {
		MigrationID string    `db:"migration_id"`
		Checksum    string    `db:"checksum"`
		AppliedAt   time.Time `db:"applied_at"`
	}
	if err := db.Select(&rows, `SELECT migration_id, checksum, applied_at FROM schema_migrations`); err != nil {
		return nil, err
	}
	appliedAt := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		appliedAt[r.MigrationID] = r.AppliedAt
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, m := range files {
		st := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if at, ok := appliedAt[m.ID]; ok {
			st.Applied = true
			t := at
			st.AppliedAt = &t
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func loadMigrationFiles(driver string) ([]migrationFile, error) {
	var migrationsFS embed.FS
	var dir string
	switch driver {
	case "sqlite3":
		migrationsFS, dir = migrations.Sqlite, "sqlite"
	case "postgres":
		migrationsFS, dir = migrations.Postgres, "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		files = append(files, migrationFile{
			ID:       e.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func ensureMigrationsTable(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		migration_id TEXT PRIMARY KEY,
		checksum     TEXT NOT NULL,
		applied_at   TIMESTAMP NOT NULL
	)`)
	return err
}

func validateChecksums(db *sqlx.DB, files []migrationFile) error {
	var rows []struct {
		MigrationID string `db:"migration_id"`
		Checksum    string `db:"checksum"`
	}
	if err := db.Select(&rows, `SELECT migration_id, checksum FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to read applied checksums: %w", err)
	}
	recorded := make(map[string]string, len(rows))
	for _, r := range rows {
		recorded[r.MigrationID] = r.Checksum
	}
	for _, m := range files {
		if sum, ok := recorded[m.ID]; ok && sum != m.Checksum {
			return fmt.Errorf("migration %s modified after being applied (checksum mismatch)", m.ID)
		}
	}
	return nil
}

func appliedMigrationIDs(db *sqlx.DB) (map[string]bool, error) {
	var ids []string
	if err := db.Select(&ids, `SELECT migration_id FROM schema_migrations`); err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(ids))
	for _, id := range ids {
		applied[id] = true
	}
	return applied, nil
}

// splitStatements breaks a migration file into individual statements.
// Good enough for DDL files: semicolon at end of line, no procedural SQL.
func splitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
