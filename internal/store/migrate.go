package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/logging"
)

// ApplyMigrations runs every *.up.sql file in migrationsDir that has not run yet, in name order.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	return ApplyMigrationsFS(ctx, db, os.DirFS(migrationsDir), nil)
}

// ApplyMigrationsFS is ApplyMigrations over any file system.
func ApplyMigrationsFS(ctx context.Context, db *sql.DB, fsys fs.FS, logger logrus.FieldLogger) error {
	log := logging.Component(logger, "migrate")
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	files, err := migrationFiles(fsys, ".up.sql")
	if err != nil {
		return err
	}

	for _, version := range files {
		if migrated, err := isMigrated(ctx, db, version); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := fs.ReadFile(fsys, version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		err = inTx(ctx, db, version, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
				return fmt.Errorf("record migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.WithField("version", version).Info("migration applied")
	}
	return nil
}

// RollbackMigrations reverts the last steps applied migrations using their *.down.sql files.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int, logger logrus.FieldLogger) error {
	log := logging.Component(logger, "migrate")
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	fsys := os.DirFS(migrationsDir)
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	slices.Reverse(applied)
	for i, version := range applied {
		if i >= steps {
			break
		}
		down := strings.TrimSuffix(version, ".up.sql") + ".down.sql"
		contents, err := fs.ReadFile(fsys, down)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", down, err)
		}
		err = inTx(ctx, db, down, func(tx *sql.Tx) error {
			if sqlText := strings.TrimSpace(string(contents)); sqlText != "" {
				if _, err := tx.ExecContext(ctx, sqlText); err != nil {
					return fmt.Errorf("execute migration %s: %w", down, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, version); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.WithField("version", down).Info("migration reverted")
	}
	return nil
}

func migrationFiles(fsys fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := path.Base(entry.Name()); strings.HasSuffix(name, suffix) {
			files = append(files, name)
		}
	}
	slices.Sort(files)
	return files, nil
}

func inTx(ctx context.Context, db *sql.DB, version string, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}
