package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// migrationLockKey serialises runners when the API and imagesync start together.
const migrationLockKey = 0x636f6c6f72

var migrationFile = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one NNNN_name pair from the migrations directory.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// ID is the value recorded in schema_migrations.
func (m Migration) ID() string {
	return m.Version + "_" + m.Name
}

// LoadMigrations reads dir and returns the migrations in version order.
// Every version must ship exactly one up and one down file.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("migration %s: name must look like NNNN_name.up.sql", entry.Name())
		}
		version, name, direction := match[1], match[2], match[3]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration %s: version shared by %q and %q", version, m.Name, name)
		}
		path := filepath.Join(dir, entry.Name())
		slot := &m.UpPath
		if direction == "down" {
			slot = &m.DownPath
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %s: duplicate %s file", version, direction)
		}
		*slot = path
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" || m.DownPath == "" {
			return nil, fmt.Errorf("migration %s: needs both up and down files", m.ID())
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every pending up migration, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}

	conn, release, err := lockMigrations(ctx, db)
	if err != nil {
		return err
	}
	defer release()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		done, err := isMigrated(ctx, conn, m.ID())
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := runMigration(ctx, conn, m.ID(), m.UpPath, `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return err
		}
		log.Info("migration applied", "version", m.ID())
		applied++
	}
	if applied == 0 {
		log.Debug("schema up to date", "migrations", len(migrations))
	}
	return nil
}

// RollbackMigrations reverts the newest steps applied migrations.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) error {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}

	conn, release, err := lockMigrations(ctx, db)
	if err != nil {
		return err
	}
	defer release()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0 && steps > 0; i-- {
		m := migrations[i]
		done, err := isMigrated(ctx, conn, m.ID())
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		if err := runMigration(ctx, conn, m.ID(), m.DownPath, `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
			return err
		}
		log.Info("migration rolled back", "version", m.ID())
		steps--
	}
	return nil
}

func runMigration(ctx context.Context, conn *sql.Conn, id, path, record string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", id, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if body := strings.TrimSpace(string(contents)); body != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("execute migration %s: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, id); err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", id, err)
	}
	return nil
}

func lockMigrations(ctx context.Context, db *sql.DB) (*sql.Conn, func(), error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("migration conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migration lock: %w", err)
	}
	release := func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			log.Warn("migration unlock failed", "err", err)
		}
		_ = conn.Close()
	}
	return conn, release, nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
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

func isMigrated(ctx context.Context, conn *sql.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
