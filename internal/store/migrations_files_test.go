package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositoryMigrationsArePaired(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s then %s", migrations[i-1].ID(), m.ID())
		}
	}
	if last := migrations[len(migrations)-1]; last.ID() != "0004_chat" {
		t.Fatalf("expected chat tables to be the newest migration, got %s", last.ID())
	}
}

func writeMigrationFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrationsRejectsBrokenSets(t *testing.T) {
	cases := []struct {
		name  string
		files []string
		want  string
	}{
		{name: "missing down", files: []string{"0001_users.up.sql"}, want: "both up and down"},
		{name: "bad name", files: []string{"1_users.up.sql", "1_users.down.sql"}, want: "NNNN_name"},
		{name: "version clash", files: []string{"0001_users.up.sql", "0001_users.down.sql", "0001_leads.up.sql"}, want: "version shared"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadMigrations(writeMigrationFiles(t, tc.files...))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMigrationsSortsAndIgnoresOtherFiles(t *testing.T) {
	dir := writeMigrationFiles(t,
		"0002_content.down.sql", "0002_content.up.sql",
		"0001_identity.up.sql", "0001_identity.down.sql",
		"README.md",
	)
	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 || migrations[0].ID() != "0001_identity" || migrations[1].ID() != "0002_content" {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
	if filepath.Base(migrations[1].DownPath) != "0002_content.down.sql" {
		t.Fatalf("down path not paired: %s", migrations[1].DownPath)
	}
}
