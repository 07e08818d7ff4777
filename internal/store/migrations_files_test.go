package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationFilesOrderedBySuffix(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_templates.up.sql":   {Data: []byte("CREATE TABLE templates ();")},
		"0001_posts.up.sql":       {Data: []byte("CREATE TABLE posts ();")},
		"0001_posts.down.sql":     {Data: []byte("DROP TABLE posts;")},
		"README.md":               {Data: []byte("notes")},
		"archive/0000_old.up.sql": {Data: []byte("")},
	}

	ups, err := migrationFiles(fsys, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_posts.up.sql", "0002_templates.up.sql"}, ups)

	downs, err := migrationFiles(fsys, ".down.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_posts.down.sql"}, downs)
}
