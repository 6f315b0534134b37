// Package testutil provides shared test helpers for setting up backup
// directories and databases.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/index"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "guardian-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBackupDir creates a temporary backup directory and an archive over it.
func TestBackupDir(t *testing.T) (*storage.FS, *backup.Archive) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store, backup.NewArchive(store)
}

// WriteBackup seals capsules into an unencrypted artifact at path.
func WriteBackup(t *testing.T, archive *backup.Archive, path string, capsules ...models.CapsuleBackup) {
	t.Helper()
	if _, err := archive.Write(context.Background(), path, capsules, backup.WriteOptions{}); err != nil {
		t.Fatalf("write backup %s: %v", path, err)
	}
}

// Capsule returns a capsule snapshot with the given id, type, grief score
// and timestamp (Unix ms).
func Capsule(id, typ string, grief float64, ts int64) models.CapsuleBackup {
	return models.CapsuleBackup{
		ID:         id,
		Title:      "Capsule " + id,
		Type:       typ,
		GriefScore: grief,
		Timestamp:  ts,
		Metadata:   map[string]string{},
	}
}
