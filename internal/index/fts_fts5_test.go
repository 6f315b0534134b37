//go:build sqlite_fts5

package index

import (
	"context"
	"testing"

	"github.com/starford/guardian/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM capsules_fts`).Scan(&count); err != nil {
		t.Fatalf("capsules_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c := models.CapsuleBackup{ID: "fts", Title: "Powerful testimony of the flood", Type: "testimony"}
	if err := db.Capsules().Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := db.Capsules().Search(ctx, "powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "fts" {
		t.Errorf("id = %q", results[0].ID)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_MetadataSearchable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "m", Title: "Untitled", Metadata: map[string]string{"place": "Lisbon"}})

	results, _ := db.Capsules().Search(ctx, "lisbon", 10)
	if len(results) != 1 || results[0].ID != "m" {
		t.Errorf("metadata not searchable: %+v", results)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "gone", Title: "vanishing content"})
	_ = db.Capsules().Delete(ctx, "gone")

	results, _ := db.Capsules().Search(ctx, "vanishing", 10)
	for _, r := range results {
		if r.ID == "gone" {
			t.Error("deleted capsule still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "evo", Title: "original text"})
	_ = db.Capsules().Upsert(ctx, models.CapsuleBackup{ID: "evo", Title: "replacement text"})

	results, _ := db.Capsules().Search(ctx, "original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Capsules().Search(ctx, "replacement", 10)
	if len(results) != 1 || results[0].Title != "replacement text" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
