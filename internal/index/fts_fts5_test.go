//go:build sqlite_fts5

package index

import (
	"context"
	"testing"

	"github.com/starford/margin/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM annotations_fts`).Scan(&count); err != nil {
		t.Fatalf("annotations_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	h := highlight("fts", "https://example.com", "margin provides powerful full-text search", epoch)
	if err := db.Upsert(ctx, []models.Annotation{h}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := db.Search(ctx, "powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "fts" || results[0].URI != "https://example.com" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	root := highlight("root", "https://example.com", "q", epoch)
	r := reply("evo", "original text", epoch, root)
	_ = db.Upsert(ctx, []models.Annotation{r})
	r.Text = "replacement text"
	_ = db.Upsert(ctx, []models.Annotation{r})

	results, _ := db.Search(ctx, "original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search(ctx, "replacement", 10)
	if len(results) != 1 || results[0].ID != "evo" {
		t.Errorf("FTS not updated: %+v", results)
	}
}

func TestFTS5_QuotesUserInput(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Upsert(ctx, []models.Annotation{highlight("q", "https://example.com", "NEAR the AND operator", epoch)})

	for _, q := range []string{`AND`, `"unbalanced`, `NEAR(`, `col:value`} {
		if _, err := db.Search(ctx, q, 10); err != nil {
			t.Errorf("Search(%q) should not surface FTS syntax errors: %v", q, err)
		}
	}
	results, _ := db.Search(ctx, "and operator", 10)
	if len(results) != 1 {
		t.Errorf("expected match on quoted terms, got %+v", results)
	}
}
