package chromemindex

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dwizi/rapport/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	index, err := New("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return index
}

func TestSearchRanksAndFilters(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, record := range []store.MemoryRecord{
		{ID: "near", VisitorID: "v1", Kind: store.MemoryKindMessage, Content: "near", Category: "DISCREET", Confidence: 0.8, Embedding: []float32{1, 0.1, 0}, CreatedAt: created},
		{ID: "far", VisitorID: "v1", Kind: store.MemoryKindMessage, Content: "far", Embedding: []float32{0, 0, 1}, CreatedAt: created},
		{ID: "summary", VisitorID: "v1", Kind: store.MemoryKindSummary, Content: "summary", Embedding: []float32{1, 0, 0}, CreatedAt: created},
		{ID: "other", VisitorID: "v2", Content: "other visitor", Embedding: []float32{1, 0, 0}, CreatedAt: created},
	} {
		if err := index.Upsert(ctx, record); err != nil {
			t.Fatalf("upsert %s: %v", record.ID, err)
		}
	}

	results, err := index.Search(ctx, store.MemorySearch{
		VisitorID:     "v1",
		Query:         []float32{1, 0, 0},
		Limit:         10,
		MinSimilarity: 0.5,
		Kind:          store.MemoryKindMessage,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "near" {
		t.Fatalf("expected only the near message, got %+v", results)
	}
	if results[0].Category != "DISCREET" || results[0].Confidence != 0.8 || !results[0].CreatedAt.Equal(created) {
		t.Fatalf("metadata not restored: %+v", results[0].MemoryRecord)
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	index := newTestIndex(t)
	results, err := index.Search(context.Background(), store.MemorySearch{VisitorID: "nobody", Query: []float32{1, 0}, Limit: 5})
	if err != nil || len(results) != 0 {
		t.Fatalf("expected empty result, got %v %v", results, err)
	}
}

func TestDeleteRemovesDocuments(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()
	if err := index.Upsert(ctx, store.MemoryRecord{ID: "m1", VisitorID: "v1", Content: "x", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := index.Upsert(ctx, store.MemoryRecord{ID: "skip", VisitorID: "v1", Content: "no vector"}); err != nil {
		t.Fatalf("upsert without vector: %v", err)
	}
	if err := index.Delete(ctx, "v1", []string{"m1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err := index.Search(ctx, store.MemorySearch{VisitorID: "v1", Query: []float32{1, 0}, Limit: 5})
	if err != nil || len(results) != 0 {
		t.Fatalf("expected no results after delete, got %v %v", results, err)
	}
}
