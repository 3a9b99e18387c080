package memory

import (
	"context"

	"github.com/dwizi/rapport/internal/store"
)

type searcher interface {
	SearchMemories(ctx context.Context, search store.MemorySearch) ([]store.ScoredMemory, error)
}

// StoreIndex searches the vectors kept alongside each row in the relational
// store. Upserts and deletes are no-ops because the rows are the index.
type StoreIndex struct {
	store searcher
}

func NewStoreIndex(repo searcher) *StoreIndex {
	return &StoreIndex{store: repo}
}

func (i *StoreIndex) Upsert(context.Context, Entry) error {
	return nil
}

func (i *StoreIndex) Search(ctx context.Context, search store.MemorySearch) ([]store.ScoredMemory, error) {
	return i.store.SearchMemories(ctx, search)
}

func (i *StoreIndex) Delete(context.Context, string, []string) error {
	return nil
}
