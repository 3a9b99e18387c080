// Package chromemindex mirrors memory vectors into chromem-go collections,
// one per visitor. The relational store stays the source of truth.
package chromemindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dwizi/rapport/internal/store"
)

var errNoEmbedding = errors.New("documents must carry their own embedding")

const (
	metaKind       = "kind"
	metaRole       = "role"
	metaCategory   = "category"
	metaConfidence = "confidence"
	metaCreatedAt  = "created_at_ms"
	metaDimensions = "dimensions"
)

type Index struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	logger      *slog.Logger
}

// New opens an index. An empty path keeps everything in memory; otherwise
// collections persist under path.
func New(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(path) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &Index{
		db:          db,
		collections: map[string]*chromem.Collection{},
		logger:      logger.With("component", "chromem_index"),
	}, nil
}

func (i *Index) collection(visitorID string) (*chromem.Collection, error) {
	i.mu.RLock()
	col, ok := i.collections[visitorID]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if col, ok := i.collections[visitorID]; ok {
		return col, nil
	}
	col, err := i.db.GetOrCreateCollection("visitor_"+visitorID, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	i.collections[visitorID] = col
	return col, nil
}

func (i *Index) Upsert(ctx context.Context, entry store.MemoryRecord) error {
	if len(entry.Embedding) == 0 {
		return nil
	}
	col, err := i.collection(entry.VisitorID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        entry.ID,
		Content:   entry.Content,
		Embedding: entry.Embedding,
		Metadata: map[string]string{
			metaKind:       entry.Kind,
			metaRole:       entry.Role,
			metaCategory:   entry.Category,
			metaConfidence: strconv.FormatFloat(entry.Confidence, 'f', -1, 64),
			metaCreatedAt:  strconv.FormatInt(entry.CreatedAt.UTC().UnixMilli(), 10),
			metaDimensions: strconv.Itoa(len(entry.Embedding)),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search queries the visitor's collection. chromem-go rejects result counts
// above the collection size, so the limit is clamped to Count.
func (i *Index) Search(ctx context.Context, search store.MemorySearch) ([]store.ScoredMemory, error) {
	if len(search.Query) == 0 {
		return []store.ScoredMemory{}, nil
	}
	col, err := i.collection(search.VisitorID)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return []store.ScoredMemory{}, nil
	}
	limit := search.Limit
	if limit <= 0 || limit > count {
		limit = count
	}
	where := map[string]string{metaDimensions: strconv.Itoa(len(search.Query))}
	if search.Kind != "" {
		where[metaKind] = search.Kind
	}
	results, err := col.QueryEmbedding(ctx, search.Query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	found := make([]store.ScoredMemory, 0, len(results))
	for _, result := range results {
		similarity := float64(result.Similarity)
		if similarity <= search.MinSimilarity {
			continue
		}
		record := recordFrom(search.VisitorID, result)
		if !search.Since.IsZero() && record.CreatedAt.Before(search.Since) {
			continue
		}
		found = append(found, store.ScoredMemory{MemoryRecord: record, Similarity: similarity})
	}
	sort.SliceStable(found, func(a, b int) bool {
		return found[a].Similarity > found[b].Similarity
	})
	return found, nil
}

func (i *Index) Delete(ctx context.Context, visitorID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := i.collection(visitorID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	i.logger.Debug("removed vectors", "visitor_id", visitorID, "count", len(ids))
	return nil
}

func recordFrom(visitorID string, result chromem.Result) store.MemoryRecord {
	confidence, _ := strconv.ParseFloat(result.Metadata[metaConfidence], 64)
	createdMs, _ := strconv.ParseInt(result.Metadata[metaCreatedAt], 10, 64)
	return store.MemoryRecord{
		ID:         result.ID,
		VisitorID:  visitorID,
		Kind:       result.Metadata[metaKind],
		Role:       result.Metadata[metaRole],
		Content:    result.Content,
		Category:   result.Metadata[metaCategory],
		Confidence: confidence,
		Embedding:  result.Embedding,
		CreatedAt:  time.UnixMilli(createdMs).UTC(),
	}
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}
