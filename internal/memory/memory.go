package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/embedding"
	"github.com/dwizi/rapport/internal/llm"
	"github.com/dwizi/rapport/internal/similarity"
	"github.com/dwizi/rapport/internal/store"
)

// Entry is one stored message or session summary.
type Entry = store.MemoryRecord

type Prioritized struct {
	Entry
	Similarity float64 `json:"similarity"`
	Weight     float64 `json:"weight"`
	Score      float64 `json:"score"`
}

// DefaultWeights is the per-category value table used to bias ranking.
var DefaultWeights = map[string]float64{
	string(classifier.TypeDiscreet):      0.65,
	string(classifier.TypeCompanionship): 0.20,
	string(classifier.TypeExplicit):      0.10,
	string(classifier.TypeBrowser):       0.05,
}

const (
	DefaultWeight        = 0.1
	candidateLimit       = 15
	candidateFloor       = 0.5
	contextualMaxChars   = 2000
	mergeThreshold       = 0.8
	defaultRetrieveLimit = 5
)

// Repository is the persistence the manager needs; *store.Store satisfies it.
type Repository interface {
	InsertMemory(ctx context.Context, record store.MemoryRecord) (store.MemoryRecord, error)
	SearchMemories(ctx context.Context, search store.MemorySearch) ([]store.ScoredMemory, error)
	RecentMemories(ctx context.Context, visitorID, kind string, limit int) ([]store.MemoryRecord, error)
	DecayCandidates(ctx context.Context, cutoff time.Time, skip, limit int) ([]store.MemoryRecord, error)
	RecentVectors(ctx context.Context, visitorID string, since time.Time) ([][]float32, error)
	TombstoneMemories(ctx context.Context, ids []string) (int64, error)
}

// Index answers similarity queries. The repository always holds the rows;
// an index may mirror their vectors elsewhere.
type Index interface {
	Upsert(ctx context.Context, entry Entry) error
	Search(ctx context.Context, search store.MemorySearch) ([]store.ScoredMemory, error)
	Delete(ctx context.Context, visitorID string, ids []string) error
}

type Config struct {
	Weights map[string]float64
	// SearchWindow bounds similarity search to recent rows; zero searches
	// the full history.
	SearchWindow     time.Duration
	SummaryTurns     int
	SummaryMaxTokens int
	SummaryTimeout   time.Duration
	Now              func() time.Time
}

type Manager struct {
	repo     Repository
	index    Index
	embedder embedding.Embedder
	reasoner llm.Client
	cfg      Config
	logger   *slog.Logger
}

// New builds a manager. A nil index searches the repository directly, a nil
// embedder stores text without vectors and a nil reasoner makes
// summarization purely deterministic.
func New(repo Repository, index Index, embedder embedding.Embedder, reasoner llm.Client, cfg Config, logger *slog.Logger) *Manager {
	if index == nil {
		index = NewStoreIndex(repo)
	}
	if embedder == nil {
		embedder = embedding.Disabled{}
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights
	}
	if cfg.SummaryTurns < 1 {
		cfg.SummaryTurns = 20
	}
	if cfg.SummaryMaxTokens < 1 {
		cfg.SummaryMaxTokens = 400
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		index:    index,
		embedder: embedder,
		reasoner: reasoner,
		cfg:      cfg,
		logger:   logger.With("component", "memory"),
	}
}

// Note is a memory to persist. Embedding may carry a vector the caller has
// already computed for Content.
// Note is a memory to store. A set ID replaces any existing row with that id.
type Note struct {
	ID         string
	VisitorID  string
	Kind       string
	Role       string
	Content    string
	Category   string
	Confidence float64
	Embedding  []float32
}

// Store embeds and persists the note. An embedding failure stores the text
// without a vector; the message is never dropped.
func (m *Manager) Store(ctx context.Context, note Note) (Entry, error) {
	visitorID := strings.TrimSpace(note.VisitorID)
	if visitorID == "" {
		return Entry{}, agenterr.ErrVisitorRequired
	}
	if strings.TrimSpace(note.Content) == "" {
		return Entry{}, agenterr.ErrMessageRequired
	}
	vector := note.Embedding
	if len(vector) == 0 {
		vector = embedding.One(ctx, m.embedder, note.Content)
	}
	if len(vector) == 0 {
		m.logger.Warn("storing memory without vector", "visitor_id", visitorID, "kind", note.Kind)
	}
	entry, err := m.repo.InsertMemory(ctx, store.MemoryRecord{
		ID:         strings.TrimSpace(note.ID),
		VisitorID:  visitorID,
		Kind:       note.Kind,
		Role:       note.Role,
		Content:    note.Content,
		Category:   note.Category,
		Confidence: note.Confidence,
		Embedding:  vector,
		CreatedAt:  m.cfg.Now().UTC(),
	})
	if err != nil {
		return Entry{}, err
	}
	if len(entry.Embedding) > 0 {
		if err := m.index.Upsert(ctx, entry); err != nil {
			m.logger.Warn("index upsert failed", "memory_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}

// Embed exposes the configured embedder so a turn can reuse one vector for
// storage and retrieval.
func (m *Manager) Embed(ctx context.Context, text string) []float32 {
	return embedding.One(ctx, m.embedder, text)
}

// Retrieve returns the k entries most similar to query, falling back to the
// k most recent entries when no vector or no match is available.
func (m *Manager) Retrieve(ctx context.Context, visitorID, query string, k int, minSimilarity float64) ([]Entry, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, agenterr.ErrVisitorRequired
	}
	if k < 1 {
		k = defaultRetrieveLimit
	}
	vector := embedding.One(ctx, m.embedder, query)
	if len(vector) > 0 {
		found, err := m.index.Search(ctx, m.search(visitorID, vector, k, minSimilarity, ""))
		if err != nil {
			m.logger.Warn("similarity search failed, using recent memories", "visitor_id", visitorID, "error", err)
		} else if len(found) > 0 {
			entries := make([]Entry, 0, len(found))
			for _, item := range found {
				entries = append(entries, item.MemoryRecord)
			}
			return entries, nil
		}
	}
	return m.recent(ctx, visitorID, k)
}

func (m *Manager) recent(ctx context.Context, visitorID string, k int) ([]Entry, error) {
	recent, err := m.repo.RecentMemories(ctx, visitorID, "", k)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	for left, right := 0, len(recent)-1; left < right; left, right = left+1, right-1 {
		recent[left], recent[right] = recent[right], recent[left]
	}
	return recent, nil
}

// RetrieveAndPrioritize ranks up to fifteen strong candidates by
// similarity × confidence × category weight and returns the best k.
// Near-duplicate candidates collapse to their higher-scored variant.
func (m *Manager) RetrieveAndPrioritize(ctx context.Context, visitorID string, query []float32, weights map[string]float64, k int) ([]Prioritized, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, agenterr.ErrVisitorRequired
	}
	if len(query) == 0 || k < 1 {
		return []Prioritized{}, nil
	}
	if len(weights) == 0 {
		weights = m.cfg.Weights
	}
	candidates, err := m.index.Search(ctx, m.search(visitorID, query, candidateLimit, candidateFloor, ""))
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	ranked := make([]Prioritized, 0, len(candidates))
	for _, candidate := range candidates {
		weight, ok := weights[candidate.Category]
		if !ok {
			weight = DefaultWeight
		}
		ranked = append(ranked, Prioritized{
			Entry:      candidate.MemoryRecord,
			Similarity: candidate.Similarity,
			Weight:     weight,
			Score:      candidate.Similarity * candidate.Confidence * weight,
		})
	}
	ranked = similarity.Merge(ranked,
		func(item Prioritized) string { return item.Content },
		func(item Prioritized) float64 { return item.Score },
		mergeThreshold,
	)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// ContextualMemory renders the prioritized memories as compact prompt text.
// Memories whose text matches an entry of recent are skipped; the recent
// window already carries them.
func (m *Manager) ContextualMemory(ctx context.Context, visitorID string, query []float32, weights map[string]float64, k int, recent []string) (string, []Prioritized) {
	ranked, err := m.RetrieveAndPrioritize(ctx, visitorID, query, weights, k+len(recent))
	if err != nil {
		m.logger.Warn("prioritized retrieval failed", "visitor_id", visitorID, "error", err)
		return "", nil
	}
	ranked = withoutRecent(ranked, recent, k)
	if len(ranked) == 0 {
		return "", ranked
	}
	lines := make([]string, 0, len(ranked))
	for _, item := range ranked {
		lines = append(lines, fmt.Sprintf("[%s] %s", categoryLabel(item.Category), strings.TrimSpace(item.Content)))
	}
	return strings.Join(similarity.Compress(lines, contextualMaxChars), "\n"), ranked
}

func withoutRecent(ranked []Prioritized, recent []string, k int) []Prioritized {
	seen := make(map[string]struct{}, len(recent))
	for _, text := range recent {
		if text = strings.TrimSpace(text); text != "" {
			seen[text] = struct{}{}
		}
	}
	kept := make([]Prioritized, 0, len(ranked))
	for _, item := range ranked {
		if _, ok := seen[strings.TrimSpace(item.Content)]; ok {
			continue
		}
		kept = append(kept, item)
	}
	if k >= 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

func (m *Manager) search(visitorID string, query []float32, limit int, floor float64, kind string) store.MemorySearch {
	search := store.MemorySearch{
		VisitorID:     visitorID,
		Query:         query,
		Limit:         limit,
		MinSimilarity: floor,
		Kind:          kind,
	}
	if m.cfg.SearchWindow > 0 {
		search.Since = m.cfg.Now().Add(-m.cfg.SearchWindow)
	}
	return search
}

func categoryLabel(category string) string {
	if strings.TrimSpace(category) == "" {
		return string(classifier.TypeUnknown)
	}
	return category
}
