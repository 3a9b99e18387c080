package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMemoryNotFound = errors.New("memory not found")

const (
	MemoryKindMessage = "message"
	MemoryKindSummary = "summary"
)

type MemoryRecord struct {
	ID         string    `json:"id"`
	VisitorID  string    `json:"visitorId"`
	Kind       string    `json:"kind"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"-"`
	Tombstoned bool      `json:"tombstoned,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ScoredMemory struct {
	MemoryRecord
	Similarity float64
}

type MemorySearch struct {
	VisitorID     string
	Query         []float32
	Limit         int
	MinSimilarity float64
	// Since bounds the recency window; zero searches everything.
	Since time.Time
	// Kind restricts results to one memory kind; empty matches all.
	Kind string
}

// InsertMemory stores record, replacing the row with the same id when one
// exists. An empty id gets a fresh uuid.
func (s *Store) InsertMemory(ctx context.Context, record MemoryRecord) (MemoryRecord, error) {
	record.VisitorID = strings.TrimSpace(record.VisitorID)
	if record.VisitorID == "" {
		return MemoryRecord{}, fmt.Errorf("visitor id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Kind == "" {
		record.Kind = MemoryKindMessage
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, visitor_id, kind, role, content, category, confidence, embedding, dimensions, created_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			role = excluded.role,
			content = excluded.content,
			category = excluded.category,
			confidence = excluded.confidence,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			created_at_unix_ms = excluded.created_at_unix_ms,
			tombstoned = 0,
			decayed_at_unix = NULL`,
		record.ID,
		record.VisitorID,
		record.Kind,
		record.Role,
		record.Content,
		record.Category,
		record.Confidence,
		encodeVector(record.Embedding),
		len(record.Embedding),
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("insert memory: %w", err)
	}
	return record, nil
}

// SearchMemories scores the visitor's live vectors of matching dimension by
// cosine similarity, keeps those strictly above MinSimilarity and returns the
// best Limit, highest first.
func (s *Store) SearchMemories(ctx context.Context, search MemorySearch) ([]ScoredMemory, error) {
	if len(search.Query) == 0 {
		return []ScoredMemory{}, nil
	}
	query := `SELECT id, visitor_id, kind, role, content, category, confidence, embedding, tombstoned, created_at_unix_ms
		FROM memories
		WHERE visitor_id = ? AND tombstoned = 0 AND dimensions = ? AND created_at_unix_ms >= ?`
	args := []any{strings.TrimSpace(search.VisitorID), len(search.Query), sinceMillis(search.Since)}
	if search.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, search.Kind)
	}
	records, err := s.queryMemories(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	results := make([]ScoredMemory, 0, len(records))
	for _, record := range records {
		similarity := Cosine(search.Query, record.Embedding)
		if similarity <= search.MinSimilarity {
			continue
		}
		results = append(results, ScoredMemory{MemoryRecord: record, Similarity: similarity})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if search.Limit > 0 && len(results) > search.Limit {
		results = results[:search.Limit]
	}
	return results, nil
}

// RecentMemories returns the visitor's newest live memories, newest first.
func (s *Store) RecentMemories(ctx context.Context, visitorID, kind string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, visitor_id, kind, role, content, category, confidence, embedding, tombstoned, created_at_unix_ms
		FROM memories WHERE visitor_id = ? AND tombstoned = 0`
	args := []any{strings.TrimSpace(visitorID)}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at_unix_ms DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	records, err := s.queryMemories(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent memories: %w", err)
	}
	return records, nil
}

// DecayCandidates lists live memories with vectors created before cutoff,
// oldest first. Callers page by skipping the rows they decided to keep.
func (s *Store) DecayCandidates(ctx context.Context, cutoff time.Time, skip, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	records, err := s.queryMemories(ctx,
		`SELECT id, visitor_id, kind, role, content, category, confidence, embedding, tombstoned, created_at_unix_ms
		 FROM memories
		 WHERE tombstoned = 0 AND dimensions > 0 AND created_at_unix_ms < ?
		 ORDER BY created_at_unix_ms ASC, rowid ASC LIMIT ? OFFSET ?`,
		cutoff.UTC().UnixMilli(), limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list decay candidates: %w", err)
	}
	return records, nil
}

// RecentVectors returns the visitor's live vectors created at or after since.
func (s *Store) RecentVectors(ctx context.Context, visitorID string, since time.Time) ([][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding FROM memories
		 WHERE visitor_id = ? AND tombstoned = 0 AND dimensions > 0 AND created_at_unix_ms >= ?`,
		strings.TrimSpace(visitorID), since.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list recent vectors: %w", err)
	}
	defer rows.Close()

	vectors := [][]float32{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	return vectors, nil
}

// TombstoneMemories strips the vector and content of the given rows. Already
// tombstoned rows are left alone, so the call is idempotent.
func (s *Store) TombstoneMemories(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	nowUnix := time.Now().UTC().Unix()
	var affected int64
	for _, id := range ids {
		result, err := tx.ExecContext(ctx,
			`UPDATE memories
			 SET content = '', embedding = NULL, dimensions = 0, tombstoned = 1, decayed_at_unix = ?
			 WHERE id = ? AND tombstoned = 0`,
			nowUnix, id,
		)
		if err != nil {
			return 0, fmt.Errorf("tombstone memory: %w", err)
		}
		count, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("tombstone memory rows affected: %w", err)
		}
		affected += count
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tombstones: %w", err)
	}
	return affected, nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (MemoryRecord, error) {
	records, err := s.queryMemories(ctx,
		`SELECT id, visitor_id, kind, role, content, category, confidence, embedding, tombstoned, created_at_unix_ms
		 FROM memories WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("get memory: %w", err)
	}
	if len(records) == 0 {
		return MemoryRecord{}, ErrMemoryNotFound
	}
	return records[0], nil
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []MemoryRecord{}
	for rows.Next() {
		var (
			record     MemoryRecord
			blob       []byte
			tombstoned int
			createdMs  int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.VisitorID,
			&record.Kind,
			&record.Role,
			&record.Content,
			&record.Category,
			&record.Confidence,
			&blob,
			&tombstoned,
			&createdMs,
		); err != nil {
			return nil, err
		}
		vector, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		record.Embedding = vector
		record.Tombstoned = tombstoned == 1
		record.CreatedAt = time.UnixMilli(createdMs).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UTC().UnixMilli()
}
