package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dwizi/rapport/internal/store"
)

const (
	decayLookback  = 30 * 24 * time.Hour
	decayBatchSize = 500
)

type DecayOptions struct {
	DaysToKeep    int
	MinSimilarity float64
}

type DecayReport struct {
	Scanned    int `json:"scanned"`
	Tombstoned int `json:"tombstoned"`
	Kept       int `json:"kept"`
}

// Decay tombstones vectors older than DaysToKeep whose average similarity to
// the visitor's last thirty days of vectors (never reaching back past the
// cutoff) falls below MinSimilarity. A
// visitor with no recent vectors scores zero, so their stale vectors go.
func (m *Manager) Decay(ctx context.Context, opts DecayOptions) (DecayReport, error) {
	if opts.DaysToKeep < 1 {
		opts.DaysToKeep = 30
	}
	now := m.cfg.Now().UTC()
	cutoff := now.Add(-time.Duration(opts.DaysToKeep) * 24 * time.Hour)
	since := now.Add(-decayLookback)
	if since.Before(cutoff) {
		// Candidates must not be compared with themselves.
		since = cutoff
	}

	report := DecayReport{}
	recentByVisitor := map[string][][]float32{}
	skip := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := m.repo.DecayCandidates(ctx, cutoff, skip, decayBatchSize)
		if err != nil {
			return report, fmt.Errorf("load decay candidates: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		doomed := map[string][]string{}
		doomedIDs := []string{}
		for _, record := range batch {
			report.Scanned++
			recent, ok := recentByVisitor[record.VisitorID]
			if !ok {
				recent, err = m.repo.RecentVectors(ctx, record.VisitorID, since)
				if err != nil {
					return report, fmt.Errorf("load recent vectors: %w", err)
				}
				recentByVisitor[record.VisitorID] = recent
			}
			if averageSimilarity(record.Embedding, recent) >= opts.MinSimilarity {
				report.Kept++
				skip++
				continue
			}
			doomed[record.VisitorID] = append(doomed[record.VisitorID], record.ID)
			doomedIDs = append(doomedIDs, record.ID)
		}

		if len(doomedIDs) > 0 {
			affected, err := m.repo.TombstoneMemories(ctx, doomedIDs)
			if err != nil {
				return report, fmt.Errorf("tombstone memories: %w", err)
			}
			report.Tombstoned += int(affected)
			for visitorID, ids := range doomed {
				if err := m.index.Delete(ctx, visitorID, ids); err != nil {
					m.logger.Warn("index delete failed", "visitor_id", visitorID, "count", len(ids), "error", err)
				}
			}
		}
		if len(batch) < decayBatchSize {
			break
		}
	}
	m.logger.Info("memory decay finished",
		"scanned", report.Scanned,
		"tombstoned", report.Tombstoned,
		"kept", report.Kept,
	)
	return report, nil
}

func averageSimilarity(vector []float32, recent [][]float32) float64 {
	if len(vector) == 0 {
		return 0
	}
	total := 0.0
	count := 0
	for _, other := range recent {
		if len(other) != len(vector) {
			continue
		}
		total += store.Cosine(vector, other)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
