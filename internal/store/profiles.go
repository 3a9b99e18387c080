package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProfileNotFound     = errors.New("visitor profile not found")
	ErrProbeResponseExists = errors.New("probe already answered")
)

type VisitorProfile struct {
	VisitorID             string             `json:"visitorId"`
	Need                  string             `json:"need"`
	Style                 string             `json:"style"`
	Attachment            string             `json:"attachment"`
	Motivation            string             `json:"motivation"`
	PlanTier              string             `json:"planTier"`
	AvgResponseTimeMs     float64            `json:"avgResponseTimeMs"`
	HesitationLevel       float64            `json:"hesitationLevel"`
	EngagementScore       float64            `json:"engagementScore"`
	ReceptivityScore      float64            `json:"receptivityScore"`
	DataPoints            int                `json:"dataPoints"`
	Confidence            float64            `json:"confidence"`
	StrategyTag           string             `json:"strategyTag"`
	ConversionProbability float64            `json:"conversionProbability"`
	EstimatedMonthlyValue float64            `json:"estimatedMonthlyValue"`
	Insights              map[string]float64 `json:"insights"`
	KeyStatements         []string           `json:"keyStatements"`
	TriggerWords          []string           `json:"triggerWords"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

type ProbeResponse struct {
	ID        string
	VisitorID string
	ProbeID   string
	Response  string
	Category  string
	Phase     int
	CreatedAt time.Time
}

type BehaviorEvent struct {
	ID              string
	VisitorID       string
	ResponseTimeMs  int64
	MessageLength   int
	HesitationCount int
	HourOfDay       int
	CreatedAt       time.Time
}

const profileColumns = `visitor_id, need, style, attachment, motivation, plan_tier,
	avg_response_time_ms, hesitation_level, engagement_score, receptivity_score,
	data_points, confidence, strategy_tag, conversion_probability, estimated_monthly_value,
	insights_json, key_statements_json, trigger_words_json, created_at_unix, updated_at_unix`

func (s *Store) GetVisitorProfile(ctx context.Context, visitorID string) (VisitorProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM visitor_profiles WHERE visitor_id = ?`, strings.TrimSpace(visitorID))
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VisitorProfile{}, ErrProfileNotFound
		}
		return VisitorProfile{}, fmt.Errorf("get visitor profile: %w", err)
	}
	return profile, nil
}

// CreateVisitorProfile inserts the profile unless a row already exists and
// returns whatever is stored afterwards.
func (s *Store) CreateVisitorProfile(ctx context.Context, profile VisitorProfile) (VisitorProfile, error) {
	if strings.TrimSpace(profile.VisitorID) == "" {
		return VisitorProfile{}, fmt.Errorf("visitor id is required")
	}
	args, err := profileArgs(profile, time.Now().UTC())
	if err != nil {
		return VisitorProfile{}, err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO visitor_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(visitor_id) DO NOTHING`, args...); err != nil {
		return VisitorProfile{}, fmt.Errorf("insert visitor profile: %w", err)
	}
	return s.GetVisitorProfile(ctx, profile.VisitorID)
}

// SaveVisitorProfile upserts the profile. data_points never decreases.
func (s *Store) SaveVisitorProfile(ctx context.Context, profile VisitorProfile) error {
	return saveProfile(ctx, s.db, profile)
}

// SaveProbeResponse appends the response and persists the updated profile in
// one transaction. A repeated (visitor, probe) pair yields
// ErrProbeResponseExists and leaves the profile untouched.
func (s *Store) SaveProbeResponse(ctx context.Context, response ProbeResponse, profile VisitorProfile) (ProbeResponse, error) {
	if strings.TrimSpace(response.ID) == "" {
		response.ID = uuid.NewString()
	}
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProbeResponse{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveProfile(ctx, tx, profile); err != nil {
		return ProbeResponse{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO probe_responses (id, visitor_id, probe_id, response, category, phase, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		response.ID,
		response.VisitorID,
		response.ProbeID,
		response.Response,
		response.Category,
		response.Phase,
		response.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ProbeResponse{}, ErrProbeResponseExists
		}
		return ProbeResponse{}, fmt.Errorf("insert probe response: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ProbeResponse{}, fmt.Errorf("commit probe response: %w", err)
	}
	return response, nil
}

func (s *Store) ListProbeResponses(ctx context.Context, visitorID string) ([]ProbeResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visitor_id, probe_id, response, category, phase, created_at_unix
		 FROM probe_responses WHERE visitor_id = ? ORDER BY created_at_unix ASC, rowid ASC`,
		strings.TrimSpace(visitorID),
	)
	if err != nil {
		return nil, fmt.Errorf("list probe responses: %w", err)
	}
	defer rows.Close()

	responses := []ProbeResponse{}
	for rows.Next() {
		var item ProbeResponse
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.VisitorID, &item.ProbeID, &item.Response, &item.Category, &item.Phase, &createdAt); err != nil {
			return nil, fmt.Errorf("scan probe response: %w", err)
		}
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		responses = append(responses, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe responses: %w", err)
	}
	return responses, nil
}

// SaveBehaviorEvent appends the event and persists the updated profile in
// one transaction.
func (s *Store) SaveBehaviorEvent(ctx context.Context, event BehaviorEvent, profile VisitorProfile) error {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveProfile(ctx, tx, profile); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO behavior_events (id, visitor_id, response_time_ms, message_length, hesitation_count, hour_of_day, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.VisitorID,
		nullIfZeroInt64(event.ResponseTimeMs),
		nullIfZeroInt64(int64(event.MessageLength)),
		nullIfZeroInt64(int64(event.HesitationCount)),
		event.HourOfDay,
		event.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert behavior event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit behavior event: %w", err)
	}
	return nil
}

func (s *Store) CountBehaviorEvents(ctx context.Context, visitorID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM behavior_events WHERE visitor_id = ?`, strings.TrimSpace(visitorID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count behavior events: %w", err)
	}
	return count, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveProfile(ctx context.Context, db execer, profile VisitorProfile) error {
	if strings.TrimSpace(profile.VisitorID) == "" {
		return fmt.Errorf("visitor id is required")
	}
	args, err := profileArgs(profile, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO visitor_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(visitor_id) DO UPDATE SET
			need = excluded.need,
			style = excluded.style,
			attachment = excluded.attachment,
			motivation = excluded.motivation,
			plan_tier = excluded.plan_tier,
			avg_response_time_ms = excluded.avg_response_time_ms,
			hesitation_level = excluded.hesitation_level,
			engagement_score = excluded.engagement_score,
			receptivity_score = excluded.receptivity_score,
			data_points = MAX(visitor_profiles.data_points, excluded.data_points),
			confidence = excluded.confidence,
			strategy_tag = excluded.strategy_tag,
			conversion_probability = excluded.conversion_probability,
			estimated_monthly_value = excluded.estimated_monthly_value,
			insights_json = excluded.insights_json,
			key_statements_json = excluded.key_statements_json,
			trigger_words_json = excluded.trigger_words_json,
			updated_at_unix = excluded.updated_at_unix`, args...)
	if err != nil {
		return fmt.Errorf("save visitor profile: %w", err)
	}
	return nil
}

func profileArgs(profile VisitorProfile, now time.Time) ([]any, error) {
	insights := profile.Insights
	if insights == nil {
		insights = map[string]float64{}
	}
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return nil, fmt.Errorf("encode insights: %w", err)
	}
	statementsJSON, err := json.Marshal(nonNil(profile.KeyStatements))
	if err != nil {
		return nil, fmt.Errorf("encode key statements: %w", err)
	}
	triggersJSON, err := json.Marshal(nonNil(profile.TriggerWords))
	if err != nil {
		return nil, fmt.Errorf("encode trigger words: %w", err)
	}
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []any{
		strings.TrimSpace(profile.VisitorID),
		tagOrUnknown(profile.Need),
		tagOrUnknown(profile.Style),
		tagOrUnknown(profile.Attachment),
		tagOrUnknown(profile.Motivation),
		tagOrUnknown(profile.PlanTier),
		profile.AvgResponseTimeMs,
		profile.HesitationLevel,
		profile.EngagementScore,
		profile.ReceptivityScore,
		profile.DataPoints,
		profile.Confidence,
		profile.StrategyTag,
		profile.ConversionProbability,
		profile.EstimatedMonthlyValue,
		string(insightsJSON),
		string(statementsJSON),
		string(triggersJSON),
		createdAt.UTC().Unix(),
		now.Unix(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (VisitorProfile, error) {
	var (
		profile                                    VisitorProfile
		insightsJSON, statementsJSON, triggersJSON string
		createdAtUnix, updatedAtUnix               int64
	)
	if err := row.Scan(
		&profile.VisitorID,
		&profile.Need,
		&profile.Style,
		&profile.Attachment,
		&profile.Motivation,
		&profile.PlanTier,
		&profile.AvgResponseTimeMs,
		&profile.HesitationLevel,
		&profile.EngagementScore,
		&profile.ReceptivityScore,
		&profile.DataPoints,
		&profile.Confidence,
		&profile.StrategyTag,
		&profile.ConversionProbability,
		&profile.EstimatedMonthlyValue,
		&insightsJSON,
		&statementsJSON,
		&triggersJSON,
		&createdAtUnix,
		&updatedAtUnix,
	); err != nil {
		return VisitorProfile{}, err
	}
	profile.Insights = map[string]float64{}
	if err := json.Unmarshal([]byte(insightsJSON), &profile.Insights); err != nil {
		return VisitorProfile{}, fmt.Errorf("decode insights: %w", err)
	}
	if err := json.Unmarshal([]byte(statementsJSON), &profile.KeyStatements); err != nil {
		return VisitorProfile{}, fmt.Errorf("decode key statements: %w", err)
	}
	if err := json.Unmarshal([]byte(triggersJSON), &profile.TriggerWords); err != nil {
		return VisitorProfile{}, fmt.Errorf("decode trigger words: %w", err)
	}
	profile.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	profile.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return profile, nil
}

func tagOrUnknown(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return "UNKNOWN"
	}
	return value
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
