package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/contextasm"
	"github.com/dwizi/rapport/internal/llm"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/profile"
	"github.com/dwizi/rapport/internal/store"
	"github.com/dwizi/rapport/internal/strategy"
)

const (
	DefaultMemoryTopK   = 5
	DefaultSummaryLimit = 5
	DefaultGenerateWait = 30 * time.Second

	sessionMinMessages  = 5
	sessionLongMessages = 20
	sessionLongMinutes  = 30

	typingWordsPerMinute = 70
	thinkingMs           = 2000
	discreetExtraMs      = 1000
	explicitThinkingMs   = 500
)

const DefaultSystemPrompt = `You are a friendly conversational companion on a chat service.
Be genuine and attentive. Keep the conversation about the visitor and what they share.
Never claim to be human if sincerely asked, and never pressure the visitor into anything.`

const memoryGuidance = `Use what you know about the visitor the way a friend would: bring it up when it fits, never recite it.
Do not mention notes, summaries or memory. If something you remember conflicts with what they say now, trust what they say now.`

var exitSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bye|goodbye|see you|talk later|ttyl|gotta go|leaving)\b`),
	regexp.MustCompile(`(?i)\b(enough|stop|done|finished)\b`),
	regexp.MustCompile(`(?i)^(ok|k|thanks)\.?$`),
}

type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

type Profiles interface {
	Get(ctx context.Context, visitorID string) (profile.Profile, error)
	RecordProbeResponse(ctx context.Context, visitorID, probeID, text string) (profile.Profile, error)
	RecordBehavior(ctx context.Context, visitorID string, behavior profile.Behavior) (profile.Profile, error)
}

type Memory interface {
	Embed(ctx context.Context, text string) []float32
	Store(ctx context.Context, note memory.Note) (memory.Entry, error)
	ContextualMemory(ctx context.Context, visitorID string, query []float32, weights map[string]float64, k int, recent []string) (string, []memory.Prioritized)
	Summaries(ctx context.Context, visitorID string, limit int) ([]string, error)
}

type Planner interface {
	Plan(ctx context.Context, in strategy.PlanInput) strategy.Strategy
	InjectProbe(reply, question string) string
	ValueWeights() map[string]float64
}

type Assembler interface {
	Assemble(in contextasm.Input) contextasm.Assembled
}

type Queue interface {
	Enqueue(task Task) (Task, error)
}

type Config struct {
	SystemPrompt string
	MaxTokens    int
	MemoryTopK   int
	SummaryLimit int
	GenerateWait time.Duration
	Now          func() time.Time
	Random       func() float64
}

// Dependencies groups the collaborators of a turn. Generator and Queue may be
// nil: replies then come from the strategy fallback and sessions are not
// summarized.
type Dependencies struct {
	Classifier Classifier
	Profiles   Profiles
	Memory     Memory
	Planner    Planner
	Assembler  Assembler
	Generator  llm.Client
	Queue      Queue
}

type TurnRequest struct {
	VisitorID             string            `json:"visitorId"`
	Message               string            `json:"message"`
	History               []classifier.Turn `json:"history,omitempty"`
	ResponseTimeMs        int64             `json:"responseTimeMs,omitempty"`
	TypingHesitationCount int               `json:"typingHesitationCount,omitempty"`
	// HourOfDay is the visitor's local hour; nil uses the server clock.
	HourOfDay      *int      `json:"hourOfDay,omitempty"`
	SessionStart   time.Time `json:"sessionStart,omitempty"`
	PendingProbeID string    `json:"pendingProbeId,omitempty"`
	Debug          bool      `json:"debug,omitempty"`
}

type TurnResponse struct {
	Reply        string `json:"reply"`
	DelayMs      int64  `json:"delayMs"`
	ProbeID      string `json:"probeId,omitempty"`
	SessionEnded bool   `json:"sessionEnded"`
	Degraded     bool   `json:"degraded,omitempty"`
	Debug        *Debug `json:"debug,omitempty"`
}

type Debug struct {
	Classification   classifier.Result    `json:"classification"`
	Profile          profile.Profile      `json:"profile"`
	Strategy         strategy.Strategy    `json:"strategy"`
	Tokens           contextasm.Usage     `json:"tokens"`
	CompressionRatio float64              `json:"compressionRatio"`
	Memories         []memory.Prioritized `json:"memories"`
	SummariesUsed    int                  `json:"summariesUsed"`
	RecentIncluded   int                  `json:"recentIncluded"`
}

type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
}

func NewOrchestrator(deps Dependencies, cfg Config, logger *slog.Logger) *Orchestrator {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = contextasm.DefaultMaxTokens
	}
	if cfg.MemoryTopK <= 0 {
		cfg.MemoryTopK = DefaultMemoryTopK
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = DefaultSummaryLimit
	}
	if cfg.GenerateWait <= 0 {
		cfg.GenerateWait = DefaultGenerateWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
	}
}

// HandleTurn runs one visitor message through the full pipeline. Only a
// missing visitor id or message is returned as an error; every downstream
// failure degrades the reply instead.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	visitorID := strings.TrimSpace(req.VisitorID)
	message := strings.TrimSpace(req.Message)
	if visitorID == "" {
		return TurnResponse{}, agenterr.ErrVisitorRequired
	}
	if message == "" {
		return TurnResponse{}, agenterr.ErrMessageRequired
	}

	now := o.cfg.Now()
	hour := now.Hour()
	if req.HourOfDay != nil && *req.HourOfDay >= 0 && *req.HourOfDay < 24 {
		hour = *req.HourOfDay
	}
	ordinal := userTurns(req.History) + 1
	durationMin := 0
	if !req.SessionStart.IsZero() && now.After(req.SessionStart) {
		durationMin = int(now.Sub(req.SessionStart).Round(time.Minute) / time.Minute)
	}
	logger := o.logger.With("visitor_id", visitorID, "ordinal", ordinal)
	degraded := false

	classification := o.deps.Classifier.Classify(ctx, classifier.Input{
		Message:               message,
		PreviousQuestion:      lastAssistant(req.History),
		MessageOrdinal:        ordinal,
		ResponseTimeMs:        req.ResponseTimeMs,
		TypingHesitationCount: req.TypingHesitationCount,
		HourOfDay:             hour,
		SessionDurationMin:    durationMin,
		History:               req.History,
	})

	visitor, ok := o.updateProfile(ctx, logger, visitorID, message, hour, req)
	if !ok {
		degraded = true
	}
	if coarse, confidence := profile.CoarseType(visitor); coarse != classifier.TypeUnknown && confidence > classification.Confidence {
		classification.UserType = coarse
		classification.Confidence = confidence
		classification.RevenuePotential = classifier.PotentialFor(coarse)
		classification.Indicators = append(classification.Indicators, "consistent with visitor profile")
	}

	// Retrieval runs before the message is stored so it cannot match itself.
	vector := o.deps.Memory.Embed(ctx, message)
	contextual, ranked := o.deps.Memory.ContextualMemory(ctx, visitorID, vector, o.deps.Planner.ValueWeights(), o.cfg.MemoryTopK, turnContents(req.History))
	summaries, err := o.deps.Memory.Summaries(ctx, visitorID, o.cfg.SummaryLimit)
	if err != nil {
		logger.Warn("load session summaries failed", "error", err)
		summaries = nil
		degraded = true
	}

	if _, err := o.deps.Memory.Store(ctx, memory.Note{
		VisitorID:  visitorID,
		Kind:       store.MemoryKindMessage,
		Role:       llm.RoleUser,
		Content:    message,
		Category:   string(classification.UserType),
		Confidence: classification.Confidence,
		Embedding:  vector,
	}); err != nil {
		logger.Warn("store visitor message failed", "error", err)
		degraded = true
	}

	plan := o.deps.Planner.Plan(ctx, strategy.PlanInput{
		VisitorID:      visitorID,
		UserType:       classification.UserType,
		Confidence:     classification.Confidence,
		Message:        message,
		MessageOrdinal: ordinal,
	})

	assembled := o.deps.Assembler.Assemble(contextasm.Input{
		System:           o.systemPrompt(plan),
		ContextualMemory: contextual,
		Summaries:        summaries,
		Recent:           toMessages(req.History),
		Current:          message,
		MaxTokens:        o.cfg.MaxTokens,
	})

	reply, generated := o.generate(ctx, logger, assembled.Messages, plan)
	if !generated {
		degraded = true
	}
	reply = strategy.MatchEnergy(message, reply)

	response := TurnResponse{}
	if plan.ShouldInjectProbe && plan.Probe != nil {
		reply = o.deps.Planner.InjectProbe(reply, plan.Probe.Question)
		response.ProbeID = plan.Probe.ID
	}

	if _, err := o.deps.Memory.Store(ctx, memory.Note{
		VisitorID:  visitorID,
		Kind:       store.MemoryKindMessage,
		Role:       llm.RoleAssistant,
		Content:    reply,
		Category:   string(classification.UserType),
		Confidence: classification.Confidence,
	}); err != nil {
		logger.Warn("store reply failed", "error", err)
		degraded = true
	}

	response.Reply = reply
	response.DelayMs = TypingDelay(reply, classification.UserType, o.cfg.Random)
	response.Degraded = degraded

	session := append(append([]classifier.Turn{}, req.History...),
		classifier.Turn{Role: llm.RoleUser, Content: message},
		classifier.Turn{Role: llm.RoleAssistant, Content: reply},
	)
	if SessionEnded(len(req.History)+1, durationMin, message) {
		response.SessionEnded = true
		o.enqueueSummary(logger, visitorID, SessionKey(req.SessionStart, session), session, classification)
	}

	if req.Debug {
		response.Debug = &Debug{
			Classification:   classification,
			Profile:          visitor,
			Strategy:         plan,
			Tokens:           assembled.Tokens,
			CompressionRatio: assembled.CompressionRatio,
			Memories:         ranked,
			SummariesUsed:    assembled.SummariesUsed,
			RecentIncluded:   assembled.RecentIncluded,
		}
	}

	logger.Info("turn handled",
		"user_type", classification.UserType,
		"confidence", classification.Confidence,
		"source", classification.Source,
		"tokens", assembled.Tokens.Total,
		"probe_id", response.ProbeID,
		"session_ended", response.SessionEnded,
		"degraded", degraded,
	)
	return response, nil
}

// updateProfile records the pending probe answer and the behavioural signals
// of this message. It reports false when the profile could not be updated.
func (o *Orchestrator) updateProfile(ctx context.Context, logger *slog.Logger, visitorID, message string, hour int, req TurnRequest) (profile.Profile, bool) {
	if probeID := strings.TrimSpace(req.PendingProbeID); probeID != "" {
		_, err := o.deps.Profiles.RecordProbeResponse(ctx, visitorID, probeID, message)
		switch {
		case err == nil:
		case errors.Is(err, agenterr.ErrProbeAnswered), errors.Is(err, agenterr.ErrProbeUnknown):
			logger.Debug("probe response ignored", "probe_id", probeID, "error", err)
		default:
			logger.Warn("record probe response failed", "probe_id", probeID, "error", err)
		}
	}

	visitor, err := o.deps.Profiles.RecordBehavior(ctx, visitorID, profile.Behavior{
		ResponseTimeMs:  req.ResponseTimeMs,
		MessageLength:   len([]rune(message)),
		HesitationCount: req.TypingHesitationCount,
		HourOfDay:       hour,
	})
	if err == nil {
		return visitor, true
	}
	logger.Warn("record behavior failed", "error", err)
	visitor, err = o.deps.Profiles.Get(ctx, visitorID)
	if err != nil {
		logger.Warn("load profile failed", "error", err)
		return profile.Profile{VisitorID: visitorID}, false
	}
	return visitor, false
}

func (o *Orchestrator) systemPrompt(plan strategy.Strategy) string {
	return strings.Join([]string{
		strings.TrimSpace(o.cfg.SystemPrompt),
		plan.Instructions(),
		memoryGuidance,
	}, "\n\n")
}

// generate returns the model reply, or the strategy fallback when the model
// is missing, fails, answers empty or uses forbidden vocabulary.
func (o *Orchestrator) generate(ctx context.Context, logger *slog.Logger, messages []llm.Message, plan strategy.Strategy) (string, bool) {
	if o.deps.Generator == nil {
		return plan.FallbackText, false
	}
	generateCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateWait)
	defer cancel()

	reply, err := o.deps.Generator.Complete(generateCtx, messages)
	if err != nil {
		logger.Warn("generation failed, using fallback", "error", err)
		return plan.FallbackText, false
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		logger.Warn("generation returned empty reply, using fallback")
		return plan.FallbackText, false
	}
	if word, found := forbiddenWord(reply, plan.ForbiddenVocabulary); found {
		logger.Warn("reply used forbidden vocabulary, using fallback", "word", word)
		return plan.FallbackText, false
	}
	return reply, true
}

func (o *Orchestrator) enqueueSummary(logger *slog.Logger, visitorID, sessionKey string, session []classifier.Turn, classification classifier.Result) {
	if o.deps.Queue == nil {
		return
	}
	task, err := o.deps.Queue.Enqueue(Task{
		VisitorID:      visitorID,
		SessionKey:     sessionKey,
		Kind:           TaskKindSessionSummary,
		History:        session,
		Classification: classification,
	})
	if err != nil {
		logger.Warn("session summary not queued", "error", err)
		return
	}
	logger.Info("session end detected", "task_id", task.ID, "messages", len(session))
}

// SessionKey identifies a session for its summary: the client's session
// start when given, otherwise the session's opening visitor message. Turns
// past the end threshold share the key, so their summaries replace each other.
func SessionKey(start time.Time, session []classifier.Turn) string {
	if !start.IsZero() {
		return "start:" + start.UTC().Format(time.RFC3339Nano)
	}
	for _, turn := range session {
		if turn.Role == llm.RoleUser && strings.TrimSpace(turn.Content) != "" {
			return "opening:" + strings.TrimSpace(turn.Content)
		}
	}
	return ""
}

// SessionEnded reports whether a session of messageCount visitor-side
// history entries should be summarized. Nothing ends before five messages.
func SessionEnded(messageCount, durationMin int, lastMessage string) bool {
	if messageCount < sessionMinMessages {
		return false
	}
	if messageCount >= sessionLongMessages || durationMin >= sessionLongMinutes {
		return true
	}
	return IsExitSignal(lastMessage)
}

func IsExitSignal(message string) bool {
	message = strings.TrimSpace(message)
	for _, pattern := range exitSignals {
		if pattern.MatchString(message) {
			return true
		}
	}
	return false
}

// TypingDelay approximates how long a person would take to type reply at
// seventy words a minute, plus thinking time, varied by up to 20% either way.
func TypingDelay(reply string, userType classifier.UserType, random func() float64) int64 {
	if random == nil {
		random = rand.Float64
	}
	words := float64(len(strings.Fields(reply)))
	base := words / typingWordsPerMinute * 60 * 1000

	thinking := float64(thinkingMs)
	switch userType {
	case classifier.TypeDiscreet:
		thinking += discreetExtraMs
	case classifier.TypeExplicit:
		thinking = explicitThinkingMs
	}
	variation := (random() - 0.5) * 0.4
	return int64(math.Round((base + thinking) * (1 + variation)))
}

func forbiddenWord(reply string, forbidden []string) (string, bool) {
	lower := strings.ToLower(reply)
	for _, word := range forbidden {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			continue
		}
		if pattern.MatchString(lower) {
			return word, true
		}
	}
	return "", false
}

func userTurns(history []classifier.Turn) int {
	count := 0
	for _, turn := range history {
		if turn.Role == llm.RoleUser {
			count++
		}
	}
	return count
}

func turnContents(history []classifier.Turn) []string {
	contents := make([]string, 0, len(history))
	for _, turn := range history {
		contents = append(contents, turn.Content)
	}
	return contents
}

func lastAssistant(history []classifier.Turn) string {
	for index := len(history) - 1; index >= 0; index-- {
		if history[index].Role == llm.RoleAssistant {
			return history[index].Content
		}
	}
	return ""
}

func toMessages(history []classifier.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		role := turn.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return messages
}

// SummaryExecutor turns a session-summary task into a stored summary memory.
type SummaryExecutor struct {
	memory summarizer
}

type summarizer interface {
	SummarizeSession(ctx context.Context, history []classifier.Turn, classification classifier.Result) string
	StoreSummary(ctx context.Context, visitorID, sessionKey, summary string, classification classifier.Result) (memory.Entry, error)
}

func NewSummaryExecutor(memory summarizer) *SummaryExecutor {
	return &SummaryExecutor{memory: memory}
}

func (e *SummaryExecutor) Execute(ctx context.Context, task Task) (TaskResult, error) {
	if task.Kind == "" {
		task.Kind = TaskKindSessionSummary
	}
	if task.Kind != TaskKindSessionSummary {
		return TaskResult{}, fmt.Errorf("unsupported task kind %q", task.Kind)
	}
	summary := e.memory.SummarizeSession(ctx, task.History, task.Classification)
	entry, err := e.memory.StoreSummary(ctx, task.VisitorID, task.SessionKey, summary, task.Classification)
	if err != nil {
		return TaskResult{}, fmt.Errorf("store session summary: %w", err)
	}
	return TaskResult{MemoryID: entry.ID, Summary: summary}, nil
}
