package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string
	DataDir     string
	DBPath      string

	LLMProvider       string // openai | anthropic | none
	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	LLMReasoningModel string
	LLMTimeoutSec     int
	LLMMaxTokens      int
	LLMRatePerWindow  int
	LLMRateWindowSec  int

	EmbedProvider   string // openai | hash | none
	EmbedBaseURL    string
	EmbedAPIKey     string
	EmbedModel      string
	EmbedDimensions int
	EmbedTimeoutSec int

	VectorBackend string // sqlite | chromem
	ChromemPath   string

	ClassifierCacheTTLSec   int
	ClassifierCacheMaxItems int
	ClassifierTimeoutSec    int

	SystemPrompt       string
	SystemPromptFile   string
	ContextMaxTokens   int
	MemoryTopK         int
	SummaryLimit       int
	GenerateTimeoutSec int

	SummaryWorkers     int
	DecaySchedule      string
	DecayTimezone      string
	DecayDaysToKeep    int
	DecayMinSimilarity float64

	PolicyFile  string
	PolicyWatch bool

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int

	APIURL           string
	APITLSSkipVerify bool
	APITLSCAFile     string
	APITLSCertFile   string
	APITLSKeyFile    string
	APITimeoutSec    int
}

func FromEnv() Config {
	dataDir := stringOrDefault("RAPPORT_DATA_DIR", "/data")
	dbPath := stringOrDefault("RAPPORT_DB_PATH", filepath.Join(dataDir, "rapport", "rapport.sqlite"))

	return Config{
		Environment: stringOrDefault("RAPPORT_ENV", "development"),
		LogLevel:    strings.ToLower(stringOrDefault("RAPPORT_LOG_LEVEL", "info")),
		HTTPAddr:    stringOrDefault("RAPPORT_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,

		LLMProvider:       providerOrDefault("RAPPORT_LLM_PROVIDER", "openai", "openai", "anthropic", "none"),
		LLMBaseURL:        strings.TrimSpace(os.Getenv("RAPPORT_LLM_BASE_URL")),
		LLMAPIKey:         strings.TrimSpace(os.Getenv("RAPPORT_LLM_API_KEY")),
		LLMModel:          strings.TrimSpace(os.Getenv("RAPPORT_LLM_MODEL")),
		LLMReasoningModel: strings.TrimSpace(os.Getenv("RAPPORT_LLM_REASONING_MODEL")),
		LLMTimeoutSec:     intOrDefault("RAPPORT_LLM_TIMEOUT_SECONDS", 20),
		LLMMaxTokens:      intOrDefault("RAPPORT_LLM_MAX_TOKENS", 600),
		LLMRatePerWindow:  intOrDefault("RAPPORT_LLM_RATE_LIMIT_PER_WINDOW", 60),
		LLMRateWindowSec:  intOrDefault("RAPPORT_LLM_RATE_LIMIT_WINDOW_SECONDS", 60),

		EmbedProvider:   providerOrDefault("RAPPORT_EMBED_PROVIDER", "hash", "openai", "hash", "none"),
		EmbedBaseURL:    strings.TrimSpace(os.Getenv("RAPPORT_EMBED_BASE_URL")),
		EmbedAPIKey:     strings.TrimSpace(os.Getenv("RAPPORT_EMBED_API_KEY")),
		EmbedModel:      strings.TrimSpace(os.Getenv("RAPPORT_EMBED_MODEL")),
		EmbedDimensions: intOrDefault("RAPPORT_EMBED_DIMENSIONS", 384),
		EmbedTimeoutSec: intOrDefault("RAPPORT_EMBED_TIMEOUT_SECONDS", 10),

		VectorBackend: providerOrDefault("RAPPORT_VECTOR_BACKEND", "sqlite", "sqlite", "chromem"),
		ChromemPath:   strings.TrimSpace(os.Getenv("RAPPORT_CHROMEM_PATH")),

		ClassifierCacheTTLSec:   intOrDefault("RAPPORT_CLASSIFIER_CACHE_TTL_SECONDS", 3600),
		ClassifierCacheMaxItems: intOrDefault("RAPPORT_CLASSIFIER_CACHE_MAX_ITEMS", 10000),
		ClassifierTimeoutSec:    intOrDefault("RAPPORT_CLASSIFIER_TIMEOUT_SECONDS", 10),

		SystemPrompt:       strings.TrimSpace(os.Getenv("RAPPORT_SYSTEM_PROMPT")),
		SystemPromptFile:   strings.TrimSpace(os.Getenv("RAPPORT_SYSTEM_PROMPT_FILE")),
		ContextMaxTokens:   intOrDefault("RAPPORT_CONTEXT_MAX_TOKENS", 8000),
		MemoryTopK:         intOrDefault("RAPPORT_MEMORY_TOP_K", 5),
		SummaryLimit:       intOrDefault("RAPPORT_SUMMARY_LIMIT", 5),
		GenerateTimeoutSec: intOrDefault("RAPPORT_GENERATE_TIMEOUT_SECONDS", 30),

		SummaryWorkers:     intOrDefault("RAPPORT_SUMMARY_WORKERS", 2),
		DecaySchedule:      stringOrDefault("RAPPORT_DECAY_SCHEDULE", "0 4 * * *"),
		DecayTimezone:      stringOrDefault("RAPPORT_DECAY_TIMEZONE", "UTC"),
		DecayDaysToKeep:    intOrDefault("RAPPORT_DECAY_DAYS_TO_KEEP", 30),
		DecayMinSimilarity: unitFloatOrDefault("RAPPORT_DECAY_MIN_SIMILARITY", 0.3),

		PolicyFile:  strings.TrimSpace(os.Getenv("RAPPORT_POLICY_FILE")),
		PolicyWatch: boolOrDefault("RAPPORT_POLICY_WATCH", true),

		HeartbeatEnabled:     boolOrDefault("RAPPORT_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("RAPPORT_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("RAPPORT_HEARTBEAT_STALE_SECONDS", 120),

		APIURL:           stringOrDefault("RAPPORT_API_URL", "http://localhost:8080"),
		APITLSSkipVerify: boolOrDefault("RAPPORT_API_TLS_SKIP_VERIFY", false),
		APITLSCAFile:     strings.TrimSpace(os.Getenv("RAPPORT_API_TLS_CA_FILE")),
		APITLSCertFile:   strings.TrimSpace(os.Getenv("RAPPORT_API_TLS_CERT_FILE")),
		APITLSKeyFile:    strings.TrimSpace(os.Getenv("RAPPORT_API_TLS_KEY_FILE")),
		APITimeoutSec:    intOrDefault("RAPPORT_API_TIMEOUT_SECONDS", 60),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// unitFloatOrDefault reads a value in [0, 1].
func unitFloatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func providerOrDefault(name, fallback string, allowed ...string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
}
