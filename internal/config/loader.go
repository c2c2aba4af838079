package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, overlaying a local
// .env file when present. Required keys are validated before return so
// misconfiguration surfaces at startup rather than mid-request.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL"))

	cfg.Qdrant.URL = strings.TrimSpace(os.Getenv("QDRANT_URL"))
	cfg.Qdrant.APIKey = strings.TrimSpace(os.Getenv("QDRANT_API_KEY"))
	cfg.Qdrant.Dimensions = intFromEnv("QDRANT_DIMENSIONS", 1536)
	cfg.Qdrant.Metric = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_METRIC")), "cosine")

	cfg.Redis.Addr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), "localhost:6379")

	cfg.LLM.Chain = parseLLMChain()

	cfg.Anthropic = AnthropicConfig{
		APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
		Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), "claude-3-5-sonnet-latest"),
		PromptCache: AnthropicPromptCacheConfig{
			Enabled:     boolFromEnv("ANTHROPIC_PROMPT_CACHE_ENABLED", true),
			CacheSystem: boolFromEnv("ANTHROPIC_PROMPT_CACHE_SYSTEM", true),
			CacheTools:  boolFromEnv("ANTHROPIC_PROMPT_CACHE_TOOLS", true),
		},
	}
	cfg.OpenAI = OpenAIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o-mini"),
	}
	cfg.Google = GoogleConfig{
		APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("GOOGLE_BASE_URL")),
		Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("GOOGLE_MODEL")), "gemini-1.5-flash"),
		Timeout: intFromEnv("GOOGLE_TIMEOUT_SECONDS", 60),
	}

	cfg.Embedding.Provider = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_PROVIDER")), "openai")
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_MODEL")), "text-embedding-3-small")
	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Dimensions = intFromEnv("EMBED_DIMENSIONS", 1536)
	cfg.Embedding.CacheSize = intFromEnv("EMBED_CACHE_SIZE", 10_000)

	cfg.Features.EnableVerifier = boolFromEnv("ENABLE_VERIFIER", false)
	cfg.Features.EnableGraphExpansion = boolFromEnv("ENABLE_GRAPH_EXPANSION", true)
	cfg.Features.EnableGoldenRouteCache = boolFromEnv("ENABLE_GOLDEN_ROUTE_CACHE", true)

	cfg.Retrieval.DefaultK = intFromEnv("RETRIEVAL_DEFAULT_K", 10)
	cfg.Retrieval.DefaultAlpha = floatFromEnv("RETRIEVAL_ALPHA", 0.5)
	cfg.Retrieval.RRFK = intFromEnv("RETRIEVAL_RRF_K", 60)
	cfg.Retrieval.RerankEarlyExitScore = floatFromEnv("RETRIEVAL_RERANK_EARLY_EXIT_SCORE", 0.92)
	cfg.Retrieval.GoldenRouteThreshold = floatFromEnv("RETRIEVAL_GOLDEN_ROUTE_THRESHOLD", 0.97)
	cfg.Retrieval.GraphExpandTopN = intFromEnv("RETRIEVAL_GRAPH_EXPAND_TOPN", 3)
	cfg.Retrieval.GraphExpandMaxHops = intFromEnv("RETRIEVAL_GRAPH_EXPAND_MAX_HOPS", 3)

	cfg.Orchestrator.StepBudget = intFromEnv("ORCHESTRATOR_STEP_BUDGET", 6)
	cfg.Orchestrator.PerToolTimeoutSeconds = intFromEnv("ORCHESTRATOR_TOOL_TIMEOUT_SECONDS", 20)
	cfg.Orchestrator.PerLLMCallTimeoutSeconds = intFromEnv("ORCHESTRATOR_LLM_TIMEOUT_SECONDS", 45)
	cfg.Orchestrator.PerTurnTimeoutSeconds = intFromEnv("ORCHESTRATOR_TURN_TIMEOUT_SECONDS", 90)
	cfg.Orchestrator.PerRequestTimeoutSeconds = intFromEnv("ORCHESTRATOR_REQUEST_TIMEOUT_SECONDS", 120)
	cfg.Orchestrator.MaxToolParallelism = intFromEnv("ORCHESTRATOR_MAX_TOOL_PARALLELISM", 4)

	cfg.Scheduler.GracePeriodSeconds = intFromEnv("SCHEDULER_GRACE_PERIOD_SECONDS", 30)

	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info")

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN (or DATABASE_URL) is required")
	}
	if cfg.Qdrant.URL == "" {
		return errors.New("QDRANT_URL is required")
	}
	if len(cfg.LLM.Chain) == 0 {
		return errors.New("no LLM provider configured: set at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY")
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		return errors.New("EMBED_API_KEY is required when EMBED_PROVIDER=openai")
	}
	return nil
}

// parseLLMChain builds the fallback chain in a fixed provider order:
// anthropic, openai, google. Only providers with an API key configured are
// included; their relative order is fixed so LLM_PROVIDER_ORDER can reorder
// it explicitly when set.
func parseLLMChain() []ProviderConfig {
	candidates := map[string]ProviderConfig{
		"anthropic": {
			Name:    "anthropic",
			APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), "claude-3-5-sonnet-latest"),
			BaseURL: strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
		},
		"openai": {
			Name:    "openai",
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o-mini"),
			BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		},
		"google": {
			Name:    "google",
			APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
			Model:   firstNonEmpty(strings.TrimSpace(os.Getenv("GOOGLE_MODEL")), "gemini-1.5-flash"),
			BaseURL: strings.TrimSpace(os.Getenv("GOOGLE_BASE_URL")),
		},
	}

	order := []string{"anthropic", "openai", "google"}
	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER_ORDER")); v != "" {
		order = parseCommaSeparatedList(v)
	}

	chain := make([]ProviderConfig, 0, len(order))
	for _, name := range order {
		p, ok := candidates[name]
		if !ok || p.APIKey == "" {
			continue
		}
		chain = append(chain, p)
	}
	return chain
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}
