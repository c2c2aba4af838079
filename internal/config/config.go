// Package config loads runtime configuration from the environment. Missing
// required configuration fails fast at startup with a clear diagnostic,
// per spec §6.
package config

type PostgresConfig struct {
	DSN string
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Dimensions int
	Metric     string // cosine|l2|ip
}

type RedisConfig struct {
	Addr string
}

type ProviderConfig struct {
	Name    string // anthropic|openai|google
	APIKey  string
	Model   string
	BaseURL string
}

// LLMChainConfig orders providers for C8's fallback cascade. The first
// reachable, non-exhausted provider serves the request. Name must be one of
// "anthropic", "openai", or "google"; the gateway
// looks up the provider-specific config block by that name.
type LLMChainConfig struct {
	Chain []ProviderConfig
}

// AnthropicPromptCacheConfig controls Anthropic prompt caching scope.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
}

type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type EmbeddingConfig struct {
	Provider   string // openai (the only embedder embedding.New builds)
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
	CacheSize  int // LRU entries, 0 disables the cache
}

type FeatureFlags struct {
	EnableVerifier        bool
	EnableGraphExpansion  bool
	EnableGoldenRouteCache bool
}

type RetrievalConfig struct {
	DefaultK            int
	DefaultAlpha        float64 // RRF weight toward full-text vs vector
	RRFK                int
	RerankEarlyExitScore float64 // skip reranking above this score
	GoldenRouteThreshold float64 // cosine similarity threshold for route-cache hits
	GraphExpandTopN      int
	GraphExpandMaxHops   int
}

type OrchestratorConfig struct {
	StepBudget              int
	PerToolTimeoutSeconds   int
	PerLLMCallTimeoutSeconds int
	PerTurnTimeoutSeconds   int
	PerRequestTimeoutSeconds int
	MaxToolParallelism      int
}

type SchedulerConfig struct {
	GracePeriodSeconds int
}

type Config struct {
	Postgres     PostgresConfig
	Qdrant       QdrantConfig
	Redis        RedisConfig
	LLM          LLMChainConfig
	Anthropic    AnthropicConfig
	OpenAI       OpenAIConfig
	Google       GoogleConfig
	Embedding    EmbeddingConfig
	Features     FeatureFlags
	Retrieval    RetrievalConfig
	Orchestrator OrchestratorConfig
	Scheduler    SchedulerConfig
	LogLevel     string
}
