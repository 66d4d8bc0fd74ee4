package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all stage0 configuration.
type Config struct {
	Enabled   bool            `toml:"enabled"`
	Database  DatabaseConfig  `toml:"database"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	LLM       LLMConfig       `toml:"llm"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Context   ContextConfig   `toml:"context"`
	Tier2     Tier2Config     `toml:"tier2"`
	Guardians GuardianConfig  `toml:"guardians"`
}

type DatabaseConfig struct {
	OverlayPath string `toml:"overlay_path"` // resolved at runtime via store.DefaultDBPath() when empty
}

type KnowledgeConfig struct {
	Backend string `toml:"backend"` // "sqlite" or "http"
	Path    string `toml:"path"`
	URL     string `toml:"url"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

type LLMConfig struct {
	Provider     string `toml:"provider"` // "claude-cli", "anthropic", "openai", "ollama"
	Model        string `toml:"model"`
	MaxTokens    int    `toml:"max_tokens"`
	AnthropicKey string `toml:"anthropic_key"`
	OpenAIKey    string `toml:"openai_key"`
	OllamaURL    string `toml:"ollama_url"`
	OllamaModel  string `toml:"ollama_model"`
}

type ScoringConfig struct {
	UsageWeight           float64  `toml:"usage_weight"`
	RecencyWeight         float64  `toml:"recency_weight"`
	PriorityWeight        float64  `toml:"priority_weight"`
	DecayWeight           float64  `toml:"decay_weight"`
	NoveltyBoostThreshold int      `toml:"novelty_boost_threshold"`
	NoveltyBoostFactorMax float64  `toml:"novelty_boost_factor_max"`
	UsageSaturation       int      `toml:"usage_saturation"`
	RecencyHalfLifeDays   float64  `toml:"recency_half_life_days"`
	DecayHalfLifeDays     float64  `toml:"decay_half_life_days"`
	RecalculationInterval Duration `toml:"recalculation_interval"`
}

type ContextConfig struct {
	MaxTokens                int     `toml:"max_tokens"`
	TopK                     int     `toml:"top_k"`
	PreFilterLimit           int     `toml:"pre_filter_limit"`
	SemanticSimilarityWeight float64 `toml:"semantic_similarity_weight"`
	DynamicScoreWeight       float64 `toml:"dynamic_score_weight"`
	DiversityLambda          float64 `toml:"diversity_lambda"`
	OptionalTagBoost         float64 `toml:"optional_tag_boost"` // added to combined when every optional tag matches
	Explain                  bool    `toml:"explain"`
	CodeEnabled              bool    `toml:"code_enabled"`
	CodeRoot                 string  `toml:"code_root"`
	CodeTopK                 int     `toml:"code_top_k"`
	IntentExtractor          string  `toml:"intent_extractor"` // "heuristic" or "llm"
	Backend                  string  `toml:"backend"`          // "lexical" or "hybrid"
	HybridLexicalWeight      float64 `toml:"hybrid_lexical_weight"`
	EmbedURL                 string  `toml:"embed_url"`
	EmbedModel               string  `toml:"embed_model"`
}

type Tier2Config struct {
	Enabled         bool     `toml:"enabled"`
	Provider        string   `toml:"provider"` // llm provider name; empty reuses [llm]
	Model           string   `toml:"model"`
	CallTimeout     Duration `toml:"call_timeout"`
	DailyQuota      int      `toml:"daily_quota"` // <= 0 means unlimited
	CacheTTLHours   int      `toml:"cache_ttl_hours"`
	MaxOutputTokens int      `toml:"max_output_tokens"`
}

type GuardianConfig struct {
	StrictMetadata  bool   `toml:"strict_metadata"`
	DefaultPriority int    `toml:"default_priority"`
	DefaultAgent    string `toml:"default_agent"`
}

// Duration is a time.Duration that decodes from TOML strings like "6h" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with the stage0 defaults.
func Default() Config {
	return Config{
		Enabled: true,
		Knowledge: KnowledgeConfig{
			Backend: "sqlite",
		},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider:  "claude-cli",
			Model:     "haiku",
			MaxTokens: 2048,
		},
		Scoring: ScoringConfig{
			UsageWeight:           0.30,
			RecencyWeight:         0.30,
			PriorityWeight:        0.25,
			DecayWeight:           0.15,
			NoveltyBoostThreshold: 5,
			NoveltyBoostFactorMax: 0.5,
			UsageSaturation:       5,
			RecencyHalfLifeDays:   7,
			DecayHalfLifeDays:     30,
			RecalculationInterval: Duration{6 * time.Hour},
		},
		Context: ContextConfig{
			MaxTokens:                8000,
			TopK:                     15,
			PreFilterLimit:           150,
			SemanticSimilarityWeight: 0.60,
			DynamicScoreWeight:       0.40,
			DiversityLambda:          0.70,
			OptionalTagBoost:         0.05,
			CodeTopK:                 10,
			IntentExtractor:          "heuristic",
			Backend:                  "lexical",
			HybridLexicalWeight:      0.5,
			EmbedURL:                 "http://localhost:11434",
			EmbedModel:               "nomic-embed-text",
		},
		Tier2: Tier2Config{
			Enabled:         true,
			CallTimeout:     Duration{30 * time.Second},
			DailyQuota:      50,
			CacheTTLHours:   24,
			MaxOutputTokens: 4096,
		},
		Guardians: GuardianConfig{
			StrictMetadata:  true,
			DefaultPriority: 7,
		},
	}
}

// DefaultPath returns the default config path: ~/.stage0/stage0.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".stage0", "stage0.toml"), nil
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STAGE0_OVERLAY_DB"); v != "" {
		c.Database.OverlayPath = v
	}
	if v := os.Getenv("STAGE0_KNOWLEDGE_DB"); v != "" {
		c.Knowledge.Backend = "sqlite"
		c.Knowledge.Path = v
	}
	if v := os.Getenv("STAGE0_KNOWLEDGE_URL"); v != "" {
		c.Knowledge.Backend = "http"
		c.Knowledge.URL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicKey = v
		if c.LLM.Provider == "claude-cli" {
			c.LLM.Provider = "anthropic"
			c.LLM.Model = ""
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("STAGE0_TIER2_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tier2.Enabled = b
		}
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// CacheTTL returns the Tier2 cache time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Tier2.CacheTTLHours) * time.Hour
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	s := c.Scoring
	for name, w := range map[string]float64{
		"scoring.usage_weight":               s.UsageWeight,
		"scoring.recency_weight":             s.RecencyWeight,
		"scoring.priority_weight":            s.PriorityWeight,
		"scoring.decay_weight":               s.DecayWeight,
		"scoring.novelty_boost_factor_max":   s.NoveltyBoostFactorMax,
		"context.semantic_similarity_weight": c.Context.SemanticSimilarityWeight,
		"context.dynamic_score_weight":       c.Context.DynamicScoreWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", name, w)
		}
	}
	if s.NoveltyBoostThreshold < 0 {
		return fmt.Errorf("scoring.novelty_boost_threshold must be non-negative, got %d", s.NoveltyBoostThreshold)
	}
	if s.RecencyHalfLifeDays <= 0 || s.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("scoring half-lives must be positive")
	}
	if c.Context.DiversityLambda < 0 || c.Context.DiversityLambda > 1 {
		return fmt.Errorf("context.diversity_lambda must be in [0,1], got %v", c.Context.DiversityLambda)
	}
	if c.Context.TopK <= 0 {
		return fmt.Errorf("context.top_k must be positive, got %d", c.Context.TopK)
	}
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive, got %d", c.Context.MaxTokens)
	}
	if c.Context.PreFilterLimit <= 0 {
		return fmt.Errorf("context.pre_filter_limit must be positive, got %d", c.Context.PreFilterLimit)
	}
	if c.Tier2.CacheTTLHours <= 0 {
		return fmt.Errorf("tier2.cache_ttl_hours must be positive, got %d", c.Tier2.CacheTTLHours)
	}
	if c.Tier2.CallTimeout.Duration <= 0 {
		return fmt.Errorf("tier2.call_timeout must be positive")
	}
	if p := c.Guardians.DefaultPriority; p < 1 || p > 10 {
		return fmt.Errorf("guardians.default_priority must be in 1..10, got %d", p)
	}
	switch c.Context.Backend {
	case "lexical", "hybrid":
	default:
		return fmt.Errorf("unknown context backend: %q", c.Context.Backend)
	}
	switch c.Context.IntentExtractor {
	case "heuristic", "llm":
	default:
		return fmt.Errorf("unknown intent extractor: %q", c.Context.IntentExtractor)
	}
	if b := c.Context.OptionalTagBoost; b < 0 || b > 1 {
		return fmt.Errorf("context.optional_tag_boost must be in [0,1], got %v", b)
	}
	if w := c.Context.HybridLexicalWeight; w < 0 || w > 1 {
		return fmt.Errorf("context.hybrid_lexical_weight must be in [0,1], got %v", w)
	}
	switch c.Knowledge.Backend {
	case "sqlite", "http":
	default:
		return fmt.Errorf("unknown knowledge backend: %q", c.Knowledge.Backend)
	}
	return nil
}
