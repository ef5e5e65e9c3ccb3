package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the venuesearch configuration.
type Config struct {
	HTTP           HTTPConfig       `yaml:"http"`
	Auth           AuthConfig       `yaml:"auth"`
	Database       DatabaseConfig   `yaml:"database"`
	Embedding      EmbeddingConfig  `yaml:"embedding"`
	Completion     CompletionConfig `yaml:"completion"`
	Index          IndexConfig      `yaml:"index"`
	Cache          CacheConfig      `yaml:"cache"`
	Ranking        RankingConfig    `yaml:"ranking"`
	Pipeline       PipelineConfig   `yaml:"pipeline"`
	VocabularyPath string           `yaml:"vocabulary_path"`
	Logging        LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"` // empty disables authentication
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // metrics label
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// CompletionConfig holds completion provider settings.
type CompletionConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	Temperature float32 `yaml:"temperature"`
}

// IndexConfig holds venue index and retrieval settings.
type IndexConfig struct {
	Name              string  `yaml:"name"`
	HNSWM             int     `yaml:"hnsw_m"`
	HNSWEFConstruct   int     `yaml:"hnsw_ef_construction"`
	HNSWInitialCap    int     `yaml:"hnsw_initial_cap"`
	EFRuntime         int     `yaml:"ef_runtime"`
	CandidateLimit    int     `yaml:"candidate_limit"`
	MaxCandidateLimit int     `yaml:"max_candidate_limit"`
	MinCandidates     int     `yaml:"min_candidates"`
	RegionExpansion   float64 `yaml:"region_expansion"`
	RegionFloorMeters float64 `yaml:"region_floor_m"`
	MaxWidenings      int     `yaml:"max_widenings"`
	DefaultRadius     float64 `yaml:"default_radius_m"`
}

// CacheConfig holds two-tier cache settings.
type CacheConfig struct {
	LocalSize        int           `yaml:"local_size"`
	LocalTTL         time.Duration `yaml:"local_ttl"`
	EmbeddingTTL     time.Duration `yaml:"embedding_ttl"`
	QueryTTL         time.Duration `yaml:"query_ttl"`
	DegradedQueryTTL time.Duration `yaml:"degraded_query_ttl"` // heuristic or embedding-less parses
	ResultsTTL       time.Duration `yaml:"results_ttl"`
	PlaceTTL         time.Duration `yaml:"place_ttl"`
}

// WeightsConfig holds the hybrid score weights. They must sum to 1.
type WeightsConfig struct {
	Semantic  float64 `yaml:"semantic"`
	Proximity float64 `yaml:"proximity"`
	Rating    float64 `yaml:"rating"`
	Price     float64 `yaml:"price"`
}

// Sum returns the total weight.
func (w WeightsConfig) Sum() float64 {
	return w.Semantic + w.Proximity + w.Rating + w.Price
}

// RankingConfig holds scorer settings.
type RankingConfig struct {
	Weights       WeightsConfig `yaml:"weights"`
	RatingMax     float64       `yaml:"rating_max"`
	NeutralRating float64       `yaml:"neutral_rating"` // normalized, used for unrated venues
	PriceDecay    float64       `yaml:"price_decay"`    // per tier of deviation
}

// PipelineConfig holds extraction pipeline settings.
type PipelineConfig struct {
	Workers           int           `yaml:"workers"` // 0 runs the API only
	Stream            string        `yaml:"stream"`
	Group             string        `yaml:"group"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	LeaseTTL          time.Duration `yaml:"lease_ttl"`
	ClaimIdle         time.Duration `yaml:"claim_idle"`
	BlockTimeout      time.Duration `yaml:"block_timeout"`
	LivenessWindow    time.Duration `yaml:"liveness_window"`
	MinSamples        int           `yaml:"min_samples"`
	HalfLife          time.Duration `yaml:"half_life"`
	OutlierDeviations float64       `yaml:"outlier_deviations"`
	ConfidencePrior   float64       `yaml:"confidence_prior"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	c.applyHTTPDefaults()
	c.applyProviderDefaults()
	c.applyIndexDefaults()
	c.applyCacheDefaults()
	c.applyRankingDefaults()
	c.applyPipelineDefaults()
	if c.VocabularyPath == "" {
		c.VocabularyPath = filepath.Join("config", "vocabulary.yaml")
	}
}

func (c *Config) applyHTTPDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "venuesearch:"
	}
}

func (c *Config) applyProviderDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 3
	}
	if c.Completion.Provider == "" {
		c.Completion.Provider = "openai"
	}
	if c.Completion.TimeoutSec <= 0 {
		c.Completion.TimeoutSec = 5
	}
}

func (c *Config) applyIndexDefaults() {
	ix := &c.Index
	if ix.Name == "" {
		ix.Name = "venues-idx"
	}
	if ix.HNSWM <= 0 {
		ix.HNSWM = 16
	}
	if ix.HNSWEFConstruct <= 0 {
		ix.HNSWEFConstruct = 200
	}
	if ix.EFRuntime <= 0 {
		ix.EFRuntime = 64
	}
	if ix.CandidateLimit <= 0 {
		ix.CandidateLimit = 150
	}
	if ix.MaxCandidateLimit <= 0 {
		ix.MaxCandidateLimit = 200
	}
	if ix.MinCandidates <= 0 {
		ix.MinCandidates = 10
	}
	if ix.RegionExpansion <= 0 {
		ix.RegionExpansion = 1.5
	}
	if ix.RegionFloorMeters <= 0 {
		ix.RegionFloorMeters = 2000
	}
	if ix.MaxWidenings <= 0 {
		ix.MaxWidenings = 2
	}
	if ix.DefaultRadius <= 0 {
		ix.DefaultRadius = 1500
	}
}

func (c *Config) applyCacheDefaults() {
	cc := &c.Cache
	if cc.LocalSize <= 0 {
		cc.LocalSize = 10_000
	}
	if cc.LocalTTL <= 0 {
		cc.LocalTTL = time.Minute
	}
	if cc.EmbeddingTTL <= 0 {
		cc.EmbeddingTTL = 24 * time.Hour
	}
	if cc.QueryTTL <= 0 {
		cc.QueryTTL = 6 * time.Hour
	}
	if cc.DegradedQueryTTL <= 0 {
		cc.DegradedQueryTTL = 30 * time.Second
	}
	if cc.ResultsTTL <= 0 {
		cc.ResultsTTL = 5 * time.Minute
	}
	if cc.PlaceTTL <= 0 {
		cc.PlaceTTL = 24 * time.Hour
	}
}

func (c *Config) applyRankingDefaults() {
	r := &c.Ranking
	if r.Weights == (WeightsConfig{}) {
		r.Weights = WeightsConfig{Semantic: 0.40, Proximity: 0.30, Rating: 0.20, Price: 0.10}
	}
	if r.RatingMax <= 0 {
		r.RatingMax = 5
	}
	if r.NeutralRating <= 0 {
		r.NeutralRating = 0.5
	}
	if r.PriceDecay <= 0 {
		r.PriceDecay = 0.35
	}
}

func (c *Config) applyPipelineDefaults() {
	p := &c.Pipeline
	if p.Stream == "" {
		p.Stream = "reviews:extract"
	}
	if p.Group == "" {
		p.Group = "extractors"
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = 2 * time.Minute
	}
	if p.ClaimIdle <= 0 {
		p.ClaimIdle = 5 * time.Minute
	}
	if p.BlockTimeout <= 0 {
		p.BlockTimeout = 5 * time.Second
	}
	if p.LivenessWindow <= 0 {
		p.LivenessWindow = 15 * time.Minute
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 3
	}
	if p.HalfLife <= 0 {
		p.HalfLife = 30 * 24 * time.Hour
	}
	if p.OutlierDeviations <= 0 {
		p.OutlierDeviations = 2.0
	}
	if p.ConfidencePrior <= 0 {
		p.ConfidencePrior = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("completion.model is required")
	}
	if c.Index.CandidateLimit > c.Index.MaxCandidateLimit {
		return fmt.Errorf("index.candidate_limit %d exceeds index.max_candidate_limit %d",
			c.Index.CandidateLimit, c.Index.MaxCandidateLimit)
	}
	if c.Index.RegionExpansion < 1 {
		return fmt.Errorf("index.region_expansion must be >= 1, got %g", c.Index.RegionExpansion)
	}
	w := c.Ranking.Weights
	if w.Semantic < 0 || w.Proximity < 0 || w.Rating < 0 || w.Price < 0 {
		return fmt.Errorf("ranking.weights must be non-negative")
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return fmt.Errorf("ranking.weights must sum to 1, got %g", w.Sum())
	}
	if c.Ranking.NeutralRating > 1 {
		return fmt.Errorf("ranking.neutral_rating must be in (0,1], got %g", c.Ranking.NeutralRating)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.BaseBackoff > c.Pipeline.MaxBackoff {
		return fmt.Errorf("pipeline.base_backoff must not exceed pipeline.max_backoff")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
