// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the runtime configuration. The
// configuration comes from three layers, each overriding the previous:
// built-in defaults, an optional YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation.
var (
	ErrNoDataDir        = errors.New("data directory is required")
	ErrInvalidThreshold = errors.New("threshold out of range")
	ErrInvalidWeights   = errors.New("weights must be non-negative and sum > 0")
)

// Config is the complete runtime configuration.
type Config struct {
	// DataDir is the root of the persisted state tree. Every stateful
	// component writes beneath it.
	DataDir string `yaml:"data_dir"`

	// CredentialPath overrides the default vault location
	// (<data_dir>/credentials).
	CredentialPath string `yaml:"credential_path,omitempty"`

	Privacy  PrivacyConfig  `yaml:"privacy"`
	Memory   MemoryConfig   `yaml:"memory"`
	Gates    GatesConfig    `yaml:"gates"`
	Router   RouterConfig   `yaml:"router"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Feedback FeedbackConfig `yaml:"feedback"`
	API      APIConfig      `yaml:"api"`
	Events   EventsConfig   `yaml:"events"`
	Journal  JournalConfig  `yaml:"journal"`
}

// PrivacyConfig controls PII handling and the differential-privacy budget.
type PrivacyConfig struct {
	MaxEpsilon      float64 `yaml:"max_epsilon"`       // per-user daily epsilon cap
	MaxQueries      int     `yaml:"max_queries"`       // per-user daily query cap
	EpsilonPerQuery float64 `yaml:"epsilon_per_query"` // charged at pii-detection
	DefaultAction   string  `yaml:"default_action"`    // redact, mask, hash, tokenize, block
	MinConfidence   float64 `yaml:"min_confidence"`    // detections below this are dropped
}

// MemoryConfig controls the context store.
type MemoryConfig struct {
	MaxWindowTokens        int     `yaml:"max_window_tokens"`
	DecayHorizonDays       int     `yaml:"decay_horizon_days"`
	ConsolidationThreshold int     `yaml:"consolidation_threshold"` // unconsolidated entries per user
	VectorDim              int     `yaml:"vector_dim"`
	MinRelevance           float64 `yaml:"min_relevance"` // default search floor
}

// GatesConfig holds the four gate thresholds and the tribunal margin.
type GatesConfig struct {
	AutonomyDeltaMin   float64  `yaml:"autonomy_delta_min"`  // approved iff delta-agency >= this
	HumanityThreshold  float64  `yaml:"humanity_threshold"`
	OversightThreshold float64  `yaml:"oversight_threshold"`
	AlignmentThreshold float64  `yaml:"alignment_threshold"`
	TribunalMargin     float64  `yaml:"tribunal_margin"` // near-miss margin for overrides
	ProtectedPaths     []string `yaml:"protected_paths"`
}

// RouterConfig controls model selection, execution, and backpressure.
type RouterConfig struct {
	ReferenceCostUSD   float64       `yaml:"reference_cost_usd"` // cost-score normalizer
	PerformanceWindow  int           `yaml:"performance_window"` // rolling sample count
	BreakerMinCalls    uint32        `yaml:"breaker_min_calls"`
	BreakerErrorRatio  float64       `yaml:"breaker_error_ratio"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`
	LocalTimeout       time.Duration `yaml:"local_timeout"`
	RemoteTimeout      time.Duration `yaml:"remote_timeout"`
	FallbackOrder      []string      `yaml:"fallback_order"` // provider preference for cloud fallback
	MaxConcurrentCalls int64         `yaml:"max_concurrent_calls"`
}

// MonitorConfig controls ARI, EDM, and RDI measurement.
type MonitorConfig struct {
	ARIAgencyAlert     float64       `yaml:"ari_agency_alert"`   // alert when delta-agency below
	ARIBHIRAlert       float64       `yaml:"ari_bhir_alert"`     // alert when BHIR below
	ARISkillAlert      float64       `yaml:"ari_skill_alert"`    // alert when skill delta below
	ARIRelianceAlert   float64       `yaml:"ari_reliance_alert"` // alert when reliance above
	TrendCriticalAvg   float64       `yaml:"trend_critical_avg"` // window avg below forces critical
	CitationWindow     int           `yaml:"citation_window"`    // chars after a claim to scan for citations
	FactCheckTimeout   time.Duration `yaml:"fact_check_timeout"`
	FactCheckEndpoint  string        `yaml:"fact_check_endpoint,omitempty"`
	FactCheckAPIKey    string        `yaml:"-"` // env only, never persisted
	EncyclopediaURL    string        `yaml:"encyclopedia_url,omitempty"`
	AutoResolveVerified bool         `yaml:"auto_resolve_verified"`
	RDIWeights         RDIWeights    `yaml:"rdi_weights"`
	RDIExportOptIn     bool          `yaml:"rdi_export_opt_in"`
}

// RDIWeights combines the three drift sub-scores. They are normalized at
// load time.
type RDIWeights struct {
	Semantic float64 `yaml:"semantic"`
	Factual  float64 `yaml:"factual"`
	Logical  float64 `yaml:"logical"`
}

// FeedbackConfig controls the self-improvement loop.
type FeedbackConfig struct {
	MinFeedback            int           `yaml:"min_feedback"`
	NegativeRatio          float64       `yaml:"negative_ratio"`
	WindowDays             int           `yaml:"window_days"`
	AutoImplementThreshold float64       `yaml:"auto_implement_threshold"`
	EvaluateInterval       time.Duration `yaml:"evaluate_interval"`
}

// APIConfig controls the collaborator HTTP server.
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	JWTSecret      string        `yaml:"-"` // env only, never persisted
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// EventsConfig controls the event bus and its optional external mirror.
type EventsConfig struct {
	BufferSize   int    `yaml:"buffer_size"`
	RedisAddr    string `yaml:"redis_addr,omitempty"` // empty disables the mirror
	RedisChannel string `yaml:"redis_channel,omitempty"`
}

// JournalConfig controls the optional SQL audit journal. With an empty DSN
// the journal degrades to a no-op and audit entries only reach the log.
type JournalConfig struct {
	PostgresDSN string `yaml:"-"` // env only, never persisted
	QueueSize   int    `yaml:"queue_size"`
}

// DefaultConfig returns the built-in defaults. They describe a single-user,
// fully local runtime with no external services.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Privacy: PrivacyConfig{
			MaxEpsilon:      10.0,
			MaxQueries:      1000,
			EpsilonPerQuery: 0.1,
			DefaultAction:   "redact",
			MinConfidence:   0.5,
		},
		Memory: MemoryConfig{
			MaxWindowTokens:        4000,
			DecayHorizonDays:       90,
			ConsolidationThreshold: 50,
			VectorDim:              256,
			MinRelevance:           0.1,
		},
		Gates: GatesConfig{
			AutonomyDeltaMin:   -0.1,
			HumanityThreshold:  0.8,
			OversightThreshold: 0.5,
			AlignmentThreshold: 0.5,
			TribunalMargin:     0.15,
			ProtectedPaths:     nil,
		},
		Router: RouterConfig{
			ReferenceCostUSD:   0.10,
			PerformanceWindow:  100,
			BreakerMinCalls:    20,
			BreakerErrorRatio:  0.5,
			BreakerCooldown:    60 * time.Second,
			LocalTimeout:       60 * time.Second,
			RemoteTimeout:      30 * time.Second,
			FallbackOrder:      []string{"anthropic", "openai", "google", "mistral"},
			MaxConcurrentCalls: 8,
		},
		Monitor: MonitorConfig{
			ARIAgencyAlert:      -0.1,
			ARIBHIRAlert:        0.8,
			ARISkillAlert:       -0.15,
			ARIRelianceAlert:    0.9,
			TrendCriticalAvg:    -0.2,
			CitationWindow:      160,
			FactCheckTimeout:    10 * time.Second,
			AutoResolveVerified: true,
			RDIWeights:          RDIWeights{Semantic: 1, Factual: 1, Logical: 1},
			RDIExportOptIn:      false,
		},
		Feedback: FeedbackConfig{
			MinFeedback:            10,
			NegativeRatio:          0.3,
			WindowDays:             30,
			AutoImplementThreshold: 0.9,
			EvaluateInterval:       time.Minute,
		},
		API: APIConfig{
			ListenAddr:     ":8090",
			AllowedOrigins: []string{"http://localhost:3000"},
			RequestTimeout: 120 * time.Second,
		},
		Events: EventsConfig{
			BufferSize:   1024,
			RedisChannel: "symbiont:events",
		},
		Journal: JournalConfig{
			QueueSize: 10000,
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".symbiont")
	}
	return ".symbiont"
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads the environment variables the runtime honors.
// Secrets are only ever read from the environment.
func (c *Config) applyEnvOverrides() {
	c.DataDir = getEnvOrDefault("SYMBIONT_DATA_DIR", c.DataDir)
	c.CredentialPath = getEnvOrDefault("SYMBIONT_CREDENTIAL_PATH", c.CredentialPath)
	c.API.ListenAddr = getEnvOrDefault("SYMBIONT_LISTEN_ADDR", c.API.ListenAddr)
	c.API.JWTSecret = os.Getenv("SYMBIONT_JWT_SECRET")
	c.Events.RedisAddr = getEnvOrDefault("SYMBIONT_REDIS_ADDR", c.Events.RedisAddr)
	c.Journal.PostgresDSN = os.Getenv("SYMBIONT_AUDIT_DSN")
	c.Monitor.FactCheckAPIKey = os.Getenv("SYMBIONT_FACTCHECK_API_KEY")
	c.Monitor.FactCheckEndpoint = getEnvOrDefault("SYMBIONT_FACTCHECK_ENDPOINT", c.Monitor.FactCheckEndpoint)
	c.Monitor.EncyclopediaURL = getEnvOrDefault("SYMBIONT_ENCYCLOPEDIA_URL", c.Monitor.EncyclopediaURL)

	if v := os.Getenv("SYMBIONT_MAX_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Privacy.MaxEpsilon = f
		}
	}
	if v := os.Getenv("SYMBIONT_MAX_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Privacy.MaxQueries = n
		}
	}
	if v := os.Getenv("SYMBIONT_RDI_EXPORT_OPT_IN"); v != "" {
		c.Monitor.RDIExportOptIn = v == "true"
	}
}

// Validate checks cross-field constraints. It is called by Load and again
// by the watcher before applying a reloaded file.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	for name, v := range map[string]float64{
		"humanity_threshold":  c.Gates.HumanityThreshold,
		"oversight_threshold": c.Gates.OversightThreshold,
		"alignment_threshold": c.Gates.AlignmentThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidThreshold, name, v)
		}
	}
	if c.Privacy.MaxEpsilon <= 0 || c.Privacy.MaxQueries <= 0 {
		return fmt.Errorf("%w: privacy budget caps must be positive", ErrInvalidThreshold)
	}
	w := c.Monitor.RDIWeights
	if w.Semantic < 0 || w.Factual < 0 || w.Logical < 0 || w.Semantic+w.Factual+w.Logical == 0 {
		return ErrInvalidWeights
	}
	if c.Memory.MaxWindowTokens <= 0 {
		return fmt.Errorf("%w: max_window_tokens must be positive", ErrInvalidThreshold)
	}
	return nil
}

// CredentialFile resolves the vault path.
func (c *Config) CredentialFile() string {
	if c.CredentialPath != "" {
		return c.CredentialPath
	}
	return filepath.Join(c.DataDir, "credentials")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
