// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	SUL() SULConfig
	Limits() LimitsConfig
	Cache() CacheConfig
	Timeout() TimeoutConfig
	Learner() LearnerConfig
	Alphabet() AlphabetConfig
	Analysis() AnalysisConfig
	Metrics() MetricsConfig
	Compare() CompareConfig

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Learner Setters
	SetLearnerEquivalence(string)

	// Limits Setters
	SetLimitsMaxQueries(int)
	SetLimitsMaxDuration(time.Duration)
}

// Config holds the entire application configuration. Sections are exported so viper can
// unmarshal into them; consumers should go through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	SULCfg      SULConfig      `mapstructure:"sul" yaml:"sul"`
	LimitsCfg   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	CacheCfg    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	TimeoutCfg  TimeoutConfig  `mapstructure:"timeout" yaml:"timeout"`
	LearnerCfg  LearnerConfig  `mapstructure:"learner" yaml:"learner"`
	AlphabetCfg AlphabetConfig `mapstructure:"alphabet" yaml:"alphabet"`
	AnalysisCfg AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	CompareCfg  CompareConfig  `mapstructure:"compare" yaml:"compare"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) SUL() SULConfig           { return c.SULCfg }
func (c *Config) Limits() LimitsConfig     { return c.LimitsCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }
func (c *Config) Timeout() TimeoutConfig   { return c.TimeoutCfg }
func (c *Config) Learner() LearnerConfig   { return c.LearnerCfg }
func (c *Config) Alphabet() AlphabetConfig { return c.AlphabetCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) Compare() CompareConfig   { return c.CompareCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int)      { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetLearnerEquivalence(s string)        { c.LearnerCfg.Equivalence = s }
func (c *Config) SetLimitsMaxQueries(n int)             { c.LimitsCfg.MaxQueries = n }
func (c *Config) SetLimitsMaxDuration(d time.Duration) { c.LimitsCfg.MaxDuration = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the task processing engine.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// SULConfig configures how the system under learning is driven.
type SULConfig struct {
	// RateLimit caps symbols per second sent to the target (0 disables pacing).
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
	// PollInterval is the sleep between socket state re-evaluations.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// OpenRetries bounds the backoff attempts for opening one session.
	OpenRetries        uint64        `mapstructure:"open_retries" yaml:"open_retries"`
	OpenBackoffInitial time.Duration `mapstructure:"open_backoff_initial" yaml:"open_backoff_initial"`
	OpenBackoffMax     time.Duration `mapstructure:"open_backoff_max" yaml:"open_backoff_max"`
	// BlacklistAfter consecutive failed opens marks the target as probably blacklisted.
	BlacklistAfter int `mapstructure:"blacklist_after" yaml:"blacklist_after"`
	// Noise and Latency only apply to the simulated executor.
	Noise   float64       `mapstructure:"noise" yaml:"noise"`
	Latency time.Duration `mapstructure:"latency" yaml:"latency"`
	Seed    int64         `mapstructure:"seed" yaml:"seed"`
}

// LimitsConfig holds the hard resource caps of one extraction session. Zero disables a cap.
type LimitsConfig struct {
	MaxQueries     int           `mapstructure:"max_queries" yaml:"max_queries"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxDuration    time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// ConfirmDivisor re-confirms cached empty responses with probability 1/ConfirmDivisor.
	ConfirmDivisor int `mapstructure:"confirm_divisor" yaml:"confirm_divisor"`
	// ForbiddenAfter lists "PREV>NEXT" word-name pairs whose occurrence marks the rest of the
	// path as an illegal learner transition.
	ForbiddenAfter []string `mapstructure:"forbidden_after" yaml:"forbidden_after"`
	Seed           int64    `mapstructure:"seed" yaml:"seed"`
}

// TimeoutConfig configures the adaptive timeout controller.
type TimeoutConfig struct {
	Policy          string        `mapstructure:"policy" yaml:"policy"`
	Initial         time.Duration `mapstructure:"initial" yaml:"initial"`
	Max             time.Duration `mapstructure:"max" yaml:"max"`
	Step            time.Duration `mapstructure:"step" yaml:"step"`
	WindowSize      int           `mapstructure:"window_size" yaml:"window_size"`
	CoolDown        int           `mapstructure:"cool_down" yaml:"cool_down"`
	WindowThreshold int           `mapstructure:"window_threshold" yaml:"window_threshold"`
	IncreaseRatio   float64       `mapstructure:"increase_ratio" yaml:"increase_ratio"`
	DecayRatio      float64       `mapstructure:"decay_ratio" yaml:"decay_ratio"`
	MinQueries      int           `mapstructure:"min_queries" yaml:"min_queries"`
	SuggestionBase  int           `mapstructure:"suggestion_base" yaml:"suggestion_base"`
	SuggestionStep  int           `mapstructure:"suggestion_step" yaml:"suggestion_step"`
}

// LearnerConfig configures the learning loop and the equivalence oracle chain.
type LearnerConfig struct {
	// Equivalence selects the general-purpose stage: "random" or "wmethod".
	Equivalence         string `mapstructure:"equivalence" yaml:"equivalence"`
	RandomWords         int    `mapstructure:"random_words" yaml:"random_words"`
	RandomMinLength     int    `mapstructure:"random_min_length" yaml:"random_min_length"`
	RandomMaxLength     int    `mapstructure:"random_max_length" yaml:"random_max_length"`
	WMethodDepth        int    `mapstructure:"wmethod_depth" yaml:"wmethod_depth"`
	Seed                int64  `mapstructure:"seed" yaml:"seed"`
	MajorityVotes       int    `mapstructure:"majority_votes" yaml:"majority_votes"`
	MaxConflictRestarts int    `mapstructure:"max_conflict_restarts" yaml:"max_conflict_restarts"`
	MaxRounds           int    `mapstructure:"max_rounds" yaml:"max_rounds"`
	// HappyFlows are the hand-written sequences checked first (word names, space separated).
	HappyFlows []string `mapstructure:"happy_flows" yaml:"happy_flows"`
}

// AlphabetConfig lists the alphabet files escalated through by the iterative extractor.
type AlphabetConfig struct {
	Files        []string `mapstructure:"files" yaml:"files"`
	MaxAlphabets int      `mapstructure:"max_alphabets" yaml:"max_alphabets"`
}

// AnalysisConfig configures the classifiers.
type AnalysisConfig struct {
	FlowsFile   string `mapstructure:"flows_file" yaml:"flows_file"`
	MaxFindings int    `mapstructure:"max_findings" yaml:"max_findings"`
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsConfig configures the prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// CompareConfig configures batch model comparison.
type CompareConfig struct {
	Concurrency int     `mapstructure:"concurrency" yaml:"concurrency"`
	Threshold   float64 `mapstructure:"threshold" yaml:"threshold"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stateprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "30m")

	// -- SUL --
	v.SetDefault("sul.rate_limit", 0.0)
	v.SetDefault("sul.burst", 1)
	v.SetDefault("sul.poll_interval", "100ms")
	v.SetDefault("sul.open_retries", 3)
	v.SetDefault("sul.open_backoff_initial", "200ms")
	v.SetDefault("sul.open_backoff_max", "5s")
	v.SetDefault("sul.blacklist_after", 5)
	v.SetDefault("sul.noise", 0.0)
	v.SetDefault("sul.latency", "0s")
	v.SetDefault("sul.seed", 1)

	// -- Limits --
	v.SetDefault("limits.max_queries", 0)
	v.SetDefault("limits.max_connections", 0)
	v.SetDefault("limits.max_duration", "0s")

	// -- Cache --
	v.SetDefault("cache.confirm_divisor", 0)
	v.SetDefault("cache.forbidden_after", []string{})
	v.SetDefault("cache.seed", 1)

	// -- Timeout --
	v.SetDefault("timeout.policy", "windowed")
	v.SetDefault("timeout.initial", "100ms")
	v.SetDefault("timeout.max", "2s")
	v.SetDefault("timeout.step", "10ms")
	v.SetDefault("timeout.window_size", 200)
	v.SetDefault("timeout.cool_down", 50)
	v.SetDefault("timeout.window_threshold", 2)
	v.SetDefault("timeout.increase_ratio", 0.005)
	v.SetDefault("timeout.decay_ratio", 0.003)
	v.SetDefault("timeout.min_queries", 20)
	v.SetDefault("timeout.suggestion_base", 3)
	v.SetDefault("timeout.suggestion_step", 2)

	// -- Learner --
	v.SetDefault("learner.equivalence", "random")
	v.SetDefault("learner.random_words", 500)
	v.SetDefault("learner.random_min_length", 2)
	v.SetDefault("learner.random_max_length", 8)
	v.SetDefault("learner.wmethod_depth", 1)
	v.SetDefault("learner.seed", 42)
	v.SetDefault("learner.majority_votes", 5)
	v.SetDefault("learner.max_conflict_restarts", 25)
	v.SetDefault("learner.max_rounds", 200)
	v.SetDefault("learner.happy_flows", []string{})

	// -- Alphabet --
	v.SetDefault("alphabet.files", []string{})
	v.SetDefault("alphabet.max_alphabets", 0)

	// -- Analysis --
	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.flows_file", "")
	v.SetDefault("analysis.max_findings", 500)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	// -- Compare --
	v.SetDefault("compare.concurrency", 4)
	v.SetDefault("compare.threshold", 0.9)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "STATEPROBE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.TimeoutCfg.Validate(); err != nil {
		return fmt.Errorf("timeout configuration invalid: %w", err)
	}
	if err := c.LearnerCfg.Validate(); err != nil {
		return fmt.Errorf("learner configuration invalid: %w", err)
	}
	if c.CacheCfg.ConfirmDivisor < 0 {
		return fmt.Errorf("cache.confirm_divisor must not be negative")
	}
	if c.SULCfg.Noise < 0 || c.SULCfg.Noise > 1 {
		return fmt.Errorf("sul.noise must be between 0.0 and 1.0")
	}
	if c.CompareCfg.Concurrency <= 0 {
		return fmt.Errorf("compare.concurrency must be a positive integer")
	}
	if c.CompareCfg.Threshold < 0 || c.CompareCfg.Threshold > 1 {
		return fmt.Errorf("compare.threshold must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the TimeoutConfig settings.
func (t *TimeoutConfig) Validate() error {
	switch t.Policy {
	case "windowed", "ratio":
	default:
		return fmt.Errorf("policy must be 'windowed' or 'ratio', got %q", t.Policy)
	}
	if t.Initial <= 0 {
		return fmt.Errorf("initial must be a positive duration")
	}
	if t.Max < t.Initial {
		return fmt.Errorf("max (%s) must not be below initial (%s)", t.Max, t.Initial)
	}
	if t.Step <= 0 {
		return fmt.Errorf("step must be a positive duration")
	}
	if t.WindowSize <= 0 {
		return fmt.Errorf("window_size must be a positive integer")
	}
	if t.WindowThreshold < 1 {
		return fmt.Errorf("window_threshold must be at least 1")
	}
	if t.DecayRatio > t.IncreaseRatio {
		return fmt.Errorf("decay_ratio must not exceed increase_ratio")
	}
	return nil
}

// Validate checks the LearnerConfig settings.
func (l *LearnerConfig) Validate() error {
	switch l.Equivalence {
	case "random", "wmethod":
	default:
		return fmt.Errorf("equivalence must be 'random' or 'wmethod', got %q", l.Equivalence)
	}
	if l.MajorityVotes < 1 {
		return fmt.Errorf("majority_votes must be at least 1")
	}
	if l.RandomMinLength > l.RandomMaxLength {
		return fmt.Errorf("random_min_length must not exceed random_max_length")
	}
	return nil
}
