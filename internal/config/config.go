package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Session       SessionConfig       `yaml:"session"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Insight       InsightConfig       `yaml:"insight"`
	Storage       StorageConfig       `yaml:"storage"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Simulation    SimulationConfig    `yaml:"simulation"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains control API, capture ingress and subscriber endpoint settings
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	MCPEnabled      bool   `yaml:"mcp_enabled"`
	MaxSubscribers  int    `yaml:"max_subscribers"`
	MaxCaptureConns int    `yaml:"max_capture_conns"`
}

// SessionConfig contains lifecycle and scheduling parameters
type SessionConfig struct {
	DrainTimeout    float64 `yaml:"drain_timeout"`    // seconds
	InsightInterval float64 `yaml:"insight_interval"` // seconds
	StallTimeout    float64 `yaml:"stall_timeout"`    // seconds
	RecentContext   float64 `yaml:"recent_context"`   // seconds of transcript fed to insights
	InsightTTL      float64 `yaml:"insight_ttl"`      // seconds
	SummaryTimeout  float64 `yaml:"summary_timeout"`  // seconds
}

// AudioConfig contains window assembly parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	WindowDuration    float64 `yaml:"window_duration"`  // seconds
	OverlapDuration   float64 `yaml:"overlap_duration"` // seconds
	MaxPendingWindows int     `yaml:"max_pending_windows"`
	SilenceThreshold  float64 `yaml:"silence_threshold"` // normalized RMS, 0 disables
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	Backend             string `yaml:"backend"` // "http" or "scripted"
	Endpoint            string `yaml:"endpoint"`
	APIKey              string `yaml:"api_key"`
	Model               string `yaml:"model"`
	Language            string `yaml:"language"`
	FallbackEndpoint    string `yaml:"fallback_endpoint"`
	FallbackModel       string `yaml:"fallback_model"`
	Timeout             int    `yaml:"timeout"` // seconds
	MaxRetries          int    `yaml:"max_retries"`
	MaxConcurrent       int    `yaml:"max_concurrent"`
	Workers             int    `yaml:"workers"`
	Diarization         string `yaml:"diarization"` // "labels", "gap" or "none"
	RepetitionThreshold int    `yaml:"repetition_threshold"`
}

// CompetitorEntry names a competitor and the aliases it is mentioned by
type CompetitorEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// ExtractionConfig contains entity extraction lexicons
type ExtractionConfig struct {
	Competitors   []CompetitorEntry `yaml:"competitors"`
	Products      []string          `yaml:"products"`
	Organizations []string          `yaml:"organizations"`
	People        []string          `yaml:"people"`
	Timeout       int               `yaml:"timeout"` // seconds
}

// ResearchConfig contains battlecard web research configuration
type ResearchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "gemini" or "scripted"
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// InsightConfig contains hint and battlecard provider configuration
type InsightConfig struct {
	Provider               string         `yaml:"provider"` // "agent", "gemini" or "scripted"
	Model                  string         `yaml:"model"`
	APIKey                 string         `yaml:"api_key"`
	BaseURL                string         `yaml:"base_url"`
	Timeout                int            `yaml:"timeout"` // seconds
	MaxTokens              int            `yaml:"max_tokens"`
	MaxHints               int            `yaml:"max_hints"`
	MaxConcurrent          int            `yaml:"max_concurrent"`
	PointWordBudget        int            `yaml:"point_word_budget"`
	MaxBattlecardsPerCycle int            `yaml:"max_battlecards_per_cycle"`
	Research               ResearchConfig `yaml:"research"`
}

// StorageConfig contains persistence sink configuration
type StorageConfig struct {
	Driver     string  `yaml:"driver"` // "sqlite" or "postgres"
	DSN        string  `yaml:"dsn"`
	QueueSize  int     `yaml:"queue_size"`
	MaxRetries int     `yaml:"max_retries"`
	RetryBase  float64 `yaml:"retry_base"` // seconds
	RetryMax   float64 `yaml:"retry_max"`  // seconds
}

// FanoutConfig contains subscriber delivery configuration
type FanoutConfig struct {
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	WriteTimeout     int    `yaml:"write_timeout"` // seconds
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisChannel     string `yaml:"redis_channel"`
}

// SimulationConfig contains the scripted demo session configuration
type SimulationConfig struct {
	ScriptPath    string `yaml:"script_path"`    // empty uses the built-in script
	FrameInterval int    `yaml:"frame_interval"` // milliseconds between synthetic audio frames
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML configuration, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero values with working defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.MaxSubscribers == 0 {
		c.HTTP.MaxSubscribers = 32
	}
	if c.HTTP.MaxCaptureConns == 0 {
		c.HTTP.MaxCaptureConns = 1
	}

	if c.Session.DrainTimeout == 0 {
		c.Session.DrainTimeout = 15
	}
	if c.Session.InsightInterval == 0 {
		c.Session.InsightInterval = 5
	}
	if c.Session.StallTimeout == 0 {
		c.Session.StallTimeout = 5
	}
	if c.Session.RecentContext == 0 {
		c.Session.RecentContext = 60
	}
	if c.Session.InsightTTL == 0 {
		c.Session.InsightTTL = 30
	}
	if c.Session.SummaryTimeout == 0 {
		c.Session.SummaryTimeout = 20
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	// An explicit window with no overlap is a valid setup, so the overlap
	// default only applies alongside the window default.
	if c.Audio.WindowDuration == 0 {
		c.Audio.WindowDuration = 10
		if c.Audio.OverlapDuration == 0 {
			c.Audio.OverlapDuration = 2
		}
	}
	if c.Audio.MaxPendingWindows == 0 {
		c.Audio.MaxPendingWindows = 4
	}

	if c.Transcription.Backend == "" {
		c.Transcription.Backend = "http"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 30
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 2
	}
	if c.Transcription.Workers == 0 {
		c.Transcription.Workers = 2
	}
	if c.Transcription.Diarization == "" {
		c.Transcription.Diarization = "labels"
	}
	if c.Transcription.RepetitionThreshold == 0 {
		c.Transcription.RepetitionThreshold = 3
	}

	if c.Extraction.Timeout == 0 {
		c.Extraction.Timeout = 5
	}

	if c.Insight.Provider == "" {
		c.Insight.Provider = "scripted"
	}
	if c.Insight.Timeout == 0 {
		c.Insight.Timeout = 20
	}
	if c.Insight.MaxTokens == 0 {
		c.Insight.MaxTokens = 400
	}
	if c.Insight.MaxHints == 0 {
		c.Insight.MaxHints = 3
	}
	if c.Insight.MaxConcurrent == 0 {
		c.Insight.MaxConcurrent = 2
	}
	if c.Insight.PointWordBudget == 0 {
		c.Insight.PointWordBudget = 12
	}
	if c.Insight.MaxBattlecardsPerCycle == 0 {
		c.Insight.MaxBattlecardsPerCycle = 2
	}
	if c.Insight.Research.Provider == "" {
		c.Insight.Research.Provider = "scripted"
	}
	if c.Insight.Research.Timeout == 0 {
		c.Insight.Research.Timeout = 30
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "file:meeting-monitor.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 512
	}
	if c.Storage.MaxRetries == 0 {
		c.Storage.MaxRetries = 5
	}
	if c.Storage.RetryBase == 0 {
		c.Storage.RetryBase = 0.2
	}
	if c.Storage.RetryMax == 0 {
		c.Storage.RetryMax = 5
	}

	if c.Fanout.SubscriberBuffer == 0 {
		c.Fanout.SubscriberBuffer = 256
	}
	if c.Fanout.WriteTimeout == 0 {
		c.Fanout.WriteTimeout = 5
	}
	if c.Fanout.RedisChannel == "" {
		c.Fanout.RedisChannel = "meeting-monitor:events"
	}

	if c.Simulation.FrameInterval == 0 {
		c.Simulation.FrameInterval = 100
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction config: %w", err)
	}

	if err := c.Insight.Validate(); err != nil {
		return fmt.Errorf("insight config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Fanout.Validate(); err != nil {
		return fmt.Errorf("fanout config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.MaxSubscribers < 1 {
		return fmt.Errorf("max_subscribers must be at least 1, got %d", h.MaxSubscribers)
	}

	if h.MaxCaptureConns < 1 {
		return fmt.Errorf("max_capture_conns must be at least 1, got %d", h.MaxCaptureConns)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", s.DrainTimeout)
	}

	if s.InsightInterval <= 0 {
		return fmt.Errorf("insight_interval must be positive, got %f", s.InsightInterval)
	}

	if s.StallTimeout <= 0 {
		return fmt.Errorf("stall_timeout must be positive, got %f", s.StallTimeout)
	}

	if s.RecentContext <= 0 {
		return fmt.Errorf("recent_context must be positive, got %f", s.RecentContext)
	}

	if s.InsightTTL <= 0 {
		return fmt.Errorf("insight_ttl must be positive, got %f", s.InsightTTL)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 24000, 48000], got %d", a.SampleRate)
	}

	if a.WindowDuration <= 0 {
		return fmt.Errorf("window_duration must be positive, got %f", a.WindowDuration)
	}

	if a.OverlapDuration < 0 || a.OverlapDuration >= a.WindowDuration {
		return fmt.Errorf("overlap_duration (%f) must be in [0, window_duration (%f))",
			a.OverlapDuration, a.WindowDuration)
	}

	if a.MaxPendingWindows < 1 {
		return fmt.Errorf("max_pending_windows must be at least 1, got %d", a.MaxPendingWindows)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be in [0, 1), got %f", a.SilenceThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "scripted":
	default:
		return fmt.Errorf("backend must be 'http' or 'scripted', got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", t.Workers)
	}

	validModes := map[string]bool{"labels": true, "gap": true, "none": true}
	if !validModes[t.Diarization] {
		return fmt.Errorf("diarization must be one of [labels, gap, none], got '%s'", t.Diarization)
	}

	if t.RepetitionThreshold < 2 {
		return fmt.Errorf("repetition_threshold must be at least 2, got %d", t.RepetitionThreshold)
	}

	return nil
}

// Validate validates extraction configuration
func (e *ExtractionConfig) Validate() error {
	seen := make(map[string]bool)
	for i, c := range e.Competitors {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			return fmt.Errorf("competitors[%d] has an empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("competitor %q listed twice", c.Name)
		}
		seen[name] = true
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates insight configuration
func (i *InsightConfig) Validate() error {
	switch i.Provider {
	case "agent":
		if i.Model == "" {
			return fmt.Errorf("model cannot be empty for the agent provider")
		}
		if i.APIKey == "" && i.BaseURL == "" {
			return fmt.Errorf("agent provider needs api_key or base_url")
		}
	case "gemini":
		if i.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the gemini provider")
		}
	case "scripted":
	default:
		return fmt.Errorf("provider must be one of [agent, gemini, scripted], got '%s'", i.Provider)
	}

	if i.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", i.Timeout)
	}

	if i.MaxHints < 1 || i.MaxHints > 6 {
		return fmt.Errorf("max_hints must be between 1 and 6, got %d", i.MaxHints)
	}

	if i.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", i.MaxConcurrent)
	}

	if i.PointWordBudget < 3 {
		return fmt.Errorf("point_word_budget must be at least 3, got %d", i.PointWordBudget)
	}

	if i.MaxBattlecardsPerCycle < 1 {
		return fmt.Errorf("max_battlecards_per_cycle must be at least 1, got %d", i.MaxBattlecardsPerCycle)
	}

	if i.Research.Enabled {
		switch i.Research.Provider {
		case "gemini":
			if i.APIKey == "" {
				return fmt.Errorf("gemini research needs insight api_key")
			}
		case "scripted":
		default:
			return fmt.Errorf("research provider must be 'gemini' or 'scripted', got '%s'", i.Research.Provider)
		}
		if i.Research.Timeout < 1 {
			return fmt.Errorf("research timeout must be at least 1 second, got %d", i.Research.Timeout)
		}
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[s.Driver] {
		return fmt.Errorf("driver must be 'sqlite' or 'postgres', got '%s'", s.Driver)
	}

	if s.DSN == "" {
		return fmt.Errorf("dsn cannot be empty")
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.RetryBase <= 0 || s.RetryMax < s.RetryBase {
		return fmt.Errorf("retry_base (%f) must be positive and not above retry_max (%f)", s.RetryBase, s.RetryMax)
	}

	return nil
}

// Validate validates fan-out configuration
func (f *FanoutConfig) Validate() error {
	if f.SubscriberBuffer < 16 {
		return fmt.Errorf("subscriber_buffer must be at least 16, got %d", f.SubscriberBuffer)
	}

	if f.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", f.WriteTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path; all are accepted here.
	return nil
}

// GetDrainTimeout returns the stop drain window as a time.Duration
func (s *SessionConfig) GetDrainTimeout() time.Duration {
	return seconds(s.DrainTimeout)
}

// GetInsightInterval returns the hint cycle period as a time.Duration
func (s *SessionConfig) GetInsightInterval() time.Duration {
	return seconds(s.InsightInterval)
}

// GetStallTimeout returns the capture stall timeout as a time.Duration
func (s *SessionConfig) GetStallTimeout() time.Duration {
	return seconds(s.StallTimeout)
}

// GetRecentContext returns the insight context window as a time.Duration
func (s *SessionConfig) GetRecentContext() time.Duration {
	return seconds(s.RecentContext)
}

// GetInsightTTL returns how long an insight stays valid
func (s *SessionConfig) GetInsightTTL() time.Duration {
	return seconds(s.InsightTTL)
}

// GetSummaryTimeout returns the summary generation timeout
func (s *SessionConfig) GetSummaryTimeout() time.Duration {
	return seconds(s.SummaryTimeout)
}

// GetWindowDuration returns the window length as a time.Duration
func (a *AudioConfig) GetWindowDuration() time.Duration {
	return seconds(a.WindowDuration)
}

// GetOverlapDuration returns the window overlap as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return seconds(a.OverlapDuration)
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the extraction timeout as a time.Duration
func (e *ExtractionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the insight provider timeout as a time.Duration
func (i *InsightConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(i.Timeout) * time.Second
}

// GetTimeoutDuration returns the research timeout as a time.Duration
func (r *ResearchConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetRetryBase returns the first persistence backoff step
func (s *StorageConfig) GetRetryBase() time.Duration {
	return seconds(s.RetryBase)
}

// GetRetryMax returns the persistence backoff cap
func (s *StorageConfig) GetRetryMax() time.Duration {
	return seconds(s.RetryMax)
}

// GetWriteTimeout returns the subscriber socket write deadline
func (f *FanoutConfig) GetWriteTimeout() time.Duration {
	return time.Duration(f.WriteTimeout) * time.Second
}

// GetFrameInterval returns the synthetic capture frame period
func (s *SimulationConfig) GetFrameInterval() time.Duration {
	return time.Duration(s.FrameInterval) * time.Millisecond
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
