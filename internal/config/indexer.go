package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical indexer defaults file.
const DefaultConfigPath = "config/indexer.defaults.json"

// Matcher names accepted by the "matcher" field.
const (
	MatcherGreedy    = "greedy"
	MatcherHungarian = "hungarian"
)

// DefaultClassesOfInterest are the detector classes tracked when the config
// does not name any.
var DefaultClassesOfInterest = []string{"person", "bicycle", "car", "motorcycle", "bus", "truck"}

// IndexerConfig is the root configuration for the video indexer. Every field
// is optional; the Get* accessors supply defaults for omitted values so
// partial files are safe.
type IndexerConfig struct {
	// Identity tracker
	MaxDisappeared *int     `json:"max_disappeared,omitempty"`
	MaxDistance    *float64 `json:"max_distance,omitempty"` // pixels
	Matcher        *string  `json:"matcher,omitempty"`      // "greedy" or "hungarian"

	// Detector
	ClassesOfInterest   []string `json:"classes_of_interest,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	NMSThreshold        *float64 `json:"nms_threshold,omitempty"`
	InputSize           *int     `json:"input_size,omitempty"`

	// Persistence
	BatchSize        *int    `json:"batch_size,omitempty"`
	PollInterval     *string `json:"poll_interval,omitempty"` // duration string like "100ms"
	GracePeriod      *string `json:"grace_period,omitempty"`
	RetryBaseBackoff *string `json:"retry_base_backoff,omitempty"`
	RetryMaxBackoff  *string `json:"retry_max_backoff,omitempty"`
	SpoolPath        *string `json:"spool_path,omitempty"`
}

// EmptyIndexerConfig returns an IndexerConfig with all fields unset.
func EmptyIndexerConfig() *IndexerConfig {
	return &IndexerConfig{}
}

// LoadIndexerConfig loads an IndexerConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadIndexerConfig(path string) (*IndexerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyIndexerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *IndexerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadIndexerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *IndexerConfig) Validate() error {
	if c.MaxDisappeared != nil && *c.MaxDisappeared < 0 {
		return fmt.Errorf("max_disappeared must be non-negative, got %d", *c.MaxDisappeared)
	}
	if c.MaxDistance != nil && *c.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive, got %f", *c.MaxDistance)
	}
	if c.Matcher != nil && *c.Matcher != MatcherGreedy && *c.Matcher != MatcherHungarian {
		return fmt.Errorf("matcher must be %q or %q, got %q", MatcherGreedy, MatcherHungarian, *c.Matcher)
	}
	for _, name := range c.ClassesOfInterest {
		if name == "" {
			return fmt.Errorf("classes_of_interest must not contain empty names")
		}
	}
	if c.ConfidenceThreshold != nil && (*c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1) {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
	}
	if c.NMSThreshold != nil && (*c.NMSThreshold < 0 || *c.NMSThreshold > 1) {
		return fmt.Errorf("nms_threshold must be between 0 and 1, got %f", *c.NMSThreshold)
	}
	if c.InputSize != nil && (*c.InputSize <= 0 || *c.InputSize%32 != 0) {
		return fmt.Errorf("input_size must be a positive multiple of 32, got %d", *c.InputSize)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}

	durations := map[string]*string{
		"poll_interval":      c.PollInterval,
		"grace_period":       c.GracePeriod,
		"retry_base_backoff": c.RetryBaseBackoff,
		"retry_max_backoff":  c.RetryMaxBackoff,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetMaxDisappeared returns the max_disappeared value or the default.
func (c *IndexerConfig) GetMaxDisappeared() int {
	if c.MaxDisappeared == nil {
		return 30
	}
	return *c.MaxDisappeared
}

// GetMaxDistance returns the max_distance value or the default.
func (c *IndexerConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return 100
	}
	return *c.MaxDistance
}

// GetMatcher returns the matcher name or the default.
func (c *IndexerConfig) GetMatcher() string {
	if c.Matcher == nil || *c.Matcher == "" {
		return MatcherGreedy
	}
	return *c.Matcher
}

// GetClassesOfInterest returns the configured classes or the defaults.
func (c *IndexerConfig) GetClassesOfInterest() []string {
	if len(c.ClassesOfInterest) == 0 {
		return append([]string(nil), DefaultClassesOfInterest...)
	}
	return append([]string(nil), c.ClassesOfInterest...)
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *IndexerConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetNMSThreshold returns the nms_threshold value or the default.
func (c *IndexerConfig) GetNMSThreshold() float64 {
	if c.NMSThreshold == nil {
		return 0.4
	}
	return *c.NMSThreshold
}

// GetInputSize returns the input_size value or the default.
func (c *IndexerConfig) GetInputSize() int {
	if c.InputSize == nil {
		return 416
	}
	return *c.InputSize
}

// GetBatchSize returns the batch_size value or the default.
func (c *IndexerConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 50
	}
	return *c.BatchSize
}

// GetPollInterval returns the poll_interval as a time.Duration.
func (c *IndexerConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 100*time.Millisecond)
}

// GetGracePeriod returns the grace_period as a time.Duration.
func (c *IndexerConfig) GetGracePeriod() time.Duration {
	return parseDurationOr(c.GracePeriod, 500*time.Millisecond)
}

// GetRetryBaseBackoff returns the retry_base_backoff as a time.Duration.
func (c *IndexerConfig) GetRetryBaseBackoff() time.Duration {
	return parseDurationOr(c.RetryBaseBackoff, 100*time.Millisecond)
}

// GetRetryMaxBackoff returns the retry_max_backoff as a time.Duration.
func (c *IndexerConfig) GetRetryMaxBackoff() time.Duration {
	return parseDurationOr(c.RetryMaxBackoff, 5*time.Second)
}

// GetSpoolPath returns the spool_path value or the default.
func (c *IndexerConfig) GetSpoolPath() string {
	if c.SpoolPath == nil || *c.SpoolPath == "" {
		return "data/pending_events.jsonl"
	}
	return *c.SpoolPath
}
