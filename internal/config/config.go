// Package config loads the mudra YAML configuration. Environment variables
// written as ${VAR_NAME} are expanded and duration strings are parsed.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/recognizer"
)

// MinSecretLength is the minimum JWT secret length in bytes.
const MinSecretLength = 32

// Classifier backends.
const (
	BackendHTTP     = "http"
	BackendTemplate = "template"
)

// Config represents the complete mudra configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Detector   DetectorConfig   `yaml:"detector"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"-"`
	TokenTTLRaw   string        `yaml:"token_ttl"`
	AdminName     string        `yaml:"admin_name"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
}

// RecognizerConfig holds the stabilization parameters
type RecognizerConfig struct {
	Threshold               float64 `yaml:"threshold"`
	MarginThreshold         float64 `yaml:"margin_threshold"`
	SmoothingWindow         int     `yaml:"smoothing_window"`
	StabilityRatio          float64 `yaml:"stability_ratio"`
	MinSequenceForInference int     `yaml:"min_sequence_for_inference"`
	WindowCapacity          int     `yaml:"window_capacity"`
	SweepEvery              int     `yaml:"sweep_every"`
	NormalizeLandmarks      bool    `yaml:"normalize_landmarks"`

	SessionMaxAge    time.Duration `yaml:"-"`
	SessionMaxAgeRaw string        `yaml:"session_max_age"`
	// SessionMaxAgeSeconds overrides session_max_age when positive.
	SessionMaxAgeSeconds int `yaml:"session_max_age_seconds"`
}

// ClassifierConfig selects and configures the model backend
type ClassifierConfig struct {
	Backend             string        `yaml:"backend"`
	URL                 string        `yaml:"url"`
	Model               string        `yaml:"model"`
	Timeout             time.Duration `yaml:"-"`
	TimeoutRaw          string        `yaml:"timeout"`
	Labels              []string      `yaml:"labels"`
	LabelsFile          string        `yaml:"labels_file"`
	TemplateTemperature float64       `yaml:"template_temperature"`
}

// DetectorConfig holds the MediaPipe subprocess configuration
type DetectorConfig struct {
	Python         string        `yaml:"python"`
	Script         string        `yaml:"script"`
	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout"`
	MaxHands       int           `yaml:"max_hands"`
	MinConfidence  float64       `yaml:"min_confidence"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every value set except the JWT secret.
func Default() *Config {
	rc := recognizer.DefaultConfig()
	dc := detector.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			HTTPAddr:  "127.0.0.1:5000",
			StaticDir: "web",
		},
		Database: DatabaseConfig{Path: "mudra.db"},
		Auth: AuthConfig{
			TokenTTL:    24 * time.Hour,
			TokenTTLRaw: "24h",
			AdminName:   "Admin",
		},
		Recognizer: RecognizerConfig{
			Threshold:               rc.Threshold,
			MarginThreshold:         rc.MarginThreshold,
			SmoothingWindow:         rc.SmoothingWindow,
			StabilityRatio:          rc.StabilityRatio,
			MinSequenceForInference: rc.MinSequenceForInference,
			WindowCapacity:          rc.WindowCapacity,
			SweepEvery:              rc.SweepEvery,
			SessionMaxAge:           rc.SessionMaxAge,
			SessionMaxAgeRaw:        rc.SessionMaxAge.String(),
		},
		Classifier: ClassifierConfig{
			Backend:             BackendHTTP,
			URL:                 "http://127.0.0.1:8501",
			Model:               "signs",
			Timeout:             10 * time.Second,
			TimeoutRaw:          "10s",
			TemplateTemperature: classifier.DefaultTemperature,
		},
		Detector: DetectorConfig{
			IdleTimeout:    dc.IdleTimeout,
			IdleTimeoutRaw: dc.IdleTimeout.String(),
			MaxHands:       dc.MaxHands,
			MinConfidence:  dc.MinConfidence,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path on top of Default.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data on top of Default.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"recognizer.session_max_age", cfg.Recognizer.SessionMaxAgeRaw, &cfg.Recognizer.SessionMaxAge},
		{"classifier.timeout", cfg.Classifier.TimeoutRaw, &cfg.Classifier.Timeout},
		{"detector.idle_timeout", cfg.Detector.IdleTimeoutRaw, &cfg.Detector.IdleTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	if s := cfg.Recognizer.SessionMaxAgeSeconds; s > 0 {
		cfg.Recognizer.SessionMaxAge = time.Duration(s) * time.Second
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return fmt.Errorf("auth.admin_email and auth.admin_password must be set together")
	}

	r := c.Recognizer
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("recognizer.threshold must be within [0, 1], got %v", r.Threshold)
	}
	if r.MarginThreshold < 0 || r.MarginThreshold > 1 {
		return fmt.Errorf("recognizer.margin_threshold must be within [0, 1], got %v", r.MarginThreshold)
	}
	if r.StabilityRatio <= 0 || r.StabilityRatio > 1 {
		return fmt.Errorf("recognizer.stability_ratio must be within (0, 1], got %v", r.StabilityRatio)
	}
	if r.SmoothingWindow <= 0 {
		return fmt.Errorf("recognizer.smoothing_window must be positive")
	}
	if r.WindowCapacity <= 0 {
		return fmt.Errorf("recognizer.window_capacity must be positive")
	}
	if r.MinSequenceForInference <= 0 || r.MinSequenceForInference > r.WindowCapacity {
		return fmt.Errorf("recognizer.min_sequence_for_inference must be within [1, window_capacity=%d], got %d",
			r.WindowCapacity, r.MinSequenceForInference)
	}
	if r.SessionMaxAge <= 0 {
		return fmt.Errorf("recognizer.session_max_age must be positive")
	}
	if r.SweepEvery <= 0 {
		return fmt.Errorf("recognizer.sweep_every must be positive")
	}

	switch c.Classifier.Backend {
	case BackendHTTP:
		if c.Classifier.URL == "" || c.Classifier.Model == "" {
			return fmt.Errorf("classifier.url and classifier.model are required for the http backend")
		}
	case BackendTemplate:
	default:
		return fmt.Errorf("classifier.backend must be %q or %q, got %q", BackendHTTP, BackendTemplate, c.Classifier.Backend)
	}
	if c.Classifier.LabelsFile != "" && len(c.Classifier.Labels) > 0 {
		return fmt.Errorf("classifier.labels and classifier.labels_file are mutually exclusive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// EngineConfig converts the recognizer section into engine parameters.
func (c *Config) EngineConfig() recognizer.Config {
	r := c.Recognizer
	return recognizer.Config{
		Threshold:               r.Threshold,
		MarginThreshold:         r.MarginThreshold,
		SmoothingWindow:         r.SmoothingWindow,
		StabilityRatio:          r.StabilityRatio,
		MinSequenceForInference: r.MinSequenceForInference,
		WindowCapacity:          r.WindowCapacity,
		SessionMaxAge:           r.SessionMaxAge,
		SweepEvery:              r.SweepEvery,
	}
}

// DetectorOptions converts the detector section into subprocess options.
func (c *Config) DetectorOptions() detector.Config {
	dc := detector.DefaultConfig()
	dc.Python = c.Detector.Python
	dc.Script = c.Detector.Script
	if c.Detector.IdleTimeout > 0 {
		dc.IdleTimeout = c.Detector.IdleTimeout
	}
	if c.Detector.MaxHands > 0 {
		dc.MaxHands = c.Detector.MaxHands
	}
	if c.Detector.MinConfidence > 0 {
		dc.MinConfidence = c.Detector.MinConfidence
	}
	return dc
}

// LoadLabels returns the configured label set: labels_file, then the inline
// list, then the A..Z default.
func (c *Config) LoadLabels() (classifier.Labels, error) {
	if c.Classifier.LabelsFile != "" {
		return classifier.LoadLabels(c.Classifier.LabelsFile)
	}
	if len(c.Classifier.Labels) > 0 {
		labels := make(classifier.Labels, 0, len(c.Classifier.Labels))
		seen := make(map[string]bool)
		for _, l := range c.Classifier.Labels {
			l = strings.TrimSpace(l)
			if l == "" || seen[l] {
				return nil, fmt.Errorf("classifier.labels: empty or duplicate label %q", l)
			}
			seen[l] = true
			labels = append(labels, l)
		}
		return labels, nil
	}
	return classifier.DefaultLabels(), nil
}

// GenerateSecret returns a random hex secret suitable for auth.jwt_secret.
func GenerateSecret() (string, error) {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WriteDefault writes a default configuration with a fresh JWT secret to
// path. Existing files are not overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	cfg := Default()
	secret, err := GenerateSecret()
	if err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0600)
}
