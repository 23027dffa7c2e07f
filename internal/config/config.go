package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/oafctl/internal/models"
)

// RetryConfig is a fixed-interval retry policy.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// GateConfig configures the availability gate.
type GateConfig struct {
	Path     string        `yaml:"path"`
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Config holds all configuration (defaults, env, config file, CLI flags).
type Config struct {
	BaseURL           string           `yaml:"base_url"`
	Timeout           time.Duration    `yaml:"request_timeout"`
	Retry             RetryConfig      `yaml:"retry"`
	Gate              GateConfig       `yaml:"gate"`
	Concurrency       int              `yaml:"concurrency"`
	NotFoundIsSuccess bool             `yaml:"not_found_is_success"`
	LogLevel          string           `yaml:"log_level"`
	MetricsFile       string           `yaml:"metrics_file"`
	ReportFile        string           `yaml:"report_file"`
	Endpoints         models.Endpoints `yaml:"endpoints"`
	DryRun            bool             `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
		Retry:   RetryConfig{Attempts: 3, Delay: 2 * time.Second},
		Gate: GateConfig{
			Path:     "/health",
			Attempts: 5,
			Delay:    10 * time.Second,
		},
		Concurrency: 1,
		LogLevel:    "warn",
		Endpoints:   models.DefaultEndpoints(),
	}
}

// Loader binds CLI flags and resolves the final Config. Precedence, lowest
// first: defaults, .env files, environment, config file, explicitly set flags.
type Loader struct {
	fs         *pflag.FlagSet
	flags      Config
	configFile string
	envFile    string
	lookupEnv  func(string) (string, bool)
}

// NewLoader registers the configuration flags on fs.
func NewLoader(fs *pflag.FlagSet) *Loader {
	l := &Loader{fs: fs, lookupEnv: os.LookupEnv}
	d := Default()
	fs.StringVar(&l.configFile, "config", "", "Path to config file (YAML)")
	fs.StringVar(&l.envFile, "env-file", "", "Additional .env file to load")
	fs.StringVar(&l.flags.BaseURL, "base-url", d.BaseURL, "Framework base URL")
	fs.DurationVar(&l.flags.Timeout, "timeout", d.Timeout, "Per-request timeout")
	fs.IntVar(&l.flags.Retry.Attempts, "retry-attempts", d.Retry.Attempts, "Delete attempts per identifier")
	fs.DurationVar(&l.flags.Retry.Delay, "retry-delay", d.Retry.Delay, "Delay between delete attempts")
	fs.IntVar(&l.flags.Gate.Attempts, "gate-attempts", d.Gate.Attempts, "Health check attempts before giving up")
	fs.DurationVar(&l.flags.Gate.Delay, "gate-delay", d.Gate.Delay, "Delay between health check attempts")
	fs.IntVar(&l.flags.Concurrency, "concurrency", d.Concurrency, "Parallel deletes per resource class")
	fs.BoolVar(&l.flags.NotFoundIsSuccess, "not-found-ok", false, "Treat HTTP 404 on delete as already deleted")
	fs.StringVar(&l.flags.LogLevel, "log-level", d.LogLevel, "Diagnostic log level (debug, info, warn, error)")
	fs.StringVar(&l.flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	fs.StringVar(&l.flags.ReportFile, "report-file", "", "Write the run record as JSON to this file")
	fs.BoolVar(&l.flags.DryRun, "dry-run", false, "List what would be deleted without deleting")
	return l
}

// Load resolves the configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	c := Default()

	if err := LoadEnvFiles(l.envFile); err != nil {
		return nil, err
	}
	if err := c.applyEnv(l.lookupEnv); err != nil {
		return nil, err
	}
	if l.configFile != "" {
		if err := c.loadFile(l.configFile); err != nil {
			return nil, err
		}
	}
	l.applyFlags(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadEnvFiles loads .env.local, .env and extra (if set) into the process
// environment. Missing default files are ignored; existing variables win.
func LoadEnvFiles(extra string) error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	if extra != "" {
		if err := godotenv.Load(extra); err != nil {
			return fmt.Errorf("failed to load %s: %w", extra, err)
		}
	}
	return nil
}

// applyEnv overlays OAF_* variables. BASE_URL is accepted for compatibility
// with the setup scripts.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BASE_URL"); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := lookup("OAF_BASE_URL"); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := lookup("OAF_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}

	ints := map[string]*int{
		"OAF_RETRY_ATTEMPTS": &c.Retry.Attempts,
		"OAF_GATE_ATTEMPTS":  &c.Gate.Attempts,
		"OAF_CONCURRENCY":    &c.Concurrency,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"OAF_RETRY_DELAY": &c.Retry.Delay,
		"OAF_GATE_DELAY":  &c.Gate.Delay,
		"OAF_TIMEOUT":     &c.Timeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// parseDuration accepts Go durations ("2s") and bare seconds ("2"), which is
// how the shell scripts express delays.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// loadFile reads a YAML config file. Only keys present in the file are
// applied.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return nil
	}
	if err := normalizeDurations(&doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := doc.Decode(c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// durationKeys name the YAML keys holding a time.Duration.
var durationKeys = map[string]bool{"request_timeout": true, "delay": true}

// normalizeDurations rewrites duration values through parseDuration so the
// file accepts bare seconds the same way the environment does.
func normalizeDurations(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if !durationKeys[key.Value] || val.Kind != yaml.ScalarNode || val.Tag == "!!null" {
				continue
			}
			d, err := parseDuration(val.Value)
			if err != nil {
				return fmt.Errorf("line %d: %s: %w", val.Line, key.Value, err)
			}
			val.Value, val.Tag = d.String(), "!!str"
		}
	}
	for _, child := range n.Content {
		if err := normalizeDurations(child); err != nil {
			return err
		}
	}
	return nil
}

// applyFlags copies only the flags the user explicitly set.
func (l *Loader) applyFlags(c *Config) {
	set := func(name string, apply func()) {
		if l.fs.Changed(name) {
			apply()
		}
	}
	set("base-url", func() { c.BaseURL = l.flags.BaseURL })
	set("timeout", func() { c.Timeout = l.flags.Timeout })
	set("retry-attempts", func() { c.Retry.Attempts = l.flags.Retry.Attempts })
	set("retry-delay", func() { c.Retry.Delay = l.flags.Retry.Delay })
	set("gate-attempts", func() { c.Gate.Attempts = l.flags.Gate.Attempts })
	set("gate-delay", func() { c.Gate.Delay = l.flags.Gate.Delay })
	set("concurrency", func() { c.Concurrency = l.flags.Concurrency })
	set("not-found-ok", func() { c.NotFoundIsSuccess = l.flags.NotFoundIsSuccess })
	set("log-level", func() { c.LogLevel = l.flags.LogLevel })
	set("metrics-file", func() { c.MetricsFile = l.flags.MetricsFile })
	set("report-file", func() { c.ReportFile = l.flags.ReportFile })
	c.DryRun = l.flags.DryRun
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base URL %q: want http(s)://host[:port]", c.BaseURL)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Gate.Attempts < 1 {
		return fmt.Errorf("gate attempts must be at least 1, got %d", c.Gate.Attempts)
	}
	if c.Retry.Delay < 0 || c.Gate.Delay < 0 || c.Timeout < 0 {
		return fmt.Errorf("delays and timeouts must not be negative")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Gate.Path == "" {
		c.Gate.Path = "/health"
	}
	defaults := models.DefaultEndpoints()
	if c.Endpoints.Agents == "" {
		c.Endpoints.Agents = defaults.Agents
	}
	if c.Endpoints.Workflows == "" {
		c.Endpoints.Workflows = defaults.Workflows
	}
	if c.Endpoints.Schedules == "" {
		c.Endpoints.Schedules = defaults.Schedules
	}
	if c.Endpoints.MemoryClear == "" {
		c.Endpoints.MemoryClear = defaults.MemoryClear
	}
	return nil
}
