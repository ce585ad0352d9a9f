package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/prebuilt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THREADGRAPH_"

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSqlite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Model providers accepted by ModelConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Search providers accepted by SearchConfig.Provider.
const (
	SearchTavily = "tavily"
	SearchBrave  = "brave"
	SearchNone   = "none"
)

// Config is the application configuration shared by the examples.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Store    StoreConfig  `yaml:"store"`
	Model    ModelConfig  `yaml:"model"`
	Search   SearchConfig `yaml:"search"`
	Graph    GraphConfig  `yaml:"graph"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// Path is the directory of the file store or the sqlite database file.
	Path string `yaml:"path"`

	// DSN is the mysql DSN or the postgres connection string.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ModelConfig selects the chat model. An empty APIKey falls back to the
// provider's own environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY).
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SearchConfig selects the web search tool. An empty APIKey falls back to
// TAVILY_API_KEY or BRAVE_API_KEY.
type SearchConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`

	// WebPage adds the page reader so the model can open search results.
	WebPage bool `yaml:"web_page"`
}

// GraphConfig holds compile options and the failure handling of the chatbot
// nodes.
type GraphConfig struct {
	RecursionLimit  int      `yaml:"recursion_limit"`
	InterruptBefore []string `yaml:"interrupt_before"`
	InterruptAfter  []string `yaml:"interrupt_after"`

	// Model applies to the chat node, Tools to the tool node.
	Model NodeConfig `yaml:"model"`
	Tools NodeConfig `yaml:"tools"`
}

// NodeConfig sets the timeout, retries and circuit breaker of one node. Zero
// values leave the node unwrapped.
type NodeConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout"`

	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// BreakerFailures opens a circuit breaker after that many failed calls in
	// a row; it stays open for BreakerTimeout.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// ObservabilityConfig registers the metrics and tracing listeners.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	Tracing bool `yaml:"tracing"`
}

// Default returns the configuration used when nothing is set: an in-memory
// store, OpenAI and Tavily.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Model: ModelConfig{
			Provider: ProviderOpenAI,
			Name:     "gpt-4o-mini",
		},
		Search: SearchConfig{
			Provider:   SearchTavily,
			MaxResults: 2,
		},
		Graph: GraphConfig{
			RecursionLimit: graph.DefaultRecursionLimit,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and THREADGRAPH_* environment variables, in that order. The .env
// files listed in envFiles are loaded first; missing ones are ignored. With no
// envFiles, ".env" in the working directory is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.unmarshal(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from defaults and YAML data, without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.unmarshal(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) unmarshal(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func loadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":       &c.LogLevel,
		"STORE_DRIVER":    &c.Store.Driver,
		"STORE_PATH":      &c.Store.Path,
		"STORE_DSN":       &c.Store.DSN,
		"STORE_TABLE":     &c.Store.Table,
		"STORE_ADDR":      &c.Store.Addr,
		"STORE_PASSWORD":  &c.Store.Password,
		"STORE_PREFIX":    &c.Store.Prefix,
		"MODEL_PROVIDER":  &c.Model.Provider,
		"MODEL_NAME":      &c.Model.Name,
		"MODEL_API_KEY":   &c.Model.APIKey,
		"MODEL_BASE_URL":  &c.Model.BaseURL,
		"SEARCH_PROVIDER": &c.Search.Provider,
		"SEARCH_API_KEY":  &c.Search.APIKey,
		"METRICS_ADDR":    &c.Observability.MetricsAddr,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STORE_DB":                 &c.Store.DB,
		"MODEL_MAX_TOKENS":         &c.Model.MaxTokens,
		"SEARCH_MAX_RESULTS":       &c.Search.MaxResults,
		"GRAPH_RECURSION_LIMIT":    &c.Graph.RecursionLimit,
		"GRAPH_MODEL_MAX_ATTEMPTS": &c.Graph.Model.MaxAttempts,
		"GRAPH_TOOLS_MAX_ATTEMPTS": &c.Graph.Tools.MaxAttempts,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(EnvPrefix + "MODEL_TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sMODEL_TEMPERATURE: %w", EnvPrefix, err)
		}
		c.Model.Temperature = t
	}

	bools := map[string]*bool{
		"SEARCH_WEB_PAGE": &c.Search.WebPage,
		"METRICS":         &c.Observability.Metrics,
		"TRACING":         &c.Observability.Tracing,
	}
	for name, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}

	durations := map[string]*time.Duration{
		"STORE_TTL":           &c.Store.TTL,
		"GRAPH_MODEL_TIMEOUT": &c.Graph.Model.Timeout,
		"GRAPH_TOOLS_TIMEOUT": &c.Graph.Tools.Timeout,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}
	if v, ok := os.LookupEnv(EnvPrefix + "GRAPH_INTERRUPT_BEFORE"); ok {
		c.Graph.InterruptBefore = splitList(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "GRAPH_INTERRUPT_AFTER"); ok {
		c.Graph.InterruptAfter = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the values that can be checked without connecting anywhere.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSqlite:
		if c.Store.Driver == DriverFile && c.Store.Path == "" {
			return fmt.Errorf("store driver %q requires path", c.Store.Driver)
		}
	case DriverMySQL, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %q requires dsn", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store driver %q requires addr", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	switch c.Search.Provider {
	case SearchTavily, SearchBrave, SearchNone, "":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}

	if c.Graph.RecursionLimit <= 0 {
		return fmt.Errorf("graph recursion_limit must be positive, got %d", c.Graph.RecursionLimit)
	}
	if err := c.Graph.Model.validate("graph.model"); err != nil {
		return err
	}
	if err := c.Graph.Tools.validate("graph.tools"); err != nil {
		return err
	}
	if c.Observability.MetricsAddr != "" && !c.Observability.Metrics {
		return fmt.Errorf("observability metrics_addr requires metrics: true")
	}
	return nil
}

func (n NodeConfig) validate(path string) error {
	switch {
	case n.Timeout < 0, n.InitialDelay < 0, n.MaxDelay < 0, n.BreakerTimeout < 0:
		return fmt.Errorf("%s durations must not be negative", path)
	case n.MaxAttempts < 0:
		return fmt.Errorf("%s max_attempts must not be negative, got %d", path, n.MaxAttempts)
	case n.BreakerFailures < 0:
		return fmt.Errorf("%s breaker_failures must not be negative, got %d", path, n.BreakerFailures)
	}
	return nil
}

// Policy returns the node policy this configuration sets. Every call builds a
// new circuit breaker.
func (n NodeConfig) Policy() graph.NodePolicy {
	p := graph.NodePolicy{Timeout: n.Timeout}
	if n.MaxAttempts > 1 {
		retry := graph.DefaultRetryConfig()
		retry.MaxAttempts = n.MaxAttempts
		if n.InitialDelay > 0 {
			retry.InitialDelay = n.InitialDelay
		}
		if n.MaxDelay > 0 {
			retry.MaxDelay = n.MaxDelay
		}
		retry.MaxDelay = max(retry.MaxDelay, retry.InitialDelay)
		p.Retry = retry
	}
	if n.BreakerFailures > 0 {
		p.Breaker = graph.NewCircuitBreaker(graph.CircuitBreakerConfig{
			FailureThreshold: n.BreakerFailures,
			Timeout:          n.BreakerTimeout,
		})
	}
	return p
}

// ChatbotOptions applies the node policies to the prebuilt chatbot graph.
func (g GraphConfig) ChatbotOptions() []prebuilt.ChatbotOption {
	return []prebuilt.ChatbotOption{
		prebuilt.WithNodePolicy(prebuilt.ChatbotNode, g.Model.Policy()),
		prebuilt.WithNodePolicy(prebuilt.ToolsNode, g.Tools.Policy()),
	}
}

// CompileOptions returns the graph options this configuration sets.
func (g GraphConfig) CompileOptions() []graph.CompileOption {
	opts := []graph.CompileOption{graph.WithRecursionLimit(g.RecursionLimit)}
	if len(g.InterruptBefore) > 0 {
		opts = append(opts, graph.WithInterruptBefore(g.InterruptBefore...))
	}
	if len(g.InterruptAfter) > 0 {
		opts = append(opts, graph.WithInterruptAfter(g.InterruptAfter...))
	}
	return opts
}
