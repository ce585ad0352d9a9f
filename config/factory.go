package config

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/metrics"
	"github.com/smallnest/threadgraph/store"
	"github.com/smallnest/threadgraph/store/file"
	"github.com/smallnest/threadgraph/store/memory"
	"github.com/smallnest/threadgraph/store/mysql"
	"github.com/smallnest/threadgraph/store/postgres"
	"github.com/smallnest/threadgraph/store/redis"
	"github.com/smallnest/threadgraph/store/sqlite"
	"github.com/smallnest/threadgraph/tool"
	"github.com/smallnest/threadgraph/tracing"
)

// OpenStore opens the checkpoint store the configuration selects.
func OpenStore(ctx context.Context, c StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Driver {
	case DriverMemory, "":
		st = memory.NewMemoryCheckpointStore()
	case DriverFile:
		st, err = wrap(file.NewFileCheckpointStore(c.Path))
	case DriverSqlite:
		st, err = wrap(sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
			Path:      c.Path,
			TableName: c.Table,
		}))
	case DriverMySQL:
		st, err = wrap(mysql.NewMySQLCheckpointStore(ctx, mysql.MySQLOptions{
			DSN:       c.DSN,
			TableName: c.Table,
		}))
	case DriverPostgres:
		st, err = wrap(postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{
			ConnString: c.DSN,
			TableName:  c.Table,
		}))
	case DriverRedis:
		st = redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			Prefix:   c.Prefix,
			TTL:      c.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.Driver, err)
	}
	return st, nil
}

// wrap keeps a failed constructor's nil pointer out of the interface.
func wrap[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewModel creates the chat model the configuration selects.
func NewModel(c ModelConfig) (llms.Model, error) {
	switch c.Provider {
	case ProviderOpenAI, "":
		var opts []openai.Option
		if c.Name != "" {
			opts = append(opts, openai.WithModel(c.Name))
		}
		if c.APIKey != "" {
			opts = append(opts, openai.WithToken(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil
	case ProviderAnthropic:
		var opts []anthropic.Option
		if c.Name != "" {
			opts = append(opts, anthropic.WithModel(c.Name))
		}
		if c.APIKey != "" {
			opts = append(opts, anthropic.WithToken(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(c.BaseURL))
		}
		model, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", c.Provider)
	}
}

// CallOptions returns the per-call options the configuration sets.
func (c ModelConfig) CallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.Temperature != 0 {
		opts = append(opts, llms.WithTemperature(c.Temperature))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	return opts
}

// NewSearchTools returns the tools the configuration selects: the search tool
// (none for SearchNone) and, with WebPage set, the page reader.
func NewSearchTools(c SearchConfig) ([]tools.Tool, error) {
	var toolset []tools.Tool
	switch c.Provider {
	case SearchTavily:
		var opts []tool.TavilyOption
		if c.MaxResults > 0 {
			opts = append(opts, tool.WithTavilyMaxResults(c.MaxResults))
		}
		t, err := tool.NewTavilySearch(c.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		toolset = append(toolset, t)
	case SearchBrave:
		var opts []tool.BraveOption
		if c.MaxResults > 0 {
			opts = append(opts, tool.WithBraveCount(c.MaxResults))
		}
		t, err := tool.NewBraveSearch(c.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		toolset = append(toolset, t)
	case SearchNone, "":
	default:
		return nil, fmt.Errorf("unknown search provider %q", c.Provider)
	}
	if c.WebPage {
		toolset = append(toolset, tool.NewWebPage())
	}
	return toolset, nil
}

// NewLogger creates a golog-backed logger at the configured level.
func (c *Config) NewLogger() (*log.GologLogger, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.NewDefaultLogger(level), nil
}

// Listeners returns the engine listeners the settings enable. Metrics are
// registered with reg; nil means prometheus.DefaultRegisterer. Spans go to the
// global OpenTelemetry tracer provider.
func (o ObservabilityConfig) Listeners(reg prometheus.Registerer) []graph.Listener {
	var listeners []graph.Listener
	if o.Metrics {
		listeners = append(listeners, metrics.NewPrometheusListener(reg))
	}
	if o.Tracing {
		listeners = append(listeners, tracing.NewListener(nil))
	}
	return listeners
}
