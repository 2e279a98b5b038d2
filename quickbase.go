// Package quickbase is a name-based local API over QuickBase tables.
//
// Tables and fields are addressed by the names in a mapping snapshot rather
// than by QuickBase ids. Filters are written as a where tree (or a dynamic
// map) and compiled into QuickBase query strings, and records come back as
// documents keyed by field name.
//
// Basic usage:
//
//	cfg, err := config.Load("quickbase.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	qb, err := quickbase.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := qb.Find(ctx, quickbase.FindOptions{
//	    App:   "crm",
//	    Table: "contacts",
//	    Where: core.Filter(core.Field("status", core.Eq("Active"))),
//	    Sort:  []string{"-dateCreated"},
//	})
//
// With proactive rate limiting:
//
//	qb, err := quickbase.New(cfg,
//	    quickbase.WithProactiveThrottle(100), // 100 req/10s (QuickBase's limit)
//	)
//
// With rate limit callback:
//
//	qb, err := quickbase.New(cfg,
//	    quickbase.WithOnRateLimit(func(info core.RateLimitInfo) {
//	        log.Printf("Rate limited! Retry after %ds", info.RetryAfter)
//	    }),
//	)
//
// Every call is strict by default: unknown names and failed requests are
// returned as errors. Set DisableErrors on a call to fall back to the
// primary key for unknown fields and to get empty results instead of
// transport errors on reads.
package quickbase

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DrewBradfordXYZ/quickbase-local/auth"
	"github.com/DrewBradfordXYZ/quickbase-local/client"
	"github.com/DrewBradfordXYZ/quickbase-local/config"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

// Re-export types for convenience
type (
	// Query building
	Where       = core.Where
	FieldFilter = core.FieldFilter
	Condition   = core.Condition
	Document    = core.Document
	PageInfo    = core.PageInfo

	// Error types
	QuickbaseError      = core.QuickbaseError
	RateLimitError      = core.RateLimitError
	AuthenticationError = core.AuthenticationError
	AuthorizationError  = core.AuthorizationError
	NotFoundError       = core.NotFoundError
	ValidationError     = core.ValidationError
	TimeoutError        = core.TimeoutError
	ServerError         = core.ServerError
	MappingMissError    = core.MappingMissError
	ConditionError      = core.ConditionError
	RateLimitInfo       = core.RateLimitInfo

	// Throttle types
	Throttle              = client.Throttle
	SlidingWindowThrottle = client.SlidingWindowThrottle
	NoOpThrottle          = client.NoOpThrottle
)

// Transport sends one request to QuickBase and decodes the JSON response
// into out. *client.Client is the production implementation.
type Transport interface {
	Do(ctx context.Context, req client.Request, out any) error
}

// Client runs local operations against the apps in its config.
type Client struct {
	cfg       *config.Config
	transport Transport
	compiler  *core.Compiler
	codec     *core.Codec
	logger    *core.Logger
}

// Option configures a Client.
type Option func(*settings)

type settings struct {
	clientOpts   []client.Option
	transport    Transport
	logger       *core.Logger
	debug        bool
	convertDates bool
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithMaxRetries(n))
	}
}

// WithRetryDelay sets the initial delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithRetryDelay(d))
	}
}

// WithMaxRetryDelay sets the maximum delay between retries.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithMaxRetryDelay(d))
	}
}

// WithTimeout overrides the config's per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithTimeout(d))
	}
}

// WithRateLimit sets the client-side token bucket. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithRateLimit(rps, burst))
	}
}

// WithProactiveThrottle enables sliding window throttling.
// QuickBase's limit is 100 requests per 10 seconds per user token.
func WithProactiveThrottle(requestsPer10Seconds int) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithProactiveThrottle(requestsPer10Seconds))
	}
}

// WithThrottle sets a custom throttle implementation.
func WithThrottle(t Throttle) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithThrottle(t))
	}
}

// WithOnRateLimit sets a callback for rate limit events.
func WithOnRateLimit(callback func(RateLimitInfo)) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithOnRateLimit(callback))
	}
}

// WithMetrics registers transport metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithMetrics(client.NewMetrics(reg)))
	}
}

// WithReadOnly rejects every write before it reaches the network.
func WithReadOnly(enabled bool) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, client.WithReadOnly(enabled))
	}
}

// WithDebug enables debug logging for every call.
func WithDebug(enabled bool) Option {
	return func(s *settings) {
		s.debug = enabled
	}
}

// WithLogger sets the logger shared by the client and its transport.
func WithLogger(l *core.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithConvertDates makes reads turn ISO 8601 strings into time.Time values.
func WithConvertDates(enabled bool) Option {
	return func(s *settings) {
		s.convertDates = enabled
	}
}

// WithTransport replaces the HTTP transport. Transport options such as
// WithMaxRetries are ignored when it is set.
func WithTransport(t Transport) Option {
	return func(s *settings) {
		s.transport = t
	}
}

// New creates a client from a validated config.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, &Error{Message: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &settings{debug: cfg.Debug}
	for _, opt := range opts {
		opt(s)
	}

	logger := s.logger
	if logger == nil {
		logger = core.NewLogger(s.debug)
	} else {
		logger = logger.WithDebug(s.debug)
	}

	transport := s.transport
	if transport == nil {
		// Config-derived settings go first so explicit options win.
		clientOpts := append([]client.Option{
			client.WithBaseURL(cfg.BaseURL),
			client.WithTimeout(cfg.Timeout()),
			client.WithLogger(logger),
		}, s.clientOpts...)

		tc, err := client.New(cfg.Realm, auth.NewUserTokenStrategy(cfg.UserToken), clientOpts...)
		if err != nil {
			return nil, err
		}
		transport = tc
	}

	compiler := core.NewCompiler(core.NewCatalog(cfg.Mappings))
	return &Client{
		cfg:       cfg,
		transport: transport,
		compiler:  compiler,
		codec:     core.NewCodec(compiler, core.WithConvertDates(s.convertDates)),
		logger:    logger,
	}, nil
}

// NewFromFile loads a config file and creates a client from it.
func NewFromFile(path string, opts ...Option) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Config returns the client's configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Catalog returns the field catalog built from the mapping snapshot.
func (c *Client) Catalog() *core.Catalog {
	return c.compiler.Catalog()
}

// Compiler returns the lenient compiler over the client's catalog.
func (c *Client) Compiler() *core.Compiler {
	return c.compiler
}

// Error represents a local API usage error.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Helper functions re-exported from core
var (
	// IsRetryableError returns true if the error should trigger a retry.
	IsRetryableError = core.IsRetryableError

	// ParseWhere converts a dynamic where object into a Where tree.
	ParseWhere = core.ParseWhere

	// Filter, Field, AllOf and AnyOf build where trees.
	Filter = core.Filter
	Field  = core.Field
	AllOf  = core.AllOf
	AnyOf  = core.AnyOf
)

// NewSlidingWindowThrottle creates a throttle allowing requestsPer10Seconds.
func NewSlidingWindowThrottle(requestsPer10Seconds int) *SlidingWindowThrottle {
	return client.NewSlidingWindowThrottle(requestsPer10Seconds, 10*time.Second)
}
