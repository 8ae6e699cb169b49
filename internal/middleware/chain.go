package middleware

import (
	"fmt"
	"net/http"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/monitoring"
)

// Chain manages the HTTP middleware stack.
//
// Middlewares run in the order they were added: the first added is the
// outermost wrapper and sees the request first and the response last.
//
// Standard stack (outer to inner):
//  1. Recovery
//  2. Logging and metrics
//  3. CORS
//  4. Rate limiting, when enabled
//  5. Security headers
type Chain struct {
	config      *config.Config
	logger      logging.Logger
	metrics     *monitoring.Metrics
	limiter     *RateLimiter
	middlewares []Middleware
}

// Dependencies contains everything the default stack needs. Logger and
// Metrics are optional.
type Dependencies struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *monitoring.Metrics
	Limiter *RateLimiter
}

// NewChain builds the standard stack.
//
// Panics if Config is nil.
func NewChain(deps Dependencies) *Chain {
	if deps.Config == nil {
		panic("middleware.NewChain: config cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	chain := &Chain{
		config:      deps.Config,
		logger:      logger.WithComponent("http"),
		metrics:     deps.Metrics,
		limiter:     deps.Limiter,
		middlewares: make([]Middleware, 0, 5),
	}
	chain.buildDefaultStack()
	return chain
}

func (c *Chain) buildDefaultStack() {
	c.Add(Recover(c.logger))
	c.Add(Logging(c.logger, c.metrics))
	c.Add(CORS(c.config.Server.AllowedOrigins, c.config.Server.Environment))

	if c.config.RateLimit.Enabled {
		if c.limiter == nil {
			c.limiter = NewRateLimiter(c.config.RateLimit.RequestsPerSecond, c.config.RateLimit.Burst)
		}
		c.Add(RateLimit(c.limiter, c.logger, "/health", "/metrics"))
	}

	c.Add(SecurityHeaders(SecurityConfigFor(c.config.Server.Environment)))
}

// Add appends a middleware inside the ones already added.
func (c *Chain) Add(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// Apply wraps handler with the whole chain.
//
// Panics if handler or any middleware is nil.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	if handler == nil {
		panic("middleware.Chain.Apply: handler cannot be nil")
	}

	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if m == nil {
			panic(fmt.Sprintf("middleware.Chain.Apply: middleware at index %d is nil", i))
		}
		wrapped = m(wrapped)
	}
	return wrapped
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Limiter returns the rate limiter in use, or nil when limiting is off.
func (c *Chain) Limiter() *RateLimiter {
	return c.limiter
}
