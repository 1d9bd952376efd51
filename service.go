// Package flowchain derives the flow chain of linked work artifacts rooted at
// a work request, creates new artifacts wired into that chain, and keeps each
// user's visual layout of it under optimistic version control.
package flowchain

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxNodes       = 500
	DefaultMaxDepth       = 16
	DefaultPublishTimeout = 2 * time.Second
)

// Service is the flow chain API used by the HTTP layer.
type Service struct {
	kinds   *Registry
	layouts LayoutStore
	pub     Publisher
	logger  *zap.Logger
	metrics *Metrics

	maxNodes       int
	maxDepth       int
	publishTimeout time.Duration
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxNodes bounds how many nodes a chain may hold.
func WithMaxNodes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxNodes = n
		}
	}
}

// WithMaxDepth bounds how many links away from the root traversal goes.
func WithMaxDepth(d int) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxDepth = d
		}
	}
}

// WithPublisher sets where layout change events are sent.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithPublishTimeout bounds a single broadcast.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for broadcast timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the flow chain components together.
func NewService(kinds *Registry, layouts LayoutStore, opts ...Option) *Service {
	s := &Service{
		kinds:          kinds,
		layouts:        layouts,
		logger:         zap.NewNop(),
		maxNodes:       DefaultMaxNodes,
		maxDepth:       DefaultMaxDepth,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
