// Package importer is the bulk-import service: it claims and processes
// uploaded runs, applies review decisions to staged items and finalizes
// approved items into live locations and projects.
package importer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/metrics"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/questionnaire"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// Extractor turns a source file into parsed rows.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string, opts ...extract.Option) (*extract.Result, error)
}

// Config holds the importer's limits and timings.
type Config struct {
	MaxFileBytes int64
	MaxItems     int
	MaxAttempts  int
	Lease        time.Duration
	// FinalizeLease is how long a finalizing mark holds before another
	// finalize may take the run over.
	FinalizeLease time.Duration
	Backoff       resilience.Backoff
	Retention     time.Duration
	// ReviewConfidence is the confidence below which staged items need review.
	ReviewConfidence int
	// Retry governs storage reads.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileBytes:     10 << 20,
		MaxItems:         4000,
		MaxAttempts:      3,
		Lease:            300 * time.Second,
		FinalizeLease:    15 * time.Minute,
		Backoff:          resilience.DefaultBackoff(),
		Retention:        90 * 24 * time.Hour,
		ReviewConfidence: 70,
		Retry:            resilience.DefaultRetryConfig(),
	}
}

// Service implements the bulk-import operations.
type Service struct {
	store         store.Store
	storage       storage.Storage
	extractor     Extractor
	questionnaire questionnaire.Provider
	metrics       *metrics.Metrics
	cfg           Config
	now           func() time.Time
	newID         func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the uuid generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMetrics records service activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service.
func New(
	st store.Store,
	objects storage.Storage,
	extractor Extractor,
	templates questionnaire.Provider,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		store:         st,
		storage:       objects,
		extractor:     extractor,
		questionnaire: templates,
		cfg:           cfg,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
