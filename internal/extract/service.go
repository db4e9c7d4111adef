// Package extract turns a free-text transcript into a partial meeting record.
//
// [Service] prefers a language model ([Remote]) and falls back to the local
// [Heuristic] whenever the model errors, times out, replies with something
// unparseable or its circuit breaker is open. Both paths finish with a
// directory backfill so that a recognised name or company always carries the
// directory's email. Callers never see a backend failure: Extract only
// returns an error when its context is cancelled.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/resilience"
)

// Extractor is a remote extraction backend.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (meeting.ExtractedInfo, error)
}

const defaultRemoteTimeout = 20 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithRemote sets the primary extraction backend. Without one every call is
// answered by the heuristic.
func WithRemote(r Extractor) Option {
	return func(s *Service) { s.remote = r }
}

// WithBreaker configures the circuit breaker guarding the remote backend.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) {
		if cfg.Name == "" {
			cfg.Name = "extract.remote"
		}
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRemoteTimeout bounds a single remote call. Non-positive values keep
// the default of 20s.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service runs extraction with fallback and backfill.
type Service struct {
	dir       *directory.Directory
	heuristic *Heuristic
	remote    Extractor
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
	timeout   time.Duration
}

// New returns a Service resolving identities against dir.
func New(dir *directory.Directory, opts ...Option) (*Service, error) {
	if dir == nil {
		return nil, errors.New("extract: directory must not be nil")
	}
	s := &Service{
		dir:       dir,
		heuristic: NewHeuristic(dir),
		timeout:   defaultRemoteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "extract.remote"})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Extract returns the best-effort record for transcript.
func (s *Service) Extract(ctx context.Context, transcript string) (meeting.ExtractedInfo, error) {
	if err := ctx.Err(); err != nil {
		return meeting.ExtractedInfo{}, err
	}
	start := time.Now()
	log := observe.Logger(ctx)

	path, reason := "heuristic", ""
	var info meeting.ExtractedInfo
	if s.remote != nil {
		var err error
		info, err = s.tryRemote(ctx, transcript)
		switch {
		case err == nil:
			path = "remote"
		case ctx.Err() != nil:
			return meeting.ExtractedInfo{}, ctx.Err()
		default:
			reason = observe.ErrorKind(err)
			if errors.Is(err, resilience.ErrCircuitOpen) {
				reason = "circuit_open"
			}
			log.Warn("remote extraction failed, using heuristic", "reason", reason, "err", err)
		}
	}
	if path == "heuristic" {
		info = s.heuristic.Extract(transcript)
	}

	info.Normalize()
	s.Backfill(&info)
	s.metrics.RecordExtraction(ctx, path, time.Since(start).Seconds(), reason)
	log.Debug("extraction done", "path", path, "empty", info.Empty())
	return info, nil
}

func (s *Service) tryRemote(ctx context.Context, transcript string) (meeting.ExtractedInfo, error) {
	var info meeting.ExtractedInfo
	err := s.breaker.Execute(func() error {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var err error
		info, err = s.remote.Extract(rctx, transcript)
		return err
	})
	return info, err
}

// Backfill completes identity fields from the directory when the record has
// a name or company but no email. Present fields are never overwritten.
func (s *Service) Backfill(info *meeting.ExtractedInfo) {
	if info.Email != nil || (info.Name == nil && info.Company == nil) {
		return
	}
	if c, ok := s.dir.Find(meeting.Value(info.Name), meeting.Value(info.Company)); ok {
		info.FillFromContact(c)
	}
}
