// Package core is the syndication orchestrator: it decides whether a
// terminology import is needed and schedules the import attempt in the
// background.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"termsync/internal/async"
	"termsync/internal/logging"
	"termsync/internal/strategy"
	"termsync/pkg/domain"
)

// Decision labels reported to the DecisionRecorder.
const (
	DecisionAlreadyImported = "already_imported"
	DecisionScheduled       = "scheduled"
	DecisionRejected        = "rejected"
)

// Scheduler runs tasks in the background. *async.Queue satisfies it.
type Scheduler interface {
	Submit(task async.Task) (string, error)
}

// DecisionRecorder counts update decisions per terminology.
type DecisionRecorder interface {
	RecordDecision(terminology, decision string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string, string) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports time.Now in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

// Service composes the catalog, the status store and the strategies.
type Service struct {
	catalog    *domain.Catalog
	store      domain.StatusStore
	strategies map[string]strategy.Strategy
	scheduler  Scheduler
	lifecycle  *strategy.Lifecycle

	logger        logging.Logger
	metrics       DecisionRecorder
	clock         Clock
	latestTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and the attempt lifecycle.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithCatalog replaces the default catalog.
func WithCatalog(c *domain.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithMetrics registers a decision recorder.
func WithMetrics(r DecisionRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithClock sets the time source used to time update decisions.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLatestTimeout bounds the latest-version lookup of the idempotency check.
func WithLatestTimeout(d time.Duration) Option {
	return func(s *Service) { s.latestTimeout = d }
}

// NewService wires the orchestrator. strategies is keyed by canonical
// terminology name.
func NewService(store domain.StatusStore, strategies map[string]strategy.Strategy, scheduler Scheduler, opts ...Option) *Service {
	s := &Service{
		catalog:       domain.DefaultCatalog(),
		store:         store,
		strategies:    strategies,
		scheduler:     scheduler,
		logger:        logging.Nop(),
		metrics:       noopRecorder{},
		clock:         ClockFunc(nil),
		latestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = strategy.NewLifecycle(store,
		strategy.WithLogger(s.logger),
		strategy.WithLatestTimeout(s.latestTimeout),
	)
	return s
}

// Catalog returns the catalog requests are resolved against.
func (s *Service) Catalog() *domain.Catalog { return s.catalog }

// UpdateTerminology reports true when the requested content is already
// imported. Otherwise it schedules an import attempt and returns false
// without waiting for it; the attempt's outcome is only visible through the
// status read model. An attempt that cannot be started, for want of a
// strategy or a queue slot, is recorded there as FAILED as well.
func (s *Service) UpdateTerminology(ctx context.Context, req domain.ImportRequest) (bool, error) {
	started := s.clock.Now()
	term, err := s.catalog.Resolve(req.TerminologyName)
	if err != nil {
		return false, err
	}
	loinc, err := s.IsLoincPresent(ctx)
	if err != nil {
		return false, err
	}
	params := domain.ImportParams{
		Terminology:         term,
		Version:             req.NormalizedVersion(),
		ExtensionName:       req.ExtensionName,
		LoincAlreadyPresent: loinc,
	}
	prior, exists, err := s.store.Get(ctx, term.Name)
	if err != nil {
		return false, fmt.Errorf("read import status of %s: %w", term.Name, err)
	}
	strat, ok := s.strategies[term.Name]
	if !ok {
		return false, s.notStarted(ctx, params, domain.NewServiceError("No import strategy registered for %s", term.Name))
	}

	if !term.AlwaysReimport && s.lifecycle.AlreadyImported(ctx, strat, params, prior, exists) {
		s.metrics.RecordDecision(term.Name, DecisionAlreadyImported)
		s.logger.Info("terminology already imported", "terminology", term.Name,
			"requested_version", params.Version, "actual_version", prior.ActualVersion,
			"decision_ms", s.clock.Now().Sub(started).Milliseconds())
		return true, nil
	}

	id, err := s.scheduler.Submit(async.Task{
		Terminology: term.Name,
		Version:     params.Version,
		Run: func(ctx context.Context) error {
			return s.lifecycle.RunImportAttempt(ctx, strat, params)
		},
	})
	if err != nil {
		return false, s.notStarted(ctx, params, fmt.Errorf("schedule import of %s: %w", term.Name, err))
	}
	s.metrics.RecordDecision(term.Name, DecisionScheduled)
	s.logger.Info("import scheduled", "terminology", term.Name, "attempt_id", id,
		"requested_version", params.Version, "extension", params.ExtensionName,
		"decision_ms", s.clock.Now().Sub(started).Milliseconds())
	return false, nil
}

// notStarted records FAILED for an attempt that never reached the queue.
// Only a failure to write that record is returned.
func (s *Service) notStarted(ctx context.Context, params domain.ImportParams, cause error) error {
	name := params.Terminology.Name
	s.metrics.RecordDecision(name, DecisionRejected)
	s.logger.Error("import attempt not started", "terminology", name, "requested_version", params.Version, "error", cause)
	if err := s.store.Upsert(context.WithoutCancel(ctx), domain.ImportStatus{
		Terminology:      name,
		RequestedVersion: params.Version,
		Status:           domain.StatusFailed,
		ErrorMessage:     cause.Error(),
	}); err != nil {
		return fmt.Errorf("record failed status for %s: %w", name, errors.Join(cause, err))
	}
	return nil
}

// ImportDefaults requests the latest version of every terminology marked for
// unattended import. A failing terminology does not stop the others; all
// failures are returned joined.
func (s *Service) ImportDefaults(ctx context.Context) error {
	var errs []error
	for _, t := range s.catalog.Defaults() {
		done, err := s.UpdateTerminology(ctx, domain.ImportRequest{TerminologyName: t.Name, Version: domain.VersionLatest})
		if err != nil {
			s.logger.Error("default import not started", "terminology", t.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		s.logger.Debug("default import checked", "terminology", t.Name, "already_imported", done)
	}
	return errors.Join(errs...)
}

// GetImportStatus returns the status record of a terminology. Names are
// resolved through the catalog when possible.
func (s *Service) GetImportStatus(ctx context.Context, name string) (domain.ImportStatus, bool, error) {
	if t, err := s.catalog.Resolve(name); err == nil {
		name = t.Name
	}
	return s.store.Get(ctx, name)
}

// GetAllImportStatuses returns every status record ordered by terminology name.
func (s *Service) GetAllImportStatuses(ctx context.Context) ([]domain.ImportStatus, error) {
	return s.store.List(ctx)
}

// IsImportRunning reports whether any terminology is currently RUNNING.
func (s *Service) IsImportRunning(ctx context.Context) (bool, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return false, err
	}
	for _, st := range all {
		if st.Status == domain.StatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// IsLoincPresent reports whether LOINC has been imported successfully.
func (s *Service) IsLoincPresent(ctx context.Context) (bool, error) {
	st, ok, err := s.store.Get(ctx, domain.TerminologyLOINC)
	if err != nil {
		return false, fmt.Errorf("read import status of %s: %w", domain.TerminologyLOINC, err)
	}
	return ok && st.Status == domain.StatusCompleted, nil
}
