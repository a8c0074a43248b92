// Package strategy defines the capability set every terminology importer
// implements and the shared attempt lifecycle and idempotency check built on
// top of it.
package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"termsync/internal/logging"
	"termsync/pkg/domain"
)

// Strategy fetches and imports one terminology. Files are local paths; the
// last element is the package the resulting version is derived from.
type Strategy interface {
	FetchPackages(ctx context.Context, params domain.ImportParams) ([]string, error)
	ImportPackages(ctx context.Context, params domain.ImportParams, files []string) error
	DiscoverLatestVersion(ctx context.Context, hint string) (string, error)
	ParseVersion(fileName string) (string, error)
}

// Scoped is implemented by strategies whose versions are qualified by the
// request, such as the SNOMED CT edition named by the version URI or the
// extension. The lifecycle prefers it over ParseVersion and the plain
// version hint.
type Scoped interface {
	ScopedVersion(params domain.ImportParams, fileName string) (string, error)
	LatestHint(params domain.ImportParams) string
}

// Lifecycle runs import attempts against a status store.
type Lifecycle struct {
	store         domain.StatusStore
	logger        logging.Logger
	latestTimeout time.Duration
	stat          func(string) (os.FileInfo, error)
	remove        func(string) error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(lc *Lifecycle) { lc.logger = logging.OrNop(l) }
}

// WithLatestTimeout bounds the latest-version lookup made by AlreadyImported.
// Zero disables the bound.
func WithLatestTimeout(d time.Duration) Option {
	return func(lc *Lifecycle) {
		if d >= 0 {
			lc.latestTimeout = d
		}
	}
}

// WithFileOps replaces the stat and remove functions. Intended for tests.
func WithFileOps(stat func(string) (os.FileInfo, error), remove func(string) error) Option {
	return func(lc *Lifecycle) {
		if stat != nil {
			lc.stat = stat
		}
		if remove != nil {
			lc.remove = remove
		}
	}
}

// NewLifecycle returns a Lifecycle writing to store.
func NewLifecycle(store domain.StatusStore, opts ...Option) *Lifecycle {
	lc := &Lifecycle{
		store:         store,
		logger:        logging.Nop(),
		latestTimeout: 30 * time.Second,
		stat:          os.Stat,
		remove:        os.Remove,
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// RunImportAttempt executes one fetch/import attempt, recording RUNNING and
// then exactly one of COMPLETED or FAILED. Failures, panics included, are
// recorded and returned. Downloaded files are removed after COMPLETED is
// recorded; cleanup problems are logged only.
func (l *Lifecycle) RunImportAttempt(ctx context.Context, s Strategy, params domain.ImportParams) error {
	name := params.Terminology.Name
	// status writes must land even when the caller's context is done
	writeCtx := context.WithoutCancel(ctx)

	if err := l.store.Upsert(writeCtx, domain.ImportStatus{
		Terminology:      name,
		RequestedVersion: params.Version,
		Status:           domain.StatusRunning,
	}); err != nil {
		return fmt.Errorf("record running status for %s: %w", name, err)
	}
	l.logger.Info("import attempt started", "terminology", name, "requested_version", params.Version)

	files, err := l.attempt(ctx, writeCtx, s, params)
	if err != nil {
		return err
	}
	if !params.IsLocal() {
		l.removeFiles(name, files)
	}
	return nil
}

// attempt fetches, imports and records COMPLETED. Any error or panic in
// those steps is recorded as FAILED.
func (l *Lifecycle) attempt(ctx, writeCtx context.Context, s Strategy, params domain.ImportParams) (files []string, err error) {
	name := params.Terminology.Name
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("import attempt for %s panicked: %v", name, r)
		}
		if err == nil {
			return
		}
		if werr := l.store.Upsert(writeCtx, domain.ImportStatus{
			Terminology:      name,
			RequestedVersion: params.Version,
			Status:           domain.StatusFailed,
			ErrorMessage:     err.Error(),
		}); werr != nil {
			l.logger.Error("record failed status", "terminology", name, "error", werr)
		}
		l.logger.Error("import attempt failed", "terminology", name, "requested_version", params.Version, "error", err)
	}()

	files, err = s.FetchPackages(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, domain.NoPackagesError(params.Version)
	}
	if err := s.ImportPackages(ctx, params, files); err != nil {
		return nil, err
	}
	actual, err := l.actualVersion(s, params, files)
	if err != nil {
		return nil, err
	}
	if err := l.store.Upsert(writeCtx, domain.ImportStatus{
		Terminology:      name,
		RequestedVersion: params.Version,
		ActualVersion:    actual,
		Status:           domain.StatusCompleted,
	}); err != nil {
		return nil, fmt.Errorf("record completed status for %s: %w", name, err)
	}
	l.logger.Info("import attempt completed", "terminology", name, "requested_version", params.Version, "actual_version", actual)
	return files, nil
}

func (l *Lifecycle) actualVersion(s Strategy, params domain.ImportParams, files []string) (string, error) {
	last := files[len(files)-1]
	if params.IsLocal() {
		return l.Fingerprint(last)
	}
	var (
		version string
		err     error
	)
	if sc, ok := s.(Scoped); ok {
		version, err = sc.ScopedVersion(params, filepath.Base(last))
	} else {
		version, err = s.ParseVersion(filepath.Base(last))
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(version) == "" {
		return "", domain.NewServiceError("no version could be derived from %s", filepath.Base(last))
	}
	return version, nil
}

func (l *Lifecycle) removeFiles(name string, files []string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("remove downloaded packages panicked", "terminology", name, "panic", r)
		}
	}()
	for _, f := range files {
		if err := l.remove(f); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("remove downloaded package", "terminology", name, "file", f, "error", err)
		}
	}
}

// Fingerprint identifies a locally supplied package by base name, byte
// length and modification time in unix milliseconds.
func (l *Lifecycle) Fingerprint(path string) (string, error) {
	info, err := l.stat(path)
	if err != nil {
		return "", fmt.Errorf("stat local package: %w", err)
	}
	return fmt.Sprintf("%s-%d-%d", filepath.Base(path), info.Size(), info.ModTime().UnixMilli()), nil
}

// AlreadyImported reports whether prior already satisfies params. It never
// fails: any lookup problem is logged and answered with false.
func (l *Lifecycle) AlreadyImported(ctx context.Context, s Strategy, params domain.ImportParams, prior domain.ImportStatus, exists bool) bool {
	name := params.Terminology.Name
	if !exists || prior.Status != domain.StatusCompleted || strings.TrimSpace(prior.ActualVersion) == "" {
		l.logger.Info("terminology has not yet been imported", "terminology", name)
		return false
	}
	if prior.ActualVersion == params.Version {
		return true
	}
	if params.IsLocal() {
		files, err := s.FetchPackages(ctx, params)
		if err != nil || len(files) == 0 {
			l.logger.Warn("inspect local package", "terminology", name, "error", err)
			return false
		}
		fp, err := l.Fingerprint(files[len(files)-1])
		if err != nil {
			l.logger.Warn("fingerprint local package", "terminology", name, "error", err)
			return false
		}
		return fp == prior.ActualVersion
	}
	if params.IsLatest() || strings.Contains(prior.ActualVersion, params.Version) {
		l.logger.Info("fetching latest version number", "terminology", name)
		lookupCtx := ctx
		if l.latestTimeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, l.latestTimeout)
			defer cancel()
		}
		hint := params.Version
		if sc, ok := s.(Scoped); ok {
			hint = sc.LatestHint(params)
		}
		latest, err := s.DiscoverLatestVersion(lookupCtx, hint)
		if err != nil {
			l.logger.Error("failed to fetch latest version number", "terminology", name, "error", err)
			return false
		}
		l.logger.Info("latest terminology version", "terminology", name, "actual_version", latest)
		return latest == prior.ActualVersion
	}
	l.logger.Info("terminology version differs from imported", "terminology", name, "actual_version", prior.ActualVersion, "requested_version", params.Version)
	return false
}
