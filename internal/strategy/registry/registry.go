// Package registry assembles the name-keyed strategy table for the catalog.
package registry

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sort"

	"termsync/internal/content"
	"termsync/internal/logging"
	"termsync/internal/strategy"
	"termsync/internal/strategy/fhirpkg"
	"termsync/internal/strategy/generated"
	"termsync/internal/strategy/release"
	"termsync/pkg/domain"
)

// Config carries what the concrete strategies need.
type Config struct {
	// WorkRoot holds one working directory per terminology.
	WorkRoot     string
	FHIRRegistry string
	SnomedModule string
	HTTPClient   *http.Client
	// Runner overrides the external process runner of release strategies.
	Runner release.Runner
	Logger logging.Logger
}

// Strategies maps canonical terminology names to their strategy.
type Strategies map[string]strategy.Strategy

// Build returns a strategy for every terminology of the default catalog.
func Build(cfg Config, w content.Writer) (Strategies, error) {
	logger := logging.OrNop(cfg.Logger)
	out := make(Strategies)

	for name, rc := range release.Defaults(cfg.WorkRoot, cfg.SnomedModule) {
		opts := []release.Option{release.WithLogger(logger), release.WithHTTPClient(cfg.HTTPClient)}
		if cfg.Runner != nil {
			opts = append(opts, release.WithRunner(cfg.Runner))
		}
		s, err := release.New(rc, opts...)
		if err != nil {
			return nil, fmt.Errorf("build %s strategy: %w", name, err)
		}
		out[name] = s
	}
	for name, fc := range fhirpkg.Defaults(cfg.WorkRoot, cfg.FHIRRegistry) {
		s, err := fhirpkg.New(fc, w, fhirpkg.WithLogger(logger), fhirpkg.WithHTTPClient(cfg.HTTPClient))
		if err != nil {
			return nil, fmt.Errorf("build %s strategy: %w", name, err)
		}
		out[name] = s
	}
	m49, err := generated.NewM49(filepath.Join(cfg.WorkRoot, domain.TerminologyM49), w, generated.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build %s strategy: %w", domain.TerminologyM49, err)
	}
	out[domain.TerminologyM49] = m49
	return out, nil
}

// Missing lists catalog entries without a strategy, sorted.
func (s Strategies) Missing(catalog *domain.Catalog) []string {
	var missing []string
	for _, t := range catalog.All() {
		if _, ok := s[t.Name]; !ok {
			missing = append(missing, t.Name)
		}
	}
	sort.Strings(missing)
	return missing
}
