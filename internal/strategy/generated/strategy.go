// Package generated imports code systems bundled with the binary, such as
// the UN M49 region codes, that have no upstream package to download.
package generated

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofhir/fhir/r4"

	"termsync/internal/content"
	"termsync/internal/logging"
	"termsync/internal/strategy"
	"termsync/pkg/domain"
)

//go:embed m49.json
var m49 []byte

// M49 returns the bundled M49 CodeSystem document.
func M49() []byte { return append([]byte(nil), m49...) }

// Config describes one bundled code system.
type Config struct {
	Terminology string
	WorkDir     string
	// Document is a FHIR R4 CodeSystem carrying a version.
	Document []byte
}

// Strategy implements strategy.Strategy over a bundled document.
type Strategy struct {
	cfg     Config
	version string
	content content.Writer
	logger  logging.Logger
	local   *regexp.Regexp
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Strategy) { s.logger = logging.OrNop(l) }
}

var _ strategy.Strategy = (*Strategy)(nil)

// New decodes cfg.Document once to learn its version.
func New(cfg Config, w content.Writer, opts ...Option) (*Strategy, error) {
	if cfg.Terminology == "" {
		return nil, errors.New("generated: terminology required")
	}
	if w == nil {
		return nil, fmt.Errorf("generated %s: content writer required", cfg.Terminology)
	}
	cs, err := decode(cfg.Document)
	if err != nil {
		return nil, fmt.Errorf("generated %s: %w", cfg.Terminology, err)
	}
	if cs.Version == nil || strings.TrimSpace(*cs.Version) == "" {
		return nil, fmt.Errorf("generated %s: document has no version", cfg.Terminology)
	}
	s := &Strategy{
		cfg:     cfg,
		version: *cs.Version,
		content: w,
		logger:  logging.Nop(),
		local:   regexp.MustCompile(`^` + regexp.QuoteMeta(cfg.Terminology) + `-.+\.json$`),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewM49 returns the strategy for the bundled M49 code system.
func NewM49(workDir string, w content.Writer, opts ...Option) (*Strategy, error) {
	return New(Config{Terminology: domain.TerminologyM49, WorkDir: workDir, Document: m49}, w, opts...)
}

func decode(data []byte) (*r4.CodeSystem, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode code system: %w", err)
	}
	if probe.ResourceType != "CodeSystem" {
		return nil, fmt.Errorf("unsupported resourceType: %q", probe.ResourceType)
	}
	var cs r4.CodeSystem
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode code system: %w", err)
	}
	return &cs, nil
}

// Version is the version of the bundled document.
func (s *Strategy) Version() string { return s.version }

// FetchPackages writes the bundled document to WorkDir. Only the bundled
// version exists; any other explicit version yields no packages. The local
// version reuses a previously written file.
func (s *Strategy) FetchPackages(_ context.Context, params domain.ImportParams) ([]string, error) {
	if params.IsLocal() {
		file, err := strategy.FindNewest(s.cfg.WorkDir, s.local)
		if errors.Is(err, strategy.ErrNoMatch) {
			return nil, domain.FileNotFoundError(s.cfg.Terminology)
		}
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	}
	if !params.IsLatest() && params.Version != s.version {
		s.logger.Warn("requested version is not bundled", "terminology", s.cfg.Terminology,
			"requested_version", params.Version, "actual_version", s.version)
		return nil, nil
	}
	if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	path := filepath.Join(s.cfg.WorkDir, s.cfg.Terminology+"-"+s.version+".json")
	if err := os.WriteFile(path, s.cfg.Document, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return []string{path}, nil
}

// ImportPackages stores the code system read from the last file.
func (s *Strategy) ImportPackages(ctx context.Context, _ domain.ImportParams, files []string) error {
	file := files[len(files)-1]
	version, err := s.ParseVersion(filepath.Base(file))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	cs, err := decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(file), err)
	}
	flat, err := content.FromR4(cs)
	if err != nil {
		return err
	}
	_, err = s.content.CreateOrReplace(ctx, content.Package{
		Terminology: s.cfg.Terminology,
		Version:     version,
		CodeSystems: []content.CodeSystem{flat},
	})
	return err
}

// DiscoverLatestVersion returns the bundled version.
func (s *Strategy) DiscoverLatestVersion(context.Context, string) (string, error) {
	return s.version, nil
}

// ParseVersion strips the terminology prefix and the .json suffix.
func (s *Strategy) ParseVersion(fileName string) (string, error) {
	prefix := s.cfg.Terminology + "-"
	v := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), ".json")
	if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, ".json") || v == "" {
		return "", fmt.Errorf("cannot derive %s version from %q", s.cfg.Terminology, fileName)
	}
	return v, nil
}
