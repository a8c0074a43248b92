// Package fhirpkg imports CodeSystems shipped in FHIR NPM packages published
// on a FHIR package registry (hl7.terminology and friends).
package fhirpkg

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"

	"termsync/internal/content"
	"termsync/internal/logging"
	"termsync/internal/strategy"
	"termsync/pkg/domain"
)

const (
	// DefaultRegistry is the public FHIR package registry.
	DefaultRegistry = "https://packages.fhir.org"

	defaultTimeout  = 5 * time.Minute
	maxEntryBytes   = 256 << 20
	maxManifestSize = 32 << 20
	snomedURIPrefix = "http://snomed.info/sct"
)

// Config describes one terminology served from a registry package.
type Config struct {
	// Terminology is the catalog name content is stored under.
	Terminology string
	// Package is the registry package id, e.g. hl7.terminology.r4.
	Package  string
	Registry string
	WorkDir  string
	// URLs restricts the import to CodeSystems with these canonical URLs.
	// Empty imports every CodeSystem in the package.
	URLs []string
}

// Strategy implements strategy.Strategy for a Config.
type Strategy struct {
	cfg     Config
	content content.Writer
	client  *http.Client
	logger  logging.Logger
	local   *regexp.Regexp
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithHTTPClient sets the registry client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Strategy) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Strategy) { s.logger = logging.OrNop(l) }
}

var _ strategy.Strategy = (*Strategy)(nil)

// New validates cfg and returns a Strategy writing CodeSystems to w.
func New(cfg Config, w content.Writer, opts ...Option) (*Strategy, error) {
	if cfg.Terminology == "" || cfg.Package == "" {
		return nil, errors.New("fhirpkg: terminology and package required")
	}
	if w == nil {
		return nil, fmt.Errorf("fhirpkg %s: content writer required", cfg.Terminology)
	}
	if cfg.Registry == "" {
		cfg.Registry = DefaultRegistry
	}
	cfg.Registry = strings.TrimRight(cfg.Registry, "/")
	s := &Strategy{
		cfg:     cfg,
		content: w,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logging.Nop(),
		local:   regexp.MustCompile(`^` + regexp.QuoteMeta(cfg.Package) + `-.+\.tgz$`),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FileName returns the working-directory name of a package version.
func (s *Strategy) FileName(version string) string {
	return s.cfg.Package + "-" + version + ".tgz"
}

type manifest struct {
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Dist struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
		URL string `json:"url"`
	} `json:"versions"`
}

func (s *Strategy) manifest(ctx context.Context) (*manifest, error) {
	u := s.cfg.Registry + "/" + s.cfg.Package
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch package info %s: %w", s.cfg.Package, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package not found: %s (status %d)", s.cfg.Package, resp.StatusCode)
	}
	var m manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestSize)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode package info %s: %w", s.cfg.Package, err)
	}
	return &m, nil
}

// DiscoverLatestVersion reads the registry's latest dist-tag.
func (s *Strategy) DiscoverLatestVersion(ctx context.Context, _ string) (string, error) {
	m, err := s.manifest(ctx)
	if err != nil {
		return "", err
	}
	latest := m.DistTags[domain.VersionLatest]
	if latest == "" {
		return "", fmt.Errorf("no latest version found for package %s", s.cfg.Package)
	}
	return latest, nil
}

// FetchPackages downloads the requested package version into WorkDir. The
// local version uses the newest package file already there.
func (s *Strategy) FetchPackages(ctx context.Context, params domain.ImportParams) ([]string, error) {
	if params.IsLocal() {
		file, err := strategy.FindNewest(s.cfg.WorkDir, s.local)
		if errors.Is(err, strategy.ErrNoMatch) {
			return nil, domain.FileNotFoundError(s.cfg.Package)
		}
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	}

	m, err := s.manifest(ctx)
	if err != nil {
		return nil, err
	}
	version := params.Version
	if params.IsLatest() {
		if version = m.DistTags[domain.VersionLatest]; version == "" {
			return nil, fmt.Errorf("no latest version found for package %s", s.cfg.Package)
		}
	}
	v, ok := m.Versions[version]
	if !ok {
		return nil, &domain.ServiceError{
			Message: fmt.Sprintf("version %s not found for package %s", version, s.cfg.Package),
			Err:     domain.ErrNotFound,
		}
	}
	tarball := v.Dist.Tarball
	if tarball == "" {
		tarball = v.URL
	}
	if tarball == "" {
		tarball = s.cfg.Registry + "/" + s.cfg.Package + "/" + version
	}
	s.logger.Info("downloading fhir package", "terminology", s.cfg.Terminology, "package", s.cfg.Package, "requested_version", version)
	dest := filepath.Join(s.cfg.WorkDir, s.FileName(version))
	if err := s.download(ctx, tarball, dest); err != nil {
		return nil, err
	}
	return []string{dest}, nil
}

func (s *Strategy) download(ctx context.Context, src, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", src, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// ImportPackages stores every selected CodeSystem of the last package file
// as one content package.
func (s *Strategy) ImportPackages(ctx context.Context, params domain.ImportParams, files []string) error {
	file := files[len(files)-1]
	version, err := s.ParseVersion(filepath.Base(file))
	if err != nil {
		return err
	}
	systems, err := s.readCodeSystems(file)
	if err != nil {
		return err
	}
	if len(s.cfg.URLs) > 0 {
		found := make(map[string]bool, len(systems))
		for _, cs := range systems {
			found[cs.URL] = true
		}
		var missing []string
		for _, u := range s.cfg.URLs {
			if !found[u] {
				missing = append(missing, u)
			}
		}
		if len(missing) > 0 {
			return domain.NewServiceError("Failed to find resources (%s) within package %s", strings.Join(missing, ", "), filepath.Base(file))
		}
	}
	if len(systems) == 0 {
		return domain.NewServiceError("No code systems found in package %s", filepath.Base(file))
	}
	_, err = s.content.CreateOrReplace(ctx, content.Package{
		Terminology: s.cfg.Terminology,
		Version:     version,
		CodeSystems: systems,
	})
	return err
}

func (s *Strategy) readCodeSystems(file string) ([]content.CodeSystem, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(file), err)
	}
	defer func() { _ = gz.Close() }()

	want := make(map[string]bool, len(s.cfg.URLs))
	for _, u := range s.cfg.URLs {
		want[u] = true
	}
	var out []content.CodeSystem
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(file), err)
		}
		name := path.Clean(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || strings.HasPrefix(name, "..") || path.IsAbs(name) {
			continue
		}
		if path.Ext(name) != ".json" || path.Base(name) == "package.json" || strings.HasPrefix(path.Base(name), ".") {
			continue
		}
		if hdr.Size > maxEntryBytes {
			return nil, fmt.Errorf("entry %s exceeds %d bytes", name, maxEntryBytes)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var probe struct {
			ResourceType string `json:"resourceType"`
		}
		if json.Unmarshal(data, &probe) != nil || probe.ResourceType != "CodeSystem" {
			continue
		}
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if cs.Url == nil || (len(want) > 0 && !want[*cs.Url]) {
			continue
		}
		if strings.HasPrefix(*cs.Url, snomedURIPrefix) {
			s.logger.Info("skipping snomed code system in package", "terminology", s.cfg.Terminology, "entry", name)
			continue
		}
		flat, err := content.FromR4(&cs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		s.logger.Debug("read code system", "terminology", s.cfg.Terminology, "url", flat.URL, "concepts", len(flat.Concepts))
		out = append(out, flat)
	}
	return out, nil
}

// ParseVersion strips the package id prefix and the .tgz suffix.
func (s *Strategy) ParseVersion(fileName string) (string, error) {
	prefix := s.cfg.Package + "-"
	if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, ".tgz") {
		return "", fmt.Errorf("cannot derive %s version from %q", s.cfg.Package, fileName)
	}
	v := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), ".tgz")
	if v == "" {
		return "", fmt.Errorf("cannot derive %s version from %q", s.cfg.Package, fileName)
	}
	return v, nil
}
