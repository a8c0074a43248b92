// Package release imports terminologies distributed as release archives
// that are downloaded and loaded by external tooling (LOINC, SNOMED CT,
// ICD-10, ICPC-2, ATC).
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"termsync/internal/logging"
	"termsync/internal/strategy"
	"termsync/pkg/domain"
)

// Config describes one release-archive terminology.
//
// Argv templates accept the placeholders {file}, {version}, {extension},
// {module} and {loinc}. {version} expands to "" for the latest release,
// {module} to the requested edition module and {loinc} to true or false.
type Config struct {
	// Label is the display name used in messages, e.g. "Loinc".
	Label   string
	WorkDir string
	// FilePattern matches release archive base names inside WorkDir.
	FilePattern *regexp.Regexp
	Download    []string
	Import      []string
	// LatestURL is fetched and searched with LatestPattern to discover the
	// newest published version. The first capture group wins when present.
	// {module} is replaced in the URL.
	LatestURL     string
	LatestPattern *regexp.Regexp
	// LatestCommand is run instead of fetching LatestURL when set. Without a
	// LatestPattern every output line is read as a release file name and the
	// first one VersionPattern accepts gives the version.
	LatestCommand []string
	// VersionPattern is applied to a release file name and expanded with
	// VersionTemplate to produce the recorded version. {module} in the
	// template becomes the edition module.
	VersionPattern  *regexp.Regexp
	VersionTemplate string
	// Editions enables edition-scoped versions. The module of a release is
	// taken from its file name, then from the request, then DefaultModule.
	Editions      Editions
	DefaultModule string
}

// Strategy implements strategy.Strategy for a Config.
type Strategy struct {
	cfg    Config
	runner Runner
	client *http.Client
	logger logging.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(s *Strategy) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithHTTPClient sets the client used for latest-version discovery.
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

var (
	_ strategy.Strategy = (*Strategy)(nil)
	_ strategy.Scoped   = (*Strategy)(nil)
)

// New validates cfg and returns a Strategy.
func New(cfg Config, opts ...Option) (*Strategy, error) {
	if cfg.Label == "" {
		return nil, errors.New("release: label required")
	}
	if cfg.FilePattern == nil || cfg.VersionPattern == nil {
		return nil, fmt.Errorf("release %s: file and version patterns required", cfg.Label)
	}
	if cfg.VersionTemplate == "" {
		cfg.VersionTemplate = "$1"
	}
	s := &Strategy{cfg: cfg, runner: ExecRunner{}, client: http.DefaultClient, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchPackages returns the local release archive, downloading it first
// unless the local version was requested.
func (s *Strategy) FetchPackages(ctx context.Context, params domain.ImportParams) ([]string, error) {
	if !params.IsLocal() {
		if len(s.cfg.Download) == 0 {
			return nil, domain.NewServiceError("%s download command not configured", s.cfg.Label)
		}
		s.logger.Info("downloading release", "terminology", params.Terminology.Name, "requested_version", params.Version)
		cmd := Command{Label: "Download " + s.cfg.Label + " terminology", Dir: s.cfg.WorkDir, Argv: s.expand(s.cfg.Download, params, "")}
		if _, err := s.runner.Run(ctx, cmd); err != nil {
			return nil, err
		}
	}
	file, err := strategy.FindNewest(s.cfg.WorkDir, s.cfg.FilePattern)
	if errors.Is(err, strategy.ErrNoMatch) {
		return nil, domain.FileNotFoundError(s.cfg.Label)
	}
	if err != nil {
		return nil, err
	}
	return []string{file}, nil
}

// ImportPackages hands the first archive to the configured import command.
func (s *Strategy) ImportPackages(ctx context.Context, params domain.ImportParams, files []string) error {
	if len(s.cfg.Import) == 0 {
		return domain.NewServiceError("%s import command not configured", s.cfg.Label)
	}
	cmd := Command{Label: "Import " + s.cfg.Label + " terminology", Dir: s.cfg.WorkDir, Argv: s.expand(s.cfg.Import, params, filepath.Base(files[0]))}
	_, err := s.runner.Run(ctx, cmd)
	return err
}

// DiscoverLatestVersion returns the newest published version. For edition
// scoped terminologies the edition is taken from the hint, an edition URI,
// and falls back to DefaultModule.
func (s *Strategy) DiscoverLatestVersion(ctx context.Context, hint string) (string, error) {
	module := s.hintModule(hint)
	var (
		body   []byte
		source string
		err    error
	)
	switch {
	case len(s.cfg.LatestCommand) > 0:
		argv := replaceAll(s.cfg.LatestCommand, strings.NewReplacer("{module}", module, "{version}", hint))
		source = strings.Join(argv, " ")
		var out string
		out, err = s.runner.Run(ctx, Command{Label: "Find latest " + s.cfg.Label + " version", Dir: s.cfg.WorkDir, Argv: argv})
		body = []byte(out)
	case s.cfg.LatestURL != "" && s.cfg.LatestPattern != nil:
		source = strings.ReplaceAll(s.cfg.LatestURL, "{module}", module)
		body, err = s.fetchPage(ctx, source)
	default:
		return "", domain.NewServiceError("%s has no latest-version source", s.cfg.Label)
	}
	if err != nil {
		return "", err
	}
	if s.cfg.LatestPattern == nil {
		for _, line := range strings.Split(string(body), "\n") {
			if v, err := s.versionOf(filepath.Base(strings.TrimSpace(line)), module); err == nil {
				return v, nil
			}
		}
		return "", fmt.Errorf("no %s release found by %s", s.cfg.Label, source)
	}
	m := s.cfg.LatestPattern.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("no %s version found at %s", s.cfg.Label, source)
	}
	if len(m) > 1 {
		return string(m[1]), nil
	}
	return string(m[0]), nil
}

func (s *Strategy) fetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// ParseVersion derives the recorded version from a release file name.
func (s *Strategy) ParseVersion(fileName string) (string, error) {
	return s.versionOf(fileName, "")
}

// ScopedVersion is ParseVersion with the edition requested by params used
// when the file name does not identify one.
func (s *Strategy) ScopedVersion(params domain.ImportParams, fileName string) (string, error) {
	return s.versionOf(fileName, s.requestedModule(params))
}

// LatestHint names the requested edition for the latest-version lookup. A
// "latest" request for an extension becomes that edition's URI.
func (s *Strategy) LatestHint(params domain.ImportParams) string {
	if s.cfg.Editions == nil || !params.IsLatest() {
		return params.Version
	}
	if module := s.requestedModule(params); module != "" {
		return EditionURI(module)
	}
	return params.Version
}

func (s *Strategy) versionOf(fileName, module string) (string, error) {
	m := s.cfg.VersionPattern.FindStringSubmatchIndex(fileName)
	if m == nil {
		return "", fmt.Errorf("cannot derive %s version from %q", s.cfg.Label, fileName)
	}
	tmpl := s.cfg.VersionTemplate
	if s.cfg.Editions != nil {
		if e, ok := s.cfg.Editions.ForFile(fileName); ok {
			module = e.Module
		}
		if module == "" {
			module = s.cfg.DefaultModule
		}
		if module == "" {
			return "", fmt.Errorf("cannot derive %s edition from %q", s.cfg.Label, fileName)
		}
		tmpl = strings.ReplaceAll(tmpl, "{module}", module)
	}
	return string(s.cfg.VersionPattern.ExpandString(nil, tmpl, fileName, m)), nil
}

// requestedModule returns the edition module named by the version URI or
// the extension, or "" when the request names none.
func (s *Strategy) requestedModule(params domain.ImportParams) string {
	if s.cfg.Editions == nil {
		return ""
	}
	if module, _, ok := ParseEditionURI(params.Version); ok {
		return module
	}
	if e, ok := s.cfg.Editions.ForCode(params.ExtensionName); ok {
		return e.Module
	}
	return ""
}

func (s *Strategy) hintModule(hint string) string {
	if s.cfg.Editions == nil {
		return ""
	}
	if module, _, ok := ParseEditionURI(hint); ok {
		return module
	}
	return s.cfg.DefaultModule
}

func (s *Strategy) expand(argv []string, params domain.ImportParams, file string) []string {
	version := params.Version
	if params.IsLatest() {
		version = ""
	}
	module := s.requestedModule(params)
	if module == "" {
		module = s.cfg.DefaultModule
	}
	return replaceAll(argv, strings.NewReplacer(
		"{file}", file,
		"{version}", version,
		"{extension}", params.ExtensionName,
		"{module}", module,
		"{loinc}", strconv.FormatBool(params.LoincAlreadyPresent),
	))
}

func replaceAll(argv []string, r *strings.Replacer) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
