package fhirpkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"termsync/internal/blob"
	"termsync/internal/content"
	"termsync/pkg/domain"
)

const ucumCodeSystem = `{
  "resourceType": "CodeSystem",
  "url": "http://unitsofmeasure.org",
  "concept": [
    {"code": "mg", "display": "milligram"},
    {"code": "g", "display": "gram", "concept": [{"code": "kg", "display": "kilogram"}]}
  ]
}`

const langCodeSystem = `{
  "resourceType": "CodeSystem",
  "url": "urn:ietf:bcp:47",
  "concept": [{"code": "en", "display": "English"}]
}`

func buildPackage(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func defaultPackage(t *testing.T) []byte {
	return buildPackage(t, map[string]string{
		"package/package.json":             `{"name":"hl7.terminology.r4","version":"6.2.0"}`,
		"package/CodeSystem-ucum.json":     ucumCodeSystem,
		"package/CodeSystem-bcp47.json":    langCodeSystem,
		"package/ValueSet-units.json":      `{"resourceType":"ValueSet","url":"http://example.org/vs"}`,
		"package/CodeSystem-snomedct.json": `{"resourceType":"CodeSystem","url":"http://snomed.info/sct"}`,
		"package/other/notes.txt":          "ignored",
		"package/.index.json":              `{"files":[]}`,
	})
}

type registry struct {
	*httptest.Server
	tarballs   int
	manifests  int
	failLatest bool
}

func newRegistry(t *testing.T, tgz []byte) *registry {
	t.Helper()
	r := &registry{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/" + TerminologyPackage:
			r.manifests++
			tags := map[string]string{"latest": "6.2.0"}
			if r.failLatest {
				tags = map[string]string{}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"dist-tags": tags,
				"versions": map[string]any{
					"6.2.0": map[string]any{"dist": map[string]string{"tarball": r.URL + "/tarballs/6.2.0.tgz"}},
					"6.1.0": map[string]any{"url": r.URL + "/tarballs/6.1.0.tgz"},
				},
			})
		case "/tarballs/6.2.0.tgz", "/tarballs/6.1.0.tgz":
			r.tarballs++
			_, _ = w.Write(tgz)
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(r.Close)
	return r
}

func newStrategy(t *testing.T, reg *registry, urls ...string) (*Strategy, *content.Store, Config) {
	t.Helper()
	store := content.NewStore(blob.NewMemory(), nil)
	cfg := Config{Terminology: domain.TerminologyUCUM, Package: TerminologyPackage, WorkDir: t.TempDir(), URLs: urls}
	if reg != nil {
		cfg.Registry = reg.URL + "/"
	}
	s, err := New(cfg, store, WithHTTPClient(http.DefaultClient))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, store, cfg
}

func params(version string) domain.ImportParams {
	return domain.ImportParams{Terminology: domain.Terminology{Name: domain.TerminologyUCUM, RequiresFiles: true}, Version: version}
}

func TestFetchLatestDownloadsTarball(t *testing.T) {
	reg := newRegistry(t, defaultPackage(t))
	s, _, cfg := newStrategy(t, reg)
	files, err := s.FetchPackages(context.Background(), params(domain.VersionLatest))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := filepath.Join(cfg.WorkDir, "hl7.terminology.r4-6.2.0.tgz")
	if len(files) != 1 || files[0] != want {
		t.Fatalf("unexpected files %v", files)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if reg.tarballs != 1 {
		t.Fatalf("expected one tarball download, got %d", reg.tarballs)
	}
	leftovers, _ := filepath.Glob(filepath.Join(cfg.WorkDir, ".download-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFetchExplicitVersionFallsBackToURL(t *testing.T) {
	reg := newRegistry(t, defaultPackage(t))
	s, _, _ := newStrategy(t, reg)
	files, err := s.FetchPackages(context.Background(), params("6.1.0"))
	if err != nil || filepath.Base(files[0]) != "hl7.terminology.r4-6.1.0.tgz" {
		t.Fatalf("files=%v err=%v", files, err)
	}
}

func TestFetchUnknownVersionIsNotFound(t *testing.T) {
	reg := newRegistry(t, defaultPackage(t))
	s, _, _ := newStrategy(t, reg)
	_, err := s.FetchPackages(context.Background(), params("1.0.0"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchLocalUsesWorkingDirectory(t *testing.T) {
	s, _, cfg := newStrategy(t, nil)
	if _, err := s.FetchPackages(context.Background(), params(domain.VersionLocal)); err == nil ||
		!strings.Contains(err.Error(), "terminology file not found") {
		t.Fatalf("expected file-not-found, got %v", err)
	}
	path := filepath.Join(cfg.WorkDir, s.FileName("6.0.0"))
	if err := os.WriteFile(path, defaultPackage(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, err := s.FetchPackages(context.Background(), params(domain.VersionLocal))
	if err != nil || len(files) != 1 || files[0] != path {
		t.Fatalf("files=%v err=%v", files, err)
	}
}

func TestImportFiltersCodeSystems(t *testing.T) {
	s, store, cfg := newStrategy(t, nil, "http://unitsofmeasure.org")
	path := filepath.Join(cfg.WorkDir, s.FileName("6.2.0"))
	if err := os.WriteFile(path, defaultPackage(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.ImportPackages(context.Background(), params("6.2.0"), []string{path}); err != nil {
		t.Fatalf("import: %v", err)
	}
	pkg, err := store.Load(context.Background(), domain.TerminologyUCUM, "6.2.0")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pkg.CodeSystems) != 1 || pkg.CodeSystems[0].URL != "http://unitsofmeasure.org" {
		t.Fatalf("unexpected code systems %+v", pkg.CodeSystems)
	}
	concepts := pkg.CodeSystems[0].Concepts
	if len(concepts) != 3 || concepts[2].Code != "kg" || concepts[2].Parent != "g" {
		t.Fatalf("unexpected concepts %+v", concepts)
	}
}

func TestImportAllSkipsSnomed(t *testing.T) {
	s, store, cfg := newStrategy(t, nil)
	path := filepath.Join(cfg.WorkDir, s.FileName("6.2.0"))
	if err := os.WriteFile(path, defaultPackage(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.ImportPackages(context.Background(), params("6.2.0"), []string{path}); err != nil {
		t.Fatalf("import: %v", err)
	}
	pkg, err := store.Load(context.Background(), domain.TerminologyUCUM, "6.2.0")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pkg.CodeSystems) != 2 {
		t.Fatalf("expected ucum and bcp47 only, got %+v", pkg.CodeSystems)
	}
}

func TestImportMissingFilteredURL(t *testing.T) {
	s, _, cfg := newStrategy(t, nil, "urn:iso:std:iso:3166")
	path := filepath.Join(cfg.WorkDir, s.FileName("6.2.0"))
	if err := os.WriteFile(path, defaultPackage(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := s.ImportPackages(context.Background(), params("6.2.0"), []string{path})
	if err == nil || !strings.Contains(err.Error(), "urn:iso:std:iso:3166") {
		t.Fatalf("expected missing resource error, got %v", err)
	}
}

func TestImportRejectsCorruptArchive(t *testing.T) {
	s, _, cfg := newStrategy(t, nil)
	path := filepath.Join(cfg.WorkDir, s.FileName("6.2.0"))
	if err := os.WriteFile(path, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.ImportPackages(context.Background(), params("6.2.0"), []string{path}); err == nil {
		t.Fatalf("expected error for corrupt archive")
	}
}

func TestDiscoverLatestVersion(t *testing.T) {
	reg := newRegistry(t, nil)
	s, _, _ := newStrategy(t, reg)
	got, err := s.DiscoverLatestVersion(context.Background(), "")
	if err != nil || got != "6.2.0" {
		t.Fatalf("got %q err=%v", got, err)
	}
	reg.failLatest = true
	if _, err := s.DiscoverLatestVersion(context.Background(), ""); err == nil {
		t.Fatalf("expected error without latest tag")
	}
}

func TestParseVersion(t *testing.T) {
	s, _, _ := newStrategy(t, nil)
	if v, err := s.ParseVersion("hl7.terminology.r4-6.2.0.tgz"); err != nil || v != "6.2.0" {
		t.Fatalf("got %q err=%v", v, err)
	}
	for _, name := range []string{"hl7.terminology.r4-.tgz", "other-1.0.0.tgz", "hl7.terminology.r4-6.2.0.zip"} {
		if _, err := s.ParseVersion(name); err == nil {
			t.Fatalf("expected error for %s", name)
		}
	}
}

func TestDefaultsShareOnePackage(t *testing.T) {
	defaults := Defaults("/srv", "")
	for _, name := range []string{domain.TerminologyHL7, domain.TerminologyUCUM, domain.TerminologyBCP13, domain.TerminologyBCP47, domain.TerminologyISO3166} {
		cfg, ok := defaults[name]
		if !ok || cfg.Package != TerminologyPackage || cfg.WorkDir != filepath.Join("/srv", name) {
			t.Fatalf("unexpected config for %s: %+v", name, cfg)
		}
	}
	if len(defaults[domain.TerminologyHL7].URLs) != 0 {
		t.Fatalf("hl7 imports the whole package")
	}
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}
