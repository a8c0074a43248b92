package release

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"termsync/pkg/domain"
)

type fakeRunner struct {
	cmds   []Command
	onRun  func(Command) error
	output string
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (string, error) {
	f.cmds = append(f.cmds, cmd)
	if f.onRun != nil {
		if err := f.onRun(cmd); err != nil {
			return "", err
		}
	}
	return f.output, nil
}

func loincConfig(t *testing.T) Config {
	t.Helper()
	cfg := Defaults(t.TempDir(), "")[domain.TerminologyLOINC]
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return cfg
}

func loincParams(version string) domain.ImportParams {
	return domain.ImportParams{Terminology: domain.Terminology{Name: domain.TerminologyLOINC, RequiresFiles: true}, Version: version}
}

func TestFetchPackagesDownloadsThenLocates(t *testing.T) {
	cfg := loincConfig(t)
	runner := &fakeRunner{onRun: func(cmd Command) error {
		return os.WriteFile(filepath.Join(cmd.Dir, "Loinc_2.80.zip"), []byte("zip"), 0o644)
	}}
	s, err := New(cfg, WithRunner(runner))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	files, err := s.FetchPackages(context.Background(), loincParams(domain.VersionLatest))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "Loinc_2.80.zip" {
		t.Fatalf("unexpected files %v", files)
	}
	if len(runner.cmds) != 1 {
		t.Fatalf("expected one download, got %d", len(runner.cmds))
	}
	argv := runner.cmds[0].Argv
	if argv[0] != "node" || argv[len(argv)-1] != "" {
		t.Fatalf("latest must download with an empty version argument, got %q", argv)
	}
	if runner.cmds[0].Label != "Download Loinc terminology" {
		t.Fatalf("unexpected label %q", runner.cmds[0].Label)
	}
}

func TestFetchPackagesExplicitVersionArgument(t *testing.T) {
	cfg := loincConfig(t)
	runner := &fakeRunner{onRun: func(cmd Command) error {
		return os.WriteFile(filepath.Join(cmd.Dir, "Loinc_2.79.zip"), []byte("zip"), 0o644)
	}}
	s, _ := New(cfg, WithRunner(runner))
	if _, err := s.FetchPackages(context.Background(), loincParams("2.79")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := runner.cmds[0].Argv[2]; got != "2.79" {
		t.Fatalf("expected version argument, got %q", got)
	}
}

func TestFetchPackagesLocalSkipsDownload(t *testing.T) {
	cfg := loincConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.WorkDir, "Loinc_2.78-multiaxial.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runner := &fakeRunner{}
	s, _ := New(cfg, WithRunner(runner))
	files, err := s.FetchPackages(context.Background(), loincParams(domain.VersionLocal))
	if err != nil || len(files) != 1 {
		t.Fatalf("fetch local: files=%v err=%v", files, err)
	}
	if len(runner.cmds) != 0 {
		t.Fatalf("local fetch must not download")
	}
}

func TestFetchPackagesMissingFile(t *testing.T) {
	s, _ := New(loincConfig(t), WithRunner(&fakeRunner{}))
	_, err := s.FetchPackages(context.Background(), loincParams(domain.VersionLocal))
	if err == nil || err.Error() != "Loinc terminology file not found, cannot be imported" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFetchPackagesDownloadFailure(t *testing.T) {
	runner := &fakeRunner{onRun: func(Command) error { return errors.New("node missing") }}
	s, _ := New(loincConfig(t), WithRunner(runner))
	if _, err := s.FetchPackages(context.Background(), loincParams("2.80")); err == nil || !strings.Contains(err.Error(), "node missing") {
		t.Fatalf("expected download error, got %v", err)
	}
}

func TestImportPackagesExpandsPlaceholders(t *testing.T) {
	cfg := loincConfig(t)
	cfg.Import = []string{"importer", "{file}", "{version}", "{extension}", "{loinc}"}
	runner := &fakeRunner{}
	s, _ := New(cfg, WithRunner(runner))
	params := loincParams("2.80")
	params.ExtensionName = "be"
	params.LoincAlreadyPresent = true
	if err := s.ImportPackages(context.Background(), params, []string{filepath.Join(cfg.WorkDir, "Loinc_2.80.zip")}); err != nil {
		t.Fatalf("import: %v", err)
	}
	want := []string{"importer", "Loinc_2.80.zip", "2.80", "be", "true"}
	got := runner.cmds[0].Argv
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv: want %q got %q", want, got)
		}
	}
	if runner.cmds[0].Dir != cfg.WorkDir {
		t.Fatalf("import must run in working directory")
	}
}

func TestParseVersion(t *testing.T) {
	defaults := Defaults(t.TempDir(), "11000172109")
	cases := []struct {
		terminology, file, want string
	}{
		{domain.TerminologyLOINC, "Loinc_2.80.zip", "2.80"},
		{domain.TerminologyLOINC, "Loinc_2.78-multiaxial.zip", "2.78"},
		{domain.TerminologySNOMED, "SnomedCT_BelgiumExtensionRF2_PRODUCTION_20250315T120000Z.zip", "http://snomed.info/sct/11000172109/version/20250315"},
		{domain.TerminologyATC, "ATC_2025.csv", "2025"},
	}
	for _, tc := range cases {
		s, err := New(defaults[tc.terminology])
		if err != nil {
			t.Fatalf("New %s: %v", tc.terminology, err)
		}
		got, err := s.ParseVersion(tc.file)
		if err != nil || got != tc.want {
			t.Fatalf("%s %s: want %q got %q err=%v", tc.terminology, tc.file, tc.want, got, err)
		}
	}
	s, _ := New(defaults[domain.TerminologyLOINC])
	if _, err := s.ParseVersion("readme.txt"); err == nil {
		t.Fatalf("expected error for unrelated file")
	}
}

func TestDiscoverLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a href="/file/Loinc_2.81_Text.zip">LOINC 2.81</a><a href="Loinc-2.80">old</a>`))
	}))
	defer srv.Close()
	cfg := loincConfig(t)
	cfg.LatestURL = srv.URL
	s, _ := New(cfg, WithHTTPClient(srv.Client()))
	got, err := s.DiscoverLatestVersion(context.Background(), "latest")
	if err != nil || got != "2.81" {
		t.Fatalf("want 2.81 got %q err=%v", got, err)
	}
}

func TestDiscoverLatestVersionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("nothing here"))
	}))
	defer srv.Close()
	cfg := loincConfig(t)
	for _, url := range []string{srv.URL + "/down", srv.URL + "/empty"} {
		cfg.LatestURL = url
		s, _ := New(cfg, WithHTTPClient(srv.Client()))
		if _, err := s.DiscoverLatestVersion(context.Background(), ""); err == nil {
			t.Fatalf("expected error for %s", url)
		}
	}
	bare := loincConfig(t)
	bare.LatestURL = ""
	noSource, _ := New(bare)
	if _, err := noSource.DiscoverLatestVersion(context.Background(), ""); err == nil {
		t.Fatalf("expected error without latest source")
	}
	failing, _ := New(Defaults(t.TempDir(), "")[domain.TerminologyATC], WithRunner(&fakeRunner{onRun: func(Command) error {
		return errors.New("exit status 1")
	}}))
	if _, err := failing.DiscoverLatestVersion(context.Background(), domain.VersionLatest); err == nil {
		t.Fatalf("expected error from failing latest command")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected label error")
	}
	if _, err := New(Config{Label: "x"}); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestExecRunnerFailureCarriesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	_, err := ExecRunner{}.Run(context.Background(), Command{Label: "Import X", Argv: []string{"sh", "-c", "echo bad input >&2; exit 3"}})
	if err == nil || !strings.Contains(err.Error(), "exit code 3") || !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("unexpected error %v", err)
	}
	out, err := ExecRunner{}.Run(context.Background(), Command{Label: "echo", Argv: []string{"sh", "-c", "echo 2.80"}})
	if err != nil || out != "2.80" {
		t.Fatalf("unexpected output %q err=%v", out, err)
	}
}

func TestExecRunnerInterrupted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ExecRunner{}.Run(ctx, Command{Label: "Download", Argv: []string{"sleep", "5"}})
	if !errors.Is(err, domain.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if _, err := (ExecRunner{}).Run(context.Background(), Command{Label: "empty"}); err == nil {
		t.Fatalf("expected error for empty argv")
	}
}

func TestTail(t *testing.T) {
	if got := tail("abcdef", 3); got != "...def" {
		t.Fatalf("unexpected tail %q", got)
	}
}
