package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"termsync/internal/config"
	"termsync/pkg/domain"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvStorageDriver, "memory")
	t.Setenv(config.EnvBlobDriver, "memory")
	t.Setenv(config.EnvWorkDir, t.TempDir())
	t.Setenv(config.EnvLogLevel, "error")
}

func TestCLIUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected usage exit code 2, got %d", code)
	}
	if code := cli(context.Background(), []string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected flag error exit code 2, got %d", code)
	}
}

func TestCLIStatusEmpty(t *testing.T) {
	memoryEnv(t)
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), []string{"-env", "", "-status"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Fatalf("unexpected status output %q", stdout.String())
	}
}

func TestCLIUnknownTerminology(t *testing.T) {
	memoryEnv(t)
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), []string{"-env", "", "-terminology", "klingon"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown syndication terminology: klingon") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestCLIImportsBundledTerminology(t *testing.T) {
	memoryEnv(t)
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-env", "", "-terminology", "M49", "-status"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "M49 import scheduled\n") {
		t.Fatalf("unexpected output %q", out)
	}
	var statuses []domain.ImportStatus
	if err := json.Unmarshal([]byte(strings.TrimPrefix(out, "M49 import scheduled\n")), &statuses); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Terminology != domain.TerminologyM49 || statuses[0].Status != domain.StatusCompleted {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
}

func TestCLIInvalidConfig(t *testing.T) {
	memoryEnv(t)
	t.Setenv(config.EnvStorageDriver, "mongo")
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), []string{"-env", "", "-status"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
