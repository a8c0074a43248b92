package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"termsync/internal/blob"
	"termsync/pkg/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvStorageDriver, EnvSQLitePath, EnvPostgresDSN, EnvBlobDriver, EnvBlobFSRoot,
		EnvBlobS3Bucket, EnvBlobS3Region, EnvBlobS3Endpoint, EnvBlobS3PathStyle,
		EnvWorkers, EnvQueueSize, EnvWorkDir, EnvFHIRRegistry, EnvSnomedModule,
		EnvLatestTimeout, EnvLogLevel, EnvLogFormat, EnvMetricsAddr, EnvRefreshSchedule, EnvSecret,
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.StorageDriver != StorageSQLite || cfg.Blob.Driver != blob.DriverFilesystem || cfg.Workers != want.Workers ||
		cfg.LatestTimeout != 30*time.Second || cfg.RefreshSchedule != want.RefreshSchedule {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if n := len(domain.DefaultCatalog().All()); cfg.Workers < n {
		t.Fatalf("default workers %d cannot import all %d terminologies at once", cfg.Workers, n)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStorageDriver, "Postgres")
	t.Setenv(EnvPostgresDSN, "postgres://db/termsync")
	t.Setenv(EnvBlobDriver, "s3")
	t.Setenv(EnvBlobS3Bucket, "terminology")
	t.Setenv(EnvBlobS3PathStyle, "true")
	t.Setenv(EnvWorkers, "8")
	t.Setenv(EnvLatestTimeout, "5s")
	t.Setenv(EnvRefreshSchedule, "")
	t.Setenv(EnvSecret, "s3cret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDriver != StoragePostgres || cfg.PostgresDSN != "postgres://db/termsync" {
		t.Fatalf("storage not applied: %+v", cfg)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "terminology" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("blob not applied: %+v", cfg.Blob)
	}
	if cfg.Workers != 8 || cfg.LatestTimeout != 5*time.Second || cfg.RefreshSchedule != "" || cfg.SyndicationSecret != "s3cret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), ".env")
	content := "TERMSYNC_STORAGE_DRIVER=memory\nTERMSYNC_WORKDIR=/srv/syndication\nTERMSYNC_LOG_LEVEL=debug\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := Load(file)
	t.Cleanup(func() {
		_ = os.Unsetenv(EnvStorageDriver)
		_ = os.Unsetenv(EnvWorkDir)
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDriver != StorageMemory || cfg.WorkDir != "/srv/syndication" {
		t.Fatalf("env file not applied: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("environment must win over the file, got %s", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		EnvStorageDriver:   "mongo",
		EnvBlobDriver:      "gcs",
		EnvWorkers:         "many",
		EnvLatestTimeout:   "soon",
		EnvRefreshSchedule: "every day",
		EnvBlobS3PathStyle: "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(""); err == nil || !strings.Contains(err.Error(), value) && !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error for %s=%s, got %v", key, value, err)
			}
		})
	}
}

func TestValidateS3NeedsBucket(t *testing.T) {
	cfg := Default()
	cfg.Blob.Driver = blob.DriverS3
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), EnvBlobS3Bucket) {
		t.Fatalf("expected bucket error, got %v", err)
	}
	cfg = Default()
	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected workers error")
	}
}
