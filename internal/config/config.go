// Package config loads runtime settings from an optional .env file and
// TERMSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"termsync/internal/async"
	"termsync/internal/blob"
	"termsync/internal/strategy/fhirpkg"
	"termsync/internal/strategy/release"
)

// StorageDriver identifies a status store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variable names.
const (
	EnvStorageDriver   = "TERMSYNC_STORAGE_DRIVER"
	EnvSQLitePath      = "TERMSYNC_SQLITE_PATH"
	EnvPostgresDSN     = "TERMSYNC_POSTGRES_DSN"
	EnvBlobDriver      = "TERMSYNC_BLOB_DRIVER"
	EnvBlobFSRoot      = "TERMSYNC_BLOB_FS_ROOT"
	EnvBlobS3Bucket    = "TERMSYNC_BLOB_S3_BUCKET"
	EnvBlobS3Region    = "TERMSYNC_BLOB_S3_REGION"
	EnvBlobS3Endpoint  = "TERMSYNC_BLOB_S3_ENDPOINT"
	EnvBlobS3PathStyle = "TERMSYNC_BLOB_S3_PATH_STYLE"
	EnvWorkers         = "TERMSYNC_WORKERS"
	EnvQueueSize       = "TERMSYNC_QUEUE_SIZE"
	EnvWorkDir         = "TERMSYNC_WORKDIR"
	EnvFHIRRegistry    = "TERMSYNC_FHIR_REGISTRY"
	EnvSnomedModule    = "TERMSYNC_SNOMED_MODULE"
	EnvLatestTimeout   = "TERMSYNC_LATEST_TIMEOUT"
	EnvLogLevel        = "TERMSYNC_LOG_LEVEL"
	EnvLogFormat       = "TERMSYNC_LOG_FORMAT"
	EnvMetricsAddr     = "TERMSYNC_METRICS_ADDR"
	EnvRefreshSchedule = "TERMSYNC_REFRESH_SCHEDULE"
	EnvSecret          = "TERMSYNC_SYNDICATION_SECRET"
)

// Config is the resolved runtime configuration.
type Config struct {
	StorageDriver StorageDriver
	SQLitePath    string
	PostgresDSN   string

	Blob blob.Config

	Workers   int
	QueueSize int

	WorkDir       string
	FHIRRegistry  string
	SnomedModule  string
	LatestTimeout time.Duration

	LogLevel  string
	LogFormat string

	MetricsAddr     string
	RefreshSchedule string

	SyndicationSecret string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		StorageDriver: StorageSQLite,
		SQLitePath:    "termsync.db",
		Blob:          blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./blobdata"},
		Workers:       async.DefaultWorkers(),
		QueueSize:     64,
		WorkDir:       "./syndication",
		FHIRRegistry:  fhirpkg.DefaultRegistry,
		SnomedModule:  release.DefaultSnomedModule,
		LatestTimeout: 30 * time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
		MetricsAddr:   ":9102",
		// daily at 03:00
		RefreshSchedule: "0 3 * * *",
	}
}

// Load reads envFile when it exists (a missing file is not an error) and
// then overlays TERMSYNC_* variables on Default. Variables already present
// in the environment take precedence over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default()
	var errs []error

	if v := lookup(EnvStorageDriver); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	setString(&cfg.SQLitePath, EnvSQLitePath)
	setString(&cfg.PostgresDSN, EnvPostgresDSN)

	if v := lookup(EnvBlobDriver); v != "" {
		cfg.Blob.Driver = blob.Driver(strings.ToLower(v))
	}
	setString(&cfg.Blob.FSRoot, EnvBlobFSRoot)
	setString(&cfg.Blob.S3.Bucket, EnvBlobS3Bucket)
	setString(&cfg.Blob.S3.Region, EnvBlobS3Region)
	setString(&cfg.Blob.S3.Endpoint, EnvBlobS3Endpoint)
	if v := lookup(EnvBlobS3PathStyle); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvBlobS3PathStyle, err))
		}
		cfg.Blob.S3.PathStyle = b
	}

	errs = append(errs, setInt(&cfg.Workers, EnvWorkers), setInt(&cfg.QueueSize, EnvQueueSize))
	setString(&cfg.WorkDir, EnvWorkDir)
	setString(&cfg.FHIRRegistry, EnvFHIRRegistry)
	setString(&cfg.SnomedModule, EnvSnomedModule)
	if v := lookup(EnvLatestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvLatestTimeout, err))
		}
		cfg.LatestTimeout = d
	}
	setString(&cfg.LogLevel, EnvLogLevel)
	setString(&cfg.LogFormat, EnvLogFormat)
	setString(&cfg.MetricsAddr, EnvMetricsAddr)
	if v, ok := os.LookupEnv(EnvRefreshSchedule); ok {
		cfg.RefreshSchedule = strings.TrimSpace(v)
	}
	cfg.SyndicationSecret = os.Getenv(EnvSecret)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be corrected silently.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %s", c.StorageDriver))
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("%s required for the s3 blob driver", EnvBlobS3Bucket))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %s", c.Blob.Driver))
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		errs = append(errs, errors.New("workers and queue size must be positive"))
	}
	if c.LatestTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvLatestTimeout))
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRefreshSchedule, err))
		}
	}
	return errors.Join(errs...)
}

func lookup(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func setString(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := lookup(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
