// Command termsync keeps terminology server content current: it requests
// imports of individual terminologies or of the default set, prints the
// import status read model and, in serve mode, refreshes the defaults on a
// schedule while exposing metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"termsync/internal/async"
	"termsync/internal/blob"
	"termsync/internal/config"
	"termsync/internal/content"
	"termsync/internal/core"
	"termsync/internal/logging"
	"termsync/internal/metrics"
	"termsync/internal/strategy/registry"
	"termsync/pkg/domain"
)

var exitFunc = os.Exit

const shutdownGrace = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type options struct {
	envFile     string
	terminology string
	version     string
	extension   string
	defaults    bool
	status      bool
	wait        bool
	serve       bool
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("termsync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.envFile, "env", ".env", "optional dotenv file")
	fs.StringVar(&opts.terminology, "terminology", "", "terminology to update, e.g. loinc")
	fs.StringVar(&opts.version, "version", "", `requested version: "latest" (default), "local" or an explicit version`)
	fs.StringVar(&opts.extension, "extension", "", "extension name passed to the import")
	fs.BoolVar(&opts.defaults, "defaults", false, "update every terminology imported by default")
	fs.BoolVar(&opts.status, "status", false, "print the import status of every terminology")
	fs.BoolVar(&opts.wait, "wait", true, "wait for scheduled imports before exiting")
	fs.BoolVar(&opts.serve, "serve", false, "serve metrics and refresh defaults on a schedule until interrupted")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.terminology == "" && !opts.defaults && !opts.status && !opts.serve {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "termsync: %v\n", err)
		return 1
	}
	logger := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err := run(ctx, cfg, opts, logger, stdout); err != nil {
		logger.Error("termsync failed", "error", err)
		return 1
	}
	return 0
}

type app struct {
	store   domain.StatusStore
	queue   *async.Queue
	service *core.Service
	prom    *metrics.Prometheus
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := core.OpenStatusStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	strategies, err := registry.Build(registry.Config{
		WorkRoot:     cfg.WorkDir,
		FHIRRegistry: cfg.FHIRRegistry,
		SnomedModule: cfg.SnomedModule,
		Logger:       logger,
	}, content.NewStore(blobs, logger))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	prom := metrics.NewPrometheus()
	local := metrics.NewExpvar("")
	queue := async.NewQueue(
		async.WithWorkers(cfg.Workers),
		async.WithQueueSize(cfg.QueueSize),
		async.WithLogger(logger),
		async.WithObserver(prom),
		async.WithObserver(local),
	)
	svc := core.NewService(store, strategies, queue,
		core.WithLogger(logger),
		core.WithMetrics(fanout{prom, local}),
		core.WithLatestTimeout(cfg.LatestTimeout),
	)
	return &app{store: store, queue: queue, service: svc, prom: prom}, nil
}

type fanout []core.DecisionRecorder

func (f fanout) RecordDecision(terminology, decision string) {
	for _, r := range f {
		r.RecordDecision(terminology, decision)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger, stdout io.Writer) (err error) {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var errs []error
	if opts.terminology != "" {
		done, uerr := a.service.UpdateTerminology(ctx, domain.ImportRequest{
			TerminologyName:   opts.terminology,
			Version:           opts.version,
			ExtensionName:     opts.extension,
			SyndicationSecret: cfg.SyndicationSecret,
		})
		switch {
		case uerr != nil:
			errs = append(errs, uerr)
		case done:
			_, _ = fmt.Fprintf(stdout, "%s is already up to date\n", opts.terminology)
		default:
			_, _ = fmt.Fprintf(stdout, "%s import scheduled\n", opts.terminology)
		}
	}
	if opts.defaults {
		if derr := a.service.ImportDefaults(ctx); derr != nil {
			errs = append(errs, derr)
		}
	}
	if opts.serve {
		if serr := serve(ctx, cfg, a, logger); serr != nil {
			errs = append(errs, serr)
		}
	}
	if opts.wait || opts.serve {
		waitCtx := ctx
		if opts.serve {
			// serve returns after ctx is done; running attempts get a grace period
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
		}
		if werr := a.queue.Shutdown(waitCtx); werr != nil {
			errs = append(errs, fmt.Errorf("wait for imports: %w", werr))
		}
	}
	if opts.status {
		if perr := printStatus(ctx, a.service, stdout); perr != nil {
			errs = append(errs, perr)
		}
	}
	return errors.Join(errs...)
}

func printStatus(ctx context.Context, svc *core.Service, w io.Writer) error {
	all, err := svc.GetAllImportStatuses(ctx)
	if err != nil {
		return err
	}
	if all == nil {
		all = []domain.ImportStatus{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

// serve exposes metrics and refreshes the default terminologies on the
// configured schedule until ctx is done.
func serve(ctx context.Context, cfg config.Config, a *app, logger *slog.Logger) error {
	sched := cron.New()
	if cfg.RefreshSchedule != "" {
		if _, err := sched.AddFunc(cfg.RefreshSchedule, func() {
			logger.Info("scheduled refresh of default terminologies")
			if err := a.service.ImportDefaults(ctx); err != nil {
				logger.Error("scheduled refresh", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr, "refresh_schedule", cfg.RefreshSchedule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
