package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/artifact"
	"github.com/Pulkitjakhmola/custlysis/internal/config"
	"github.com/Pulkitjakhmola/custlysis/internal/grouping"
	"github.com/Pulkitjakhmola/custlysis/internal/ingestion"
	"github.com/Pulkitjakhmola/custlysis/internal/logger"
	"github.com/Pulkitjakhmola/custlysis/internal/orchestration"
	"github.com/Pulkitjakhmola/custlysis/internal/processing"
	"github.com/Pulkitjakhmola/custlysis/internal/registry"
	"github.com/Pulkitjakhmola/custlysis/internal/scheduler"
	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
	"github.com/Pulkitjakhmola/custlysis/internal/store"
	"github.com/Pulkitjakhmola/custlysis/internal/webhook"
)

const usage = `usage: custlysis <command> [flags]

commands:
  train                        train a new model on every customer
  predict -customer-id <id>    show the segment of one customer
  score                        re-score every customer with the current model
  segments                     describe the segments of the current model
  ingest -dir <path>           load customers.csv, accounts.csv, transactions.csv
  serve                        run the HTTP API, scheduler and webhook forwarder
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cmd, args := argv[0], argv[1:]

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log := logger.New(settings.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, settings, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return printOutcome(segmentation.Failed(err))
	}
	defer a.Close()

	switch cmd {
	case "train":
		summary, err := a.service.Train(ctx)
		return report(summary, err)
	case "predict":
		fs := flag.NewFlagSet("predict", flag.ExitOnError)
		customerID := fs.Int64("customer-id", 0, "customer to score")
		fs.Parse(args)
		if *customerID <= 0 {
			fmt.Fprintln(os.Stderr, "predict: -customer-id is required")
			return 2
		}
		pred, err := a.service.Predict(ctx, *customerID)
		return report(pred, err)
	case "score":
		summary, err := a.service.ScoreAll(ctx)
		return report(summary, err)
	case "segments":
		overview, err := a.service.Segments(ctx)
		return report(overview, err)
	case "ingest":
		fs := flag.NewFlagSet("ingest", flag.ExitOnError)
		dir := fs.String("dir", "data", "directory holding the CSV exports")
		fs.Parse(args)
		ingest := ingestion.NewService(processing.NewService(a.store, log), log)
		summary, err := ingest.IngestDir(ctx, *dir)
		return report(summary, err)
	case "serve":
		if err := a.serve(ctx, settings); err != nil {
			log.Error("server stopped with error", zap.Error(err))
			return 1
		}
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

type app struct {
	log     *zap.Logger
	store   *store.Store
	service *grouping.Service
	js      nats.JetStreamContext
	closers []func()
}

func newApp(ctx context.Context, s *config.Settings, log *zap.Logger) (*app, error) {
	a := &app{log: log}

	db, err := store.Open(ctx, s.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", segmentation.ErrUpstreamData, err)
	}
	a.closers = append(a.closers, func() { db.Close() })
	a.store = store.New(db, log)
	if err := a.store.InitSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", segmentation.ErrUpstreamData, err)
	}

	var artifacts artifact.Store
	switch s.ArtifactBackend {
	case "redis":
		client, err := artifact.NewRedisClient(ctx, s.RedisAddr, s.RedisPassword)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		artifacts = artifact.NewRedisStore(client, s.RedisKey, log)
	default:
		artifacts = artifact.NewFileStore(s.ArtifactPath, log)
	}

	// The registry is optional; model serving does not depend on it.
	var reg grouping.ModelRegistry
	if gdb, err := registry.Open(s.RegistryDSN, log); err != nil {
		log.Warn("model registry unavailable", zap.Error(err))
	} else if r, err := registry.New(gdb, log); err != nil {
		log.Warn("model registry unavailable", zap.Error(err))
	} else {
		reg = r
	}

	var events orchestration.EventPublisher = orchestration.NoopPublisher{Logger: log}
	if s.NatsURL != "" {
		nc, js, err := orchestration.Connect(s.NatsURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		a.js = js
		events = orchestration.NewPublisher(js, log)
		log.Info("connected to NATS", zap.String("url", s.NatsURL))
	}

	a.service = grouping.NewService(s.Segmentation, a.store, artifacts, reg, events, grouping.NewMetrics(), log)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) serve(ctx context.Context, s *config.Settings) error {
	sched := scheduler.New(a.log)
	sched.Register("retrain", s.RetrainCron, func(ctx context.Context) error {
		_, err := a.service.Train(ctx)
		return err
	})
	sched.Register("rescore", s.RescoreCron, func(ctx context.Context) error {
		_, err := a.service.ScoreAll(ctx)
		return err
	})
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if a.js != nil && s.WebhookURL != "" {
		fwd, err := webhook.NewForwarder(a.js, s.WebhookURL, a.log.Named("webhook"))
		if err != nil {
			return err
		}
		sub, err := fwd.Start()
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           grouping.NewRouter(a.service, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting segmentation service", zap.String("port", s.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func report(result interface{}, err error) int {
	if err != nil {
		return printOutcome(segmentation.Failed(err))
	}
	return printOutcome(segmentation.Succeeded(result))
}

// printOutcome writes the outcome as JSON to stdout and returns the exit code.
func printOutcome(o segmentation.Outcome) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(o); err != nil {
		fmt.Fprintf(os.Stderr, "encoding outcome: %v\n", err)
		return 1
	}
	if o.Status != segmentation.StatusSuccess {
		return 1
	}
	return 0
}
