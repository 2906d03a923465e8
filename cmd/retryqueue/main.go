// Command retryqueue runs the public highlight retry queue.
//
//	retryqueue serve                      poll and publish, plus the API when API_ADDR is set
//	retryqueue enqueue -type upsert JSON  queue one job
//	retryqueue stats                      print per job type counts
//	retryqueue purge                      delete rows older than MAX_AGE
//
// Settings come from the environment and an optional .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jdziat/durable-retry-queue/pkg/api"
	"github.com/jdziat/durable-retry-queue/pkg/config"
	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/publisher"
	"github.com/jdziat/durable-retry-queue/pkg/scheduler"
	"github.com/jdziat/durable-retry-queue/pkg/stats"
	"github.com/jdziat/durable-retry-queue/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "retryqueue:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: retryqueue serve|enqueue|stats|purge")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := storage.Open(cfg.OpenConfig())
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	store := storage.NewGormStorage(h)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "serve":
		return serve(ctx, cfg, store, logger)
	case "enqueue":
		return enqueue(ctx, store, rest, stdout)
	case "stats":
		return printStats(ctx, store, stdout)
	case "purge":
		return purge(ctx, cfg, store, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, cfg config.Config, store *storage.GormStorage, logger *slog.Logger) error {
	poll, err := cfg.PollSchedule()
	if err != nil {
		return err
	}

	pubOpts := []publisher.Option{
		publisher.WithTimeout(cfg.PublishTimeout),
		publisher.WithLogger(logger),
	}
	if cfg.PublishToken != "" {
		pubOpts = append(pubOpts, publisher.WithHeader("Authorization", "Bearer "+cfg.PublishToken))
	}
	pub := publisher.NewHTTPPublisher(cfg.PublishBaseURL, pubOpts...)

	counters := stats.NewCollector()
	opts := []scheduler.Option{
		scheduler.BatchSize(cfg.BatchSize),
		scheduler.MaxAge(cfg.MaxAge),
		scheduler.Concurrency(cfg.Concurrency),
		scheduler.PollSchedule(poll),
		scheduler.WithBackoff(cfg.BackoffPolicy()),
		scheduler.MaxAttempts(cfg.MaxAttempts),
		scheduler.LeaseDuration(cfg.LeaseDuration),
		scheduler.WithLogger(logger),
		scheduler.OnEvent(counters.Handle),
	}
	if cfg.WorkerID != "" {
		opts = append(opts, scheduler.WorkerID(cfg.WorkerID))
	}
	if cfg.DropOnNoRetry {
		opts = append(opts, scheduler.DropOnNoRetry())
	}
	sched := scheduler.New(store, pub, opts...)

	var srv *http.Server
	srvErr := make(chan error, 1)
	if cfg.APIAddr != "" {
		srv = &http.Server{
			Addr:              cfg.APIAddr,
			Handler:           api.New(store, api.WithLogger(logger), api.WithCollector(counters)).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	logger.Info("scheduler starting",
		"worker_id", sched.Config().WorkerID,
		"publish_base_url", cfg.PublishBaseURL,
		"batch_size", cfg.BatchSize,
		"lease_duration", cfg.LeaseDuration)

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Start(schedCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		logger.Error("api server failed", "error", runErr)
	case runErr = <-done:
	}

	if srv != nil {
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}
	cancel()
	if err := <-done; runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}

	logger.Info("shutdown complete")
	return runErr
}

func enqueue(ctx context.Context, store *storage.GormStorage, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	jobType := fs.String("type", core.JobTypeUpsert, "job type: upsert or delete")
	file := fs.String("file", "", "read the payload from a file instead of the argument")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var raw []byte
	switch {
	case *file != "":
		b, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		raw = b
	case fs.NArg() == 1:
		raw = []byte(fs.Arg(0))
	default:
		return errors.New("enqueue needs one JSON payload argument or -file")
	}

	payload, err := encodeRequest(*jobType, raw)
	if err != nil {
		return err
	}
	id, err := store.Enqueue(ctx, *jobType, payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, id)
	return err
}

// encodeRequest checks raw against the request type of jobType and returns
// the canonical payload.
func encodeRequest(jobType string, raw []byte) (string, error) {
	switch jobType {
	case core.JobTypeUpsert:
		var req publisher.HighlightRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return "", core.Invalid("payload_json", err)
		}
		return req.EncodePayload()
	case core.JobTypeDelete:
		var req publisher.DeleteRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return "", core.Invalid("payload_json", err)
		}
		return req.EncodePayload()
	default:
		return "", core.Invalid("job_type", fmt.Errorf("unsupported job type %q", jobType))
	}
}

func printStats(ctx context.Context, store *storage.GormStorage, stdout io.Writer) error {
	types, err := store.QueueStats(ctx, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(types)
}

func purge(ctx context.Context, cfg config.Config, store *storage.GormStorage, stdout io.Writer) error {
	if cfg.MaxAge <= 0 {
		return errors.New("purge needs MAX_AGE > 0")
	}
	cutoff := time.Now().Add(-cfg.MaxAge).UnixMilli()
	n, err := store.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "purged %d jobs\n", n)
	return err
}
