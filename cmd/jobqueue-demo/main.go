package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rezkam/jobqueue/internal/backpressure"
	"github.com/rezkam/jobqueue/internal/config"
	"github.com/rezkam/jobqueue/internal/domain"
	"github.com/rezkam/jobqueue/internal/observability"
	"github.com/rezkam/jobqueue/internal/runtime"
	"github.com/rezkam/jobqueue/internal/store"
)

// main wires a runtime with one priority work queue and one dead-letter
// queue, feeds it a ticker's worth of synthetic jobs, and shuts down
// cleanly on SIGINT/SIGTERM. It is a reference wiring, not a service meant
// for production traffic.
func main() {
	ctx := context.Background()

	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatalf("failed to load runtime config: %v", err)
	}
	cfg.DeadLetterQueue = "dead-letter"

	obsCfg := observability.Config{Enabled: cfg.Observability.OTelEnabled, ServiceName: cfg.Observability.ServiceName}
	logger := observability.InitLogger(obsCfg)
	slog.SetDefault(logger)

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init meter provider: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}()

	instruments, err := observability.NewInstruments(otel.GetMeterProvider().Meter(observability.DefaultServiceName))
	if err != nil {
		log.Fatalf("failed to build instruments: %v", err)
	}

	rt := runtime.New(*cfg, store.NewMemory(), runtime.WithInstruments(instruments))

	if _, err := rt.RegisterQueue(runtime.QueueConfig{
		ID:         "work",
		Discipline: domain.DisciplinePriority,
		Strategy:   backpressure.NewSizeBased(1000),
		RedirectTo: "",
	}); err != nil {
		log.Fatalf("failed to register work queue: %v", err)
	}
	if _, err := rt.RegisterQueue(runtime.QueueConfig{ID: "dead-letter", Discipline: domain.DisciplineFIFO}); err != nil {
		log.Fatalf("failed to register dead-letter queue: %v", err)
	}

	rt.RegisterProcessor("greet", func(ctx context.Context, payload any) (any, error) {
		name, _ := payload.(string)
		return fmt.Sprintf("hello, %s", name), nil
	})

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("failed to start runtime: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	produceTicker := time.NewTicker(time.Second)
	defer produceTicker.Stop()

	events, cancelEvents := rt.Events(domain.EventEnqueued, domain.EventDeadLettered)
	defer cancelEvents()

	slog.InfoContext(ctx, "jobqueue demo started")

	seq := 0
	for {
		select {
		case <-produceTicker.C:
			seq++
			job := &domain.Job{
				Kind:    "greet",
				QueueID: "work",
				Payload: fmt.Sprintf("job-%d", seq),
			}
			if err := rt.Enqueue(ctx, job); err != nil {
				slog.ErrorContext(ctx, "enqueue failed", "error", err)
			}
		case e := <-events:
			slog.InfoContext(ctx, "event", "kind", e.Kind, "queue", e.QueueID, "job_id", e.JobID)
		case <-sigChan:
			slog.InfoContext(ctx, "received shutdown signal, draining")
			rt.Stop(10 * time.Second)
			return
		}
	}
}
