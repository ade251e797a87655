package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/binding"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/config"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/dispatch"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/httpapi"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/ingest"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/poller"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/reply"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/subscribers"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/subscribers/logging"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/subscribers/stream"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/subscribers/workflow"
)

func main() {
	logger := log.New(os.Stdout, "agent-bridge ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	client := platform.New(cfg.BaseURL, cfg.APIToken, logger)

	store, err := binding.NewGormStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("open binding store: %v", err)
	}
	bindings := binding.NewManager(client, store, logger)

	registry := replyctx.NewRegistry()
	router := reply.NewRouter(client, registry, logger)

	hub := stream.NewHub(logger)
	subs := []subscribers.Subscriber{logging.New(logger), hub}
	if cfg.WorkflowURL != "" {
		subs = append(subs, workflow.New("workflow", cfg.WorkflowURL, logger, workflow.WithBearerToken(cfg.WorkflowToken)))
	}
	dispatcher := dispatch.New(logger, subs)

	ingestor := ingest.New(ingest.Config{
		Secret:         cfg.WebhookSecret,
		AllowedEvents:  cfg.AllowedEvents,
		IncludeHeaders: cfg.IncludeHeaders,
	}, dispatcher, registry, logger)

	queuePoller := poller.New(poller.Config{
		TenantID:  cfg.TenantID,
		QueueName: cfg.QueueName,
		BatchSize: cfg.PollBatchSize,
		Interval:  cfg.PollInterval,
	}, client, dispatcher, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.PollEnabled {
		if err := queuePoller.Start(ctx); err != nil {
			logger.Fatalf("start poller: %v", err)
		}
	}

	server := httpapi.NewServer(logger, cfg.ListenAddr, client, router, registry, bindings, queuePoller, httpapi.Options{
		WebhookPath:    cfg.WebhookPath,
		WebhookHandler: ingestor,
		StreamHandler:  hub,
	})

	go func() {
		logger.Printf("agent bridge listening addr=%s webhook_path=%s", cfg.ListenAddr, cfg.WebhookPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if cfg.PollEnabled {
		queuePoller.Stop()
	}
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
	logger.Printf("agent bridge stopped")
}
