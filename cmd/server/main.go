package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"perfeval-dashboard/internal/chat"
	"perfeval-dashboard/internal/config"
	"perfeval-dashboard/internal/database"
	"perfeval-dashboard/internal/handlers"
	"perfeval-dashboard/internal/metrics"
	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/router"
	"perfeval-dashboard/internal/services"
	"perfeval-dashboard/internal/websocket"
	"perfeval-dashboard/internal/worker"
	"perfeval-dashboard/internal/workflow"
)

func main() {
	log.Println("🚀 Starting Performance Evaluation Dashboard...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("✗ Invalid configuration: %v", err)
	}
	log.Println("✓ Environment variables loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize Redis Clients (optional) ────
	var (
		redisClients *database.RedisClients
		pubsubClient *redis.Client
		exportQueue  worker.Queue
	)
	if cfg.RedisURL != "" {
		var err error
		redisClients, err = database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClients.Close()
		pubsubClient = redisClients.PubSub
		exportQueue = worker.NewRedisQueue(redisClients.Queue)
		log.Println("✓ Redis connected")
	} else {
		exportQueue = worker.NewMemoryQueue(64)
		log.Println("✓ Using in-process export queue (REDIS_URL not set)")
	}

	// ──── Step 3: Metrics ────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)
	log.Println("✓ Metrics registered")

	// ──── Step 4: Scoring Service Client ────
	evalClient := services.NewEvalClient(cfg.EvalServiceURL, cfg.EvalTimeout, cfg.EvalMaxRetries, recorder, exportQueue)
	log.Printf("✓ Scoring service client ready (%s)", cfg.EvalServiceURL)

	// ──── Step 5: Workflow Controller & Chat Session ────
	controller := workflow.NewController(evalClient,
		workflow.WithRecorder(recorder),
		workflow.WithExportResetDelay(cfg.ExportResetDelay()),
	)
	session := chat.NewSession(evalClient, controller,
		chat.WithRecorder(recorder),
		chat.WithMaxMessageChars(cfg.ChatMaxChars),
	)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(pubsubClient, cfg.FrontendURL)
	wsHub.SetInitial(func() []models.WSMessage {
		return []models.WSMessage{
			{Type: models.WSWorkflowState, Payload: controller.Snapshot()},
			{Type: models.WSChatState, Payload: session.Snapshot()},
		}
	})
	log.Println("✓ WebSocket hub started")

	// ──── Step 7: Start Export Worker Pool ────
	reportService := services.NewReportService(cfg.ReportDir, cfg.EvalTimeout)
	workerPool := worker.NewPool(exportQueue, reportService, recorder, func(o models.ExportOutcome) {
		msgType := models.WSExportCompleted
		if o.Status != "completed" {
			msgType = models.WSExportFailed
		}
		wsHub.Publish(ctx, models.WSMessage{Type: msgType, Payload: o})
	}, cfg.ExportWorkers)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.ExportWorkers)

	reportJanitor := services.NewReportJanitor(cfg.ReportDir, cfg.ReportMaxAge)
	reportJanitor.Start()
	log.Println("✓ Report janitor started")

	// ──── Step 8: Start HTTP Server ────
	r, commandLimiter := router.New(
		handlers.NewDashboardHandler(ctx, controller, session),
		handlers.NewChatHandler(ctx, session),
		wsHub,
		router.Options{
			FrontendURL:      cfg.FrontendURL,
			CommandRateLimit: cfg.CommandRateMin,
			Gatherer:         registry,
			Health: func(r *http.Request) error {
				if redisClients == nil {
					return nil
				}
				return redisClients.Ping(r.Context())
			},
		},
	)
	defer commandLimiter.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workflowUpdates, cancelWorkflow := controller.Subscribe()
	defer cancelWorkflow()
	chatUpdates, cancelChat := session.Subscribe()
	defer cancelChat()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wsHub.Run(gctx)
	})
	g.Go(func() error {
		websocket.Forward(gctx, wsHub, models.WSWorkflowState, workflowUpdates)
		return nil
	})
	g.Go(func() error {
		websocket.Forward(gctx, wsHub, models.WSChatState, chatUpdates)
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Printf("✓ Dashboard gateway ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := g.Wait(); err != nil {
		log.Printf("✗ Server error: %v", err)
	}

	workerPool.Stop()
	reportJanitor.Stop()
	controller.Close()
	session.Close()
	wsHub.Close()
	log.Println("✓ Shutdown complete")
}
