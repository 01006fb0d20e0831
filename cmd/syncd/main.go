package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailsync/config"
	"mailsync/internal/api"
	"mailsync/internal/mutate"
	"mailsync/internal/remote"
	"mailsync/internal/repository"
	"mailsync/internal/sync"
	"mailsync/pkg/db"
	"mailsync/pkg/logger"
	"mailsync/pkg/mq"
	"mailsync/pkg/outbox"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting syncd...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	convRepo := repository.NewConversationRepository(dbConn)
	msgRepo := repository.NewMessageRepository(dbConn)
	labelRepo := repository.NewLabelRepository(dbConn)

	// Remote API client
	client := remote.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Rate, log)

	// Reconciliation pipeline
	params := sync.NewParamStream()
	engine := sync.NewEngine(client, convRepo, params, log).WithGrace(cfg.GracePeriod())
	go engine.Run(ctx)

	// Drain results; the HTTP API reads snapshots from the store.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-engine.Results():
				if res.IsSuccess() {
					log.Debug("Sync result",
						zap.Int("origin", int(res.Origin)),
						zap.Int("conversations", len(res.Conversations)),
					)
				} else {
					log.Warn("Sync error result", zap.Error(res.Err))
				}
			}
		}
	}()

	cache := sync.NewDetailCache(client, convRepo, msgRepo, log)

	// Durable background work: outbox + dispatcher
	outboxRepo := outbox.NewRepository(dbConn)
	enqueuer := outbox.NewEnqueuer(dbConn, outboxRepo)
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(ctx)

	coordinator := mutate.NewCoordinator(convRepo, msgRepo, labelRepo, enqueuer, log)
	labelSync := sync.NewLabelSync(client, labelRepo, log)

	// HTTP surface: sync API + metrics + health
	mux := http.NewServeMux()
	handler := api.NewHandler(params, engine, cache, coordinator, convRepo, msgRepo, labelSync, outboxRepo, cfg.Sync.PageSize, log)
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if !publisher.IsConnected() {
			http.Error(w, "mq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("syncd listening", zap.String("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", zap.Error(err))
	}
}
