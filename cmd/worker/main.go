// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"piperoute-system/internal/config"
	"piperoute-system/internal/logging"
	"piperoute-system/internal/messaging"
	"piperoute-system/internal/repository"
	"piperoute-system/internal/worker"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Starting Simulation Worker ===",
		zap.String("redis_url", cfg.RedisURL),
		zap.String("redis_stream", cfg.StreamName),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("rethinkdb_url", cfg.RethinkDBURL),
		zap.String("database", cfg.DBName),
		zap.Int("worker_count", cfg.WorkerCount),
		zap.Duration("run_timeout", cfg.RunTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := r.Connect(r.ConnectOpts{
		Address:  cfg.RethinkDBURL,
		Database: cfg.DBName,
		MaxOpen:  20,
	})
	if err != nil {
		logger.Fatal("Failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()

	if _, err := r.DB(cfg.DBName).TableList().Run(rethinkSession); err != nil {
		logger.Warn("Database or tables might not exist yet", zap.Error(err))
	}

	runRepo := repository.NewRunRepository(rethinkSession, cfg.RunTableName)
	reportRepo := repository.NewReportRepository(rethinkSession, cfg.ReportTableName)

	redisClient, err := connectToRedis(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	snapshots := messaging.NewSnapshotPublisher(redisClient, cfg.SnapshotTimeout, logger)
	workers := createWorkers(cfg, runRepo, reportRepo, redisClient, snapshots, logger)

	healthServer := startHealthServer(cfg.HealthPort, redisClient, rethinkSession, workers, logger)

	startWorkers(ctx, workers, logger)
	logger.Info("Workers started", zap.Int("count", len(workers)))

	waitForShutdown(cancel, workers, healthServer, logger)

	logger.Info("=== Worker stopped gracefully ===")
}

func connectToRedis(cfg *config.Config, logger *zap.Logger) (messaging.MessageClient, error) {
	maxRetries := 10
	var client messaging.MessageClient
	var err error

	for i := 1; i <= maxRetries; i++ {
		client, err = messaging.NewRedisClient(messaging.Options{
			URL:             cfg.RedisURL,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			StreamName:      cfg.StreamName,
			ConsumerGroup:   cfg.ConsumerGroup,
			SnapshotChannel: cfg.SnapshotChannel,
			Logger:          logger,
		})
		if err == nil {
			return client, nil
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			logger.Warn("Redis connection failed",
				zap.Int("attempt", i),
				zap.Error(err),
				zap.Duration("retry_in", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func createWorkers(cfg *config.Config, runRepo repository.RunRepository, reportRepo repository.ReportRepository,
	msgClient messaging.MessageClient, snapshots *messaging.SnapshotPublisher, logger *zap.Logger) []*worker.Worker {

	workers := make([]*worker.Worker, cfg.WorkerCount)
	hostname, _ := os.Hostname()

	for i := range workers {
		workerID := fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), i+1)
		workers[i] = worker.NewWorker(workerID, runRepo, reportRepo, msgClient, cfg,
			worker.WithLogger(logger),
			worker.WithSink(snapshots))
	}

	return workers
}

func startWorkers(ctx context.Context, workers []*worker.Worker, logger *zap.Logger) {
	for i, w := range workers {
		go func(idx int, w *worker.Worker) {
			if err := w.Start(ctx); err != nil {
				logger.Error("Worker stopped with error", zap.Int("worker", idx+1), zap.Error(err))
			}
		}(i, w)
	}
}

func startHealthServer(port string, msgClient messaging.MessageClient, session *r.Session,
	workers []*worker.Worker, logger *zap.Logger) *http.Server {

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, rr *http.Request) {
		if err := msgClient.HealthCheck(); err != nil {
			http.Error(w, fmt.Sprintf("Redis: %v", err), http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(rr.Context(), 3*time.Second)
		defer cancel()

		cursor, err := r.Expr(1).Run(session, r.RunOpts{Context: ctx})
		if err != nil {
			http.Error(w, fmt.Sprintf("RethinkDB: %v", err), http.StatusServiceUnavailable)
			return
		}
		cursor.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"worker","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "# HELP simulation_runs_total Runs finished by this worker\n")
		fmt.Fprintf(w, "# TYPE simulation_runs_total counter\n")
		for _, wk := range workers {
			stats := wk.GetStats()
			fmt.Fprintf(w, "simulation_runs_total{worker=%q,result=\"success\"} %d\n", stats["id"], stats["processed"])
			fmt.Fprintf(w, "simulation_runs_total{worker=%q,result=\"error\"} %d\n", stats["id"], stats["failed"])
		}
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	server := &http.Server{
		Addr:         port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Health server listening", zap.String("addr", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", zap.Error(err))
		}
	}()

	return server
}

func waitForShutdown(cancel context.CancelFunc, workers []*worker.Worker, healthServer *http.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

	cancel()

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown completed")
}
