// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"piperoute-system/internal/api"
	"piperoute-system/internal/config"
	"piperoute-system/internal/logging"
	"piperoute-system/internal/messaging"
	"piperoute-system/internal/repository"

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

	logger.Info("=== Starting Simulation API Server ===")
	logConfig(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := connectToRethinkDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()

	if err := setupDatabase(rethinkSession, cfg, logger); err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	logger.Info("Database setup completed")

	redisClient, err := connectToRedis(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	runRepo := repository.NewRunRepository(rethinkSession, cfg.RunTableName)
	reportRepo := repository.NewReportRepository(rethinkSession, cfg.ReportTableName)

	apiServer := api.NewServer(runRepo, reportRepo, redisClient, cfg,
		api.WithLogger(logger),
		api.WithSink(messaging.NewSnapshotPublisher(redisClient, cfg.SnapshotTimeout, logger)))

	healthServer := startHealthServer(cfg.HealthPort, redisClient, rethinkSession, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start(ctx)
	}()

	waitForShutdown(cancel, apiServer, healthServer, serverErrors, logger)

	logger.Info("=== API Server Stopped Gracefully ===")
}

func logConfig(logger *zap.Logger, cfg *config.Config) {
	logger.Info("Configuration",
		zap.String("redis_url", cfg.RedisURL),
		zap.String("redis_stream", cfg.StreamName),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("snapshot_channel", cfg.SnapshotChannel),
		zap.String("rethinkdb_url", cfg.RethinkDBURL),
		zap.String("database", cfg.DBName),
		zap.String("run_table", cfg.RunTableName),
		zap.String("report_table", cfg.ReportTableName),
		zap.String("server_port", cfg.ServerPort),
		zap.String("health_port", cfg.HealthPort),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Duration("transition_duration", cfg.TransitionDuration))
}

func connectToRethinkDB(cfg *config.Config, logger *zap.Logger) (*r.Session, error) {
	maxRetries := 10
	var session *r.Session
	var err error

	for i := 1; i <= maxRetries; i++ {
		logger.Info("Connecting to RethinkDB", zap.Int("attempt", i), zap.Int("max_attempts", maxRetries))

		session, err = r.Connect(r.ConnectOpts{
			Address:    cfg.RethinkDBURL,
			Database:   cfg.DBName,
			MaxOpen:    20,
			InitialCap: 5,
			Timeout:    10 * time.Second,
		})

		if err == nil {
			if err = testRethinkDBConnection(session, logger); err == nil {
				return session, nil
			}
			session.Close()
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			logger.Warn("RethinkDB connection failed", zap.Error(err), zap.Duration("retry_in", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to RethinkDB after %d attempts: %w", maxRetries, err)
}

func testRethinkDBConnection(session *r.Session, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.Now().Run(session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer cursor.Close()

	var result time.Time
	if err := cursor.One(&result); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	logger.Info("Connected to RethinkDB", zap.Time("server_time", result))
	return nil
}

func setupDatabase(session *r.Session, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runOpts := r.RunOpts{Context: ctx}

	cursor, err := r.DBList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	defer cursor.Close()

	var dbList []string
	if err := cursor.All(&dbList); err != nil {
		return fmt.Errorf("failed to read database list: %w", err)
	}

	if !contains(dbList, cfg.DBName) {
		logger.Info("Creating database", zap.String("database", cfg.DBName))
		if _, err := r.DBCreate(cfg.DBName).RunWrite(session, runOpts); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	session.Use(cfg.DBName)

	tables := map[string][]string{
		cfg.RunTableName:    {"status", "created_at", "updated_at"},
		cfg.ReportTableName: {"run_id", "created_at"},
	}
	for table, indexes := range tables {
		if err := ensureTable(ctx, session, table, indexes, logger); err != nil {
			return err
		}
	}
	return nil
}

func ensureTable(ctx context.Context, session *r.Session, table string, indexes []string, logger *zap.Logger) error {
	runOpts := r.RunOpts{Context: ctx}

	cursor, err := r.TableList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer cursor.Close()

	var tableList []string
	if err := cursor.All(&tableList); err != nil {
		return fmt.Errorf("failed to read table list: %w", err)
	}

	if contains(tableList, table) {
		return nil
	}

	logger.Info("Creating table", zap.String("table", table))
	if _, err := r.TableCreate(table).RunWrite(session, runOpts); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	time.Sleep(1 * time.Second)

	if err := createIndexes(ctx, session, table, indexes); err != nil {
		logger.Warn("Failed to create indexes", zap.String("table", table), zap.Error(err))
	}
	return nil
}

func createIndexes(ctx context.Context, session *r.Session, tableName string, indexes []string) error {
	runOpts := r.RunOpts{Context: ctx}

	for _, index := range indexes {
		_, err := r.Table(tableName).IndexCreate(index).RunWrite(session, runOpts)
		if err != nil && !isIndexExistsError(err) {
			return fmt.Errorf("failed to create index %s: %w", index, err)
		}
	}

	if _, err := r.Table(tableName).IndexWait().RunWrite(session, runOpts); err != nil {
		return fmt.Errorf("failed to wait for indexes: %w", err)
	}
	return nil
}

func isIndexExistsError(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

func connectToRedis(cfg *config.Config, logger *zap.Logger) (messaging.MessageClient, error) {
	maxRetries := 10
	var client messaging.MessageClient
	var err error

	for i := 1; i <= maxRetries; i++ {
		logger.Info("Connecting to Redis", zap.Int("attempt", i), zap.Int("max_attempts", maxRetries))

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
			logger.Warn("Redis connection failed", zap.Error(err), zap.Duration("retry_in", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func startHealthServer(port string, msgClient messaging.MessageClient, session *r.Session, logger *zap.Logger) *http.Server {
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
		fmt.Fprintf(w, `{"status":"healthy","service":"api","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
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

func waitForShutdown(cancel context.CancelFunc, apiServer *api.Server, healthServer *http.Server,
	serverErrors chan error, logger *zap.Logger) {

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
		cancel()

	case sig := <-osSignals:
		logger.Info("Received signal, starting graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown error", zap.Error(err))
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Health server shutdown error", zap.Error(err))
		}
	}
}
