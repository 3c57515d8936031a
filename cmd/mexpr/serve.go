package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lemonberrylabs/mexpr/pkg/api"
	grpcapi "github.com/lemonberrylabs/mexpr/pkg/api/grpc"
	"github.com/lemonberrylabs/mexpr/pkg/cache"
	"github.com/lemonberrylabs/mexpr/pkg/retention"
	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/web"
	"github.com/spf13/cobra"
)

// serveConfig is the resolved server configuration. Flags win over
// environment variables, which win over defaults.
type serveConfig struct {
	Addr          string
	GRPCAddr      string
	DatasetsDir   string
	HistoryDB     string
	HistoryMaxAge time.Duration
	PruneInterval time.Duration
	CacheSize     int
	AccessLog     bool
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC evaluation servers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "HTTP server port (default 8787, env PORT)")
	cmd.Flags().Int("grpc-port", 0, "gRPC server port (default 8788, env GRPC_PORT)")
	cmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")
	cmd.Flags().String("datasets-dir", "", "Directory of dataset YAML/JSON files to load (env DATASETS_DIR)")
	cmd.Flags().String("history-db", "", "SQLite file for the evaluation history; empty keeps it in memory (env HISTORY_DB)")
	cmd.Flags().Duration("history-max-age", 0, "Age after which evaluations are pruned (default 24h, env HISTORY_MAX_AGE)")
	cmd.Flags().Duration("history-prune-interval", 0, "How often the history is pruned (default 5m, env HISTORY_PRUNE_INTERVAL)")
	cmd.Flags().Int("cache-size", 0, "Compiled program cache capacity (default 4096, env CACHE_SIZE)")
	cmd.Flags().Bool("access-log", false, "Log every HTTP request (env ACCESS_LOG)")
	return cmd
}

func loadServeConfig(cmd *cobra.Command) (serveConfig, error) {
	var cfg serveConfig

	port := envOrDefault("PORT", "8787")
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		port = fmt.Sprintf("%d", v)
	}

	grpcPort := envOrDefault("GRPC_PORT", "8788")
	if v, _ := cmd.Flags().GetInt("grpc-port"); v != 0 {
		grpcPort = fmt.Sprintf("%d", v)
	}

	host := envOrDefault("HOST", "0.0.0.0")
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}

	cfg.Addr = fmt.Sprintf("%s:%s", host, port)
	cfg.GRPCAddr = fmt.Sprintf("%s:%s", host, grpcPort)

	cfg.DatasetsDir = os.Getenv("DATASETS_DIR")
	if v, _ := cmd.Flags().GetString("datasets-dir"); v != "" {
		cfg.DatasetsDir = v
	}

	cfg.HistoryDB = os.Getenv("HISTORY_DB")
	if v, _ := cmd.Flags().GetString("history-db"); v != "" {
		cfg.HistoryDB = v
	}

	var err error
	if cfg.HistoryMaxAge, err = durationSetting(cmd, "history-max-age", "HISTORY_MAX_AGE", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.PruneInterval, err = durationSetting(cmd, "history-prune-interval", "HISTORY_PRUNE_INTERVAL", 5*time.Minute); err != nil {
		return cfg, err
	}

	cfg.CacheSize = cache.DefaultCapacity
	if v := os.Getenv("CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid CACHE_SIZE %q: %w", v, err)
		}
		cfg.CacheSize = n
	}
	if v, _ := cmd.Flags().GetInt("cache-size"); v != 0 {
		cfg.CacheSize = v
	}

	cfg.AccessLog = os.Getenv("ACCESS_LOG") == "true" || os.Getenv("ACCESS_LOG") == "1"
	if v, _ := cmd.Flags().GetBool("access-log"); v {
		cfg.AccessLog = true
	}
	return cfg, nil
}

func durationSetting(cmd *cobra.Command, flag, env string, fallback time.Duration) (time.Duration, error) {
	if v, _ := cmd.Flags().GetDuration(flag); v != 0 {
		return v, nil
	}
	raw := os.Getenv(env)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", env, raw, err)
	}
	return d, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	var history store.History
	if cfg.HistoryDB != "" {
		sqlHistory, err := store.OpenSQLHistory(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer sqlHistory.Close()
		history = sqlHistory
		log.Printf("Evaluation history: %s", cfg.HistoryDB)
	} else {
		history = store.NewMemoryHistory()
		log.Printf("Evaluation history: in memory")
	}

	s := store.New()
	ev := runtime.NewEvaluator(s, cache.New(cfg.CacheSize), history)

	opts := api.Options{}
	if cfg.AccessLog {
		opts.AccessLog = os.Stdout
	}
	server := api.New(ev, opts)

	if cfg.DatasetsDir != "" {
		log.Printf("Loading datasets directory: %s", cfg.DatasetsDir)
		if err := server.WatchDir(cfg.DatasetsDir); err != nil {
			log.Printf("Warning: failed to load datasets directory: %v", err)
		}
	}

	// Register the web UI (non-fatal if template parsing fails)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Warning: web UI disabled due to template error: %v", r)
			}
		}()
		web.New(s, history).Register(server.App())
	}()

	janitor := retention.New(history, cfg.HistoryMaxAge, cfg.PruneInterval)
	if err := janitor.Start(); err != nil {
		log.Printf("Warning: history retention disabled: %v", err)
	}

	grpcServer := grpcapi.New(ev)
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(cfg.GRPCAddr); err != nil {
			log.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		server.Drain()
		grpcServer.GracefulStop()
		if err := janitor.Stop(); err != nil {
			log.Printf("Error stopping retention: %v", err)
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("mexpr listening on %s", cfg.Addr)
	return server.Listen(cfg.Addr)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
