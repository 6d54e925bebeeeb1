package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/config"
	"github.com/decisiontrace/lineage/internal/engine"
	"github.com/decisiontrace/lineage/internal/graph"
	"github.com/decisiontrace/lineage/internal/metrics"
	"github.com/decisiontrace/lineage/internal/server"
	"github.com/decisiontrace/lineage/internal/store"
	"github.com/decisiontrace/lineage/internal/tiers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	db, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	cache := engine.NewCache(cfg.Cache.TTL)
	eng := engine.New(db, cache, log, m)
	ctrl := tiers.New(eng, tiers.Config{
		BrowseLimit:  cfg.Tiers.BrowseLimit,
		ExploreLimit: cfg.Tiers.ExploreLimit,
		Thresholds: graph.LoadThresholds{
			HighNeighbors:     cfg.Classifier.HighNeighbors,
			HighTypes:         cfg.Classifier.HighTypes,
			HighRationaleRune: cfg.Classifier.HighRationaleRune,
		},
	}, log)

	srv := server.New(eng, ctrl, m, log, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("lineage serving", zap.String("addr", addr), zap.String("db", db.Path))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// openStore resolves the database path and opens it with the pool and
// retry knobs from configuration.
func openStore(cfg config.Config, log *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath, store.Options{
		MaxConns:     cfg.Store.MaxConns,
		AcquireWait:  cfg.Store.AcquireWait,
		QueryTimeout: cfg.Store.QueryTimeout,
		MaxRetries:   cfg.Store.MaxRetries,
		RetryBase:    cfg.Store.RetryBase,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
