// Package store is the graph store adapter: pooled access to the
// persisted decision graph in SQLite. Traversal requests are translated
// into declarative SQL; retry, timeout, and circuit-breaking policy all
// live here so callers only ever see the typed error taxonomy.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"

	"github.com/decisiontrace/lineage/internal/graph"
)

// Options bound the adapter's resource use. Zero values fall back to
// DefaultOptions.
type Options struct {
	MaxConns     int           // bounded connection pool size
	AcquireWait  time.Duration // max wait for a pooled connection
	QueryTimeout time.Duration // per-query deadline
	MaxRetries   int           // attempts for transient failures
	RetryBase    time.Duration // initial backoff delay, doubled per attempt
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConns:     4,
		AcquireWait:  2 * time.Second,
		QueryTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBase:    50 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConns <= 0 {
		o.MaxConns = d.MaxConns
	}
	if o.AcquireWait <= 0 {
		o.AcquireWait = d.AcquireWait
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = d.QueryTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	return o
}

// DB wraps a sql.DB connection pool to the lineage SQLite database.
type DB struct {
	*sql.DB
	Path string

	opts    Options
	log     *zap.Logger
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker

	// importing gates writes while a snapshot restore runs.
	importing atomic.Bool
}

// DefaultDBPath returns the default database path: ~/.lineage/lineage.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".lineage", "lineage.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas and the pool, and runs migrations.
func Open(path string, opts Options, log *zap.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return setup(sqlDB, path, opts.withDefaults(), log)
}

// OpenMemory opens an in-memory SQLite database for testing. The pool is
// pinned to a single connection: each new connection to ":memory:" would
// otherwise see its own empty database.
func OpenMemory(log *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	opts := DefaultOptions()
	opts.MaxConns = 1
	return setup(sqlDB, ":memory:", opts, log)
}

func setup(sqlDB *sql.DB, path string, opts Options, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	sqlDB.SetMaxOpenConns(opts.MaxConns)
	sqlDB.SetMaxIdleConns(opts.MaxConns)

	db := &DB{
		DB:   sqlDB,
		Path: path,
		opts: opts,
		log:  log.Named("store"),
		sem:  semaphore.NewWeighted(int64(opts.MaxConns)),
	}
	db.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lineage-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			db.log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		IsSuccessful: func(err error) bool {
			// Only infrastructure failures count against the breaker.
			// NotFound, Conflict, and validation are healthy answers.
			return err == nil || !isTransient(err)
		},
	})

	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// acquire takes a pool slot, waiting at most AcquireWait. A request that
// cannot get a slot fails with StoreUnavailable rather than queuing
// indefinitely.
func (db *DB) acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, db.opts.AcquireWait)
	defer cancel()

	if err := db.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire connection: %w", graph.ErrTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", graph.ErrStoreUnavailable)
	}
	return func() { db.sem.Release(1) }, nil
}

// BeginImport puts the store into exclusive restore mode. Writes are
// rejected with StoreUnavailable until EndImport. Returns false when an
// import is already running.
func (db *DB) BeginImport() bool {
	return db.importing.CompareAndSwap(false, true)
}

// EndImport releases the restore gate.
func (db *DB) EndImport() {
	db.importing.Store(false)
}

// checkWritable rejects writes while a snapshot import holds the store.
func (db *DB) checkWritable() error {
	if db.importing.Load() {
		return fmt.Errorf("snapshot import in progress: %w", graph.ErrStoreUnavailable)
	}
	return nil
}

// Reachable reports store reachability for health checks.
func (db *DB) Reachable(ctx context.Context) bool {
	var one int
	return db.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}
