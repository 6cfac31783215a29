package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
	"github.com/yungbote/fooddata-graph/internal/importer"
	"github.com/yungbote/fooddata-graph/internal/ingestion/source"
	"github.com/yungbote/fooddata-graph/internal/observability"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
	"github.com/yungbote/fooddata-graph/internal/platform/neo4jdb"
	"github.com/yungbote/fooddata-graph/internal/platform/redis"
)

type App struct {
	Log         *logger.Logger
	Cfg         Config
	Store       graph.Store
	Checkpoints importer.CheckpointStore
	Metrics     *observability.ImportMetrics

	closers []func(context.Context) error
}

type Option func(*App)

// WithStore skips the Neo4j connection and uses store instead.
func WithStore(store graph.Store) Option {
	return func(a *App) { a.Store = store }
}

func WithLogger(log *logger.Logger) Option {
	return func(a *App) { a.Log = log }
}

// WithCheckpoints replaces the Redis checkpoint store.
func WithCheckpoints(cp importer.CheckpointStore) Option {
	return func(a *App) { a.Checkpoints = cp }
}

// New validates cfg for need and connects what the command uses.
func New(ctx context.Context, cfg Config, need Need, opts ...Option) (*App, error) {
	if err := cfg.Validate(need); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Metrics: observability.NewImportMetrics()}
	for _, opt := range opts {
		opt(a)
	}
	if a.Log == nil {
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		a.Log = log
	}

	shutdown := observability.InitOTel(ctx, a.Log, cfg.Telemetry.Otel)
	a.closers = append(a.closers, shutdown)

	if err := a.wireStore(ctx, need); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.wireCheckpoints(ctx, need); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wireStore(ctx context.Context, need Need) error {
	if a.Store != nil || !need.Graph {
		return nil
	}
	if a.Cfg.DryRun {
		a.Log.Info("dry run: importing into an in-memory graph")
		a.Store = graph.NewMemoryStore()
		return nil
	}
	client, err := neo4jdb.New(ctx, a.Cfg.Neo4j, a.Log)
	if err != nil {
		return fmt.Errorf("init neo4j: %w", err)
	}
	store, err := graph.NewNeo4jStore(client, a.Log)
	if err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("init graph store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) wireCheckpoints(ctx context.Context, need Need) error {
	if a.Checkpoints != nil || !need.Graph || strings.TrimSpace(a.Cfg.Redis.Addr) == "" {
		return nil
	}
	cp, err := redis.NewCheckpoints(ctx, a.Cfg.Redis, a.Log)
	if err != nil {
		return fmt.Errorf("init redis checkpoints: %w", err)
	}
	a.Checkpoints = cp
	a.closers = append(a.closers, func(context.Context) error { return cp.Close() })
	return nil
}

// Import opens the configured source and runs one import. With reset set the
// graph is cleaned first, after the source has opened successfully.
func (a *App) Import(ctx context.Context, reset bool) (*importer.Report, error) {
	opts := a.Cfg.Import
	opts.SourceID = SourceFingerprint(a.Cfg.Source)

	r, err := source.Open(ctx, a.Cfg.Source.Location, source.Options{
		Selector: a.Cfg.Source.Selector,
		TempDir:  a.Cfg.Source.TempDir,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if reset {
		if _, err := a.Cleanup(ctx); err != nil {
			return nil, err
		}
	}

	extra := []importer.Option{importer.WithMetrics(a.Metrics)}
	if a.Checkpoints != nil {
		extra = append(extra, importer.WithCheckpoints(a.Checkpoints))
	}
	im, err := importer.New(a.Store, a.Log, opts, extra...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rep, err := im.Run(ctx, r)
	a.Metrics.RunFinished(time.Since(start), err)

	runID := ""
	if rep != nil {
		runID = rep.RunID.String()
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if perr := a.Metrics.Push(pctx, a.Cfg.Telemetry.PushgatewayURL, runID, a.Log); perr != nil {
		a.Log.Warn("metrics push failed (continuing)", "error", perr)
	}
	return rep, err
}

// Cleanup resets the graph and forgets every checkpoint.
func (a *App) Cleanup(ctx context.Context) (*importer.ResetResult, error) {
	res, err := importer.Reset(ctx, a.Store, a.Log)
	if err != nil {
		return nil, err
	}
	if a.Checkpoints != nil {
		if err := a.Checkpoints.ClearAll(ctx); err != nil {
			return res, fmt.Errorf("clear checkpoints: %w", err)
		}
	}
	return res, nil
}

type NutrientAverage struct {
	ID  int64    `json:"id"`
	Avg *float64 `json:"avg"`
	N   int64    `json:"n"`
}

type VerifyResult struct {
	Counts   *nutrition.Counts `json:"counts"`
	Averages []NutrientAverage `json:"averages,omitempty"`
}

// Verify reads the graph counts and the requested nutrient averages. A
// failed expectation still returns the counts alongside the error.
func (a *App) Verify(ctx context.Context, expect importer.Expectations, nutrientIDs []int64) (*VerifyResult, error) {
	counts, verr := importer.Verify(ctx, a.Store, expect)
	if counts == nil {
		return nil, verr
	}
	res := &VerifyResult{Counts: counts}
	for _, id := range nutrientIDs {
		avg, n, err := importer.NutrientAverage(ctx, a.Store, id)
		if err != nil {
			return res, fmt.Errorf("nutrient %d average: %w", id, err)
		}
		res.Averages = append(res.Averages, NutrientAverage{ID: id, Avg: avg, N: n})
	}
	return res, verr
}

func (a *App) EnsureSchema(ctx context.Context) error {
	return importer.EnsureSchema(ctx, a.Store, a.Log)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.Log != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.Sync()
	}
}

// SourceFingerprint identifies a source for checkpointing. Local files
// include size and mtime so a replaced file does not resume old progress.
func SourceFingerprint(src SourceConfig) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(src.Location))
	b.WriteByte(0)
	b.WriteString(src.Selector)
	loc := strings.TrimPrefix(strings.TrimSpace(src.Location), "file://")
	if !strings.Contains(loc, "://") && loc != "-" {
		if fi, err := os.Stat(loc); err == nil {
			fmt.Fprintf(&b, "\x00%d\x00%d", fi.Size(), fi.ModTime().UnixNano())
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.String())).String()
}
