// Package importer loads resolved FoodData Central records into a graph
// store in two ordered phases: nutrients first, then foods and edges.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
	"github.com/yungbote/fooddata-graph/internal/ingestion/resolve"
	"github.com/yungbote/fooddata-graph/internal/ingestion/source"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

const (
	PhaseNutrients = "nutrients"
	PhaseFoods     = "foods"
	PhaseEdges     = "nutrient_edges"
)

type Options struct {
	NutrientBatchSize int `yaml:"nutrient_batch_size"`
	FoodBatchSize     int `yaml:"food_batch_size"`
	// EdgeBatchSize counts foods, not edges; each food fans out to all of
	// its measurements.
	EdgeBatchSize int  `yaml:"edge_batch_size"`
	Parallelism   int  `yaml:"parallelism"`
	Merge         bool `yaml:"merge"`
	Resume        bool `yaml:"resume"`
	ProgressEvery int  `yaml:"progress_every"`
	// SourceID keys checkpoints; runs over a different source never share them.
	SourceID string `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		NutrientBatchSize: 1000,
		FoodBatchSize:     100,
		EdgeBatchSize:     50,
		Parallelism:       1,
		ProgressEvery:     50,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.NutrientBatchSize <= 0 {
		o.NutrientBatchSize = def.NutrientBatchSize
	}
	if o.FoodBatchSize <= 0 {
		o.FoodBatchSize = def.FoodBatchSize
	}
	if o.EdgeBatchSize <= 0 {
		o.EdgeBatchSize = def.EdgeBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = def.ProgressEvery
	}
	return o
}

// RecordSource yields raw records until io.EOF. *source.Reader is one.
// An error with a non-fatal importerr code skips one record only.
type RecordSource interface {
	Next() (source.RawFood, error)
}

// Metrics receives run events. Implementations must be safe for concurrent use.
type Metrics interface {
	BatchCommitted(phase string, elapsed time.Duration, sum graph.BatchSummary)
	BatchFailed(phase string)
	RecordSkipped(code importerr.Code)
	Notice(reason string)
}

type nopMetrics struct{}

func (nopMetrics) BatchCommitted(string, time.Duration, graph.BatchSummary) {}
func (nopMetrics) BatchFailed(string)                                       {}
func (nopMetrics) RecordSkipped(importerr.Code)                             {}
func (nopMetrics) Notice(string)                                            {}

type Option func(*Importer)

func WithCheckpoints(cp CheckpointStore) Option {
	return func(im *Importer) { im.checkpoints = cp }
}

func WithMetrics(m Metrics) Option {
	return func(im *Importer) {
		if m != nil {
			im.metrics = m
		}
	}
}

type Importer struct {
	store       graph.Store
	log         *logger.Logger
	opts        Options
	checkpoints CheckpointStore
	metrics     Metrics
	tracer      trace.Tracer
}

func New(store graph.Store, log *logger.Logger, opts Options, extra ...Option) (*Importer, error) {
	if store == nil {
		return nil, fmt.Errorf("importer: store required")
	}
	if log == nil {
		return nil, fmt.Errorf("importer: logger required")
	}
	im := &Importer{
		store:   store,
		log:     log.With("component", "Importer"),
		opts:    opts.withDefaults(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer("github.com/yungbote/fooddata-graph/internal/importer"),
	}
	for _, o := range extra {
		o(im)
	}
	return im, nil
}

func (im *Importer) Options() Options { return im.opts }

type PhaseReport struct {
	Phase     string             `json:"phase"`
	Batches   int                `json:"batches"`
	Committed int                `json:"committed"`
	Resumed   int                `json:"resumed"`
	Summary   graph.BatchSummary `json:"summary"`
	Duration  time.Duration      `json:"duration"`
}

type Report struct {
	RunID              uuid.UUID              `json:"run_id"`
	Records            int                    `json:"records"`
	Imported           int                    `json:"imported"`
	DistinctNutrients  int                    `json:"distinct_nutrients"`
	DistinctCategories int                    `json:"distinct_categories"`
	Skipped            map[importerr.Code]int `json:"skipped"`
	Notices            map[string]int         `json:"notices"`
	Phases             []PhaseReport          `json:"phases"`
	StartedAt          time.Time              `json:"started_at"`
	Duration           time.Duration          `json:"duration"`
}

// plan is the resolved dataset. The source is read once into it and every
// phase iterates it.
type plan struct {
	records    []nutrition.Record
	nutrients  []nutrition.Nutrient
	categories []nutrition.CategoryKey
}

// Run imports every record of src. The first batch that fails to commit
// aborts the run with a BatchCommitFailure; batches already committed stay.
func (im *Importer) Run(ctx context.Context, src RecordSource) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rep := &Report{
		RunID:     uuid.New(),
		Skipped:   map[importerr.Code]int{},
		Notices:   map[string]int{},
		StartedAt: time.Now().UTC(),
	}
	log := im.log.With("run_id", rep.RunID.String())
	defer func() { rep.Duration = time.Since(rep.StartedAt) }()

	ctx, span := im.tracer.Start(ctx, "import.run", trace.WithAttributes(
		attribute.String("run_id", rep.RunID.String()),
		attribute.Int("parallelism", im.opts.Parallelism),
		attribute.Bool("merge", im.opts.Merge),
	))
	defer span.End()

	if im.opts.Merge {
		log.Info("merge mode: foods and edges are matched by identity, reruns do not duplicate")
	} else {
		log.Warn("assuming a clean graph: foods and edges are created, not merged; run cleanup first or use --merge to rerun")
	}

	if err := EnsureSchema(ctx, im.store, log); err != nil {
		return rep, im.fail(span, importerr.Wrap(importerr.BatchCommitFailure, "ensure_schema", "schema setup failed", err))
	}

	p, err := im.collect(ctx, src, rep, log)
	if err != nil {
		return rep, im.fail(span, err)
	}
	log.Info("source resolved",
		"records", rep.Records,
		"imported", rep.Imported,
		"nutrients", rep.DistinctNutrients,
		"categories", rep.DistinctCategories,
	)

	key := checkpointKey(im.opts.SourceID, im.opts)
	if im.checkpoints != nil && !im.opts.Resume {
		if err := im.checkpoints.Clear(ctx, key); err != nil {
			log.Warn("checkpoint clear failed (continuing)", "error", err)
		}
	}

	phaseA, err := im.runPhaseA(ctx, p, log)
	rep.Phases = append(rep.Phases, phaseA)
	if err != nil {
		return rep, im.fail(span, err)
	}

	foods, err := im.runPhase(ctx, log, im.foodPhase(p), key)
	rep.Phases = append(rep.Phases, foods)
	if err != nil {
		return rep, im.fail(span, err)
	}

	edges, err := im.runPhase(ctx, log, im.edgePhase(p), key)
	rep.Phases = append(rep.Phases, edges)
	if err != nil {
		return rep, im.fail(span, err)
	}

	im.logSummary(log, rep)
	return rep, nil
}

func (im *Importer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(importerr.CodeOf(err)))
	return err
}

func (im *Importer) collect(ctx context.Context, src RecordSource, rep *Report, log *logger.Logger) (*plan, error) {
	p := &plan{}
	seenNutrient := map[int64]bool{}
	seenCategory := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			code := importerr.CodeOf(err)
			if importerr.IsFatal(code) {
				return nil, err
			}
			rep.Records++
			rep.Skipped[code]++
			im.metrics.RecordSkipped(code)
			log.Warn("record skipped", "record", raw.Index, "code", code, "error", err)
			continue
		}
		rep.Records++

		rec, issues, rerr := resolve.Resolve(raw)
		im.tally(rep, issues, log)
		if rerr != nil {
			if importerr.IsFatal(importerr.CodeOf(rerr)) {
				return nil, rerr
			}
			log.Warn("record skipped", "record", raw.Index, "error", rerr)
			continue
		}

		rep.Imported++
		p.records = append(p.records, rec)
		if !seenCategory[rec.Category.Description] {
			seenCategory[rec.Category.Description] = true
			p.categories = append(p.categories, rec.Category)
		}
		for _, e := range rec.Edges {
			if !seenNutrient[e.Nutrient.ID] {
				seenNutrient[e.Nutrient.ID] = true
				p.nutrients = append(p.nutrients, e.Nutrient)
			}
		}
	}
	rep.DistinctNutrients = len(p.nutrients)
	rep.DistinctCategories = len(p.categories)
	return p, nil
}

func (im *Importer) tally(rep *Report, issues []resolve.Issue, log *logger.Logger) {
	for _, is := range issues {
		if is.Dropped {
			rep.Skipped[is.Code]++
			im.metrics.RecordSkipped(is.Code)
			log.Warn("dropped", "code", is.Code, "reason", is.Reason, "record", is.Record, "fdc_id", is.FdcID, "detail", is.Detail)
			continue
		}
		rep.Notices[is.Reason]++
		im.metrics.Notice(is.Reason)
		log.Debug("notice", "reason", is.Reason, "record", is.Record, "fdc_id", is.FdcID, "detail", is.Detail)
	}
}

// runPhaseA creates every referenced nutrient (and, for parallel runs, every
// category) before any food is written, then checks the result.
func (im *Importer) runPhaseA(ctx context.Context, p *plan, log *logger.Logger) (PhaseReport, error) {
	size := im.opts.NutrientBatchSize
	var batches []graph.Batch
	for lo := 0; lo < len(p.nutrients); lo += size {
		var b graph.Batch
		for _, n := range p.nutrients[lo:min(lo+size, len(p.nutrients))] {
			b.Merges = append(b.Merges, graph.NodeMerge{
				Label:    nutrition.LabelNutrient,
				KeyField: nutrition.KeyNutrientID,
				Key:      n.ID,
				OnCreate: n.Properties(),
			})
		}
		batches = append(batches, b)
	}
	if im.opts.Parallelism > 1 {
		for lo := 0; lo < len(p.categories); lo += size {
			var b graph.Batch
			for _, c := range p.categories[lo:min(lo+size, len(p.categories))] {
				b.Merges = append(b.Merges, categoryMerge(c))
			}
			batches = append(batches, b)
		}
	}

	ps := phaseSpec{
		name:    PhaseNutrients,
		batches: len(batches),
		build:   func(i int) (graph.Batch, []string, int) { return batches[i-1], nil, 0 },
	}
	rep, err := im.runPhase(ctx, log, ps, "")
	if err != nil {
		return rep, err
	}

	stored, err := im.store.CountNodes(ctx, nutrition.LabelNutrient)
	if err != nil {
		return rep, importerr.Wrap(importerr.PreMaterializationIncomplete, "count_nutrients", "cannot confirm nutrients", err)
	}
	if stored < int64(len(p.nutrients)) {
		return rep, importerr.New(importerr.PreMaterializationIncomplete, "count_nutrients",
			fmt.Sprintf("store holds %d nutrients, %d referenced", stored, len(p.nutrients)))
	}
	if im.opts.Parallelism > 1 {
		cats, err := im.store.CountNodes(ctx, nutrition.LabelFoodCategory)
		if err != nil {
			return rep, importerr.Wrap(importerr.PreMaterializationIncomplete, "count_categories", "cannot confirm categories", err)
		}
		if cats < int64(len(p.categories)) {
			return rep, importerr.New(importerr.PreMaterializationIncomplete, "count_categories",
				fmt.Sprintf("store holds %d categories, %d referenced", cats, len(p.categories)))
		}
	}
	log.Info("nutrients pre-materialized", "distinct", len(p.nutrients), "stored", stored)
	return rep, nil
}

func categoryMerge(c nutrition.CategoryKey) graph.NodeMerge {
	return graph.NodeMerge{
		Label:    nutrition.LabelFoodCategory,
		KeyField: nutrition.KeyCategoryDescription,
		Key:      c.Description,
		OnCreate: c.OnCreateProperties(),
	}
}

func (im *Importer) foodPhase(p *plan) phaseSpec {
	size := im.opts.FoodBatchSize
	merge := im.opts.Merge
	return phaseSpec{
		name:       PhaseFoods,
		batches:    (len(p.records) + size - 1) / size,
		parallel:   im.opts.Parallelism > 1,
		checkpoint: true,
		build: func(i int) (graph.Batch, []string, int) {
			lo := (i - 1) * size
			recs := p.records[lo:min(lo+size, len(p.records))]
			var (
				b    graph.Batch
				keys []string
				seen = map[string]bool{}
			)
			for _, r := range recs {
				desc := r.Category.Description
				if !seen[desc] {
					seen[desc] = true
					keys = append(keys, desc)
					b.Merges = append(b.Merges, categoryMerge(r.Category))
				}
				if merge {
					b.Merges = append(b.Merges, graph.NodeMerge{
						Label:    nutrition.LabelFood,
						KeyField: nutrition.KeyFoodFdcID,
						Key:      r.Food.FdcID,
						Set:      r.Food.Properties(),
					})
				} else {
					b.Creates = append(b.Creates, graph.NodeCreate{
						Label:    nutrition.LabelFood,
						KeyField: nutrition.KeyFoodFdcID,
						Key:      r.Food.FdcID,
						Props:    r.Food.Properties(),
					})
				}
				b.Edges = append(b.Edges, graph.EdgeCreate{
					Type:   nutrition.RelBelongsTo,
					From:   foodRef(r.Food.FdcID),
					To:     categoryRef(desc),
					Unique: merge,
				})
			}
			return b, keys, len(recs)
		},
	}
}

// edgePhase only matches nutrients created in phase A, so its batches share
// no create-or-match work and need no keyed locks.
func (im *Importer) edgePhase(p *plan) phaseSpec {
	size := im.opts.EdgeBatchSize
	merge := im.opts.Merge
	return phaseSpec{
		name:       PhaseEdges,
		batches:    (len(p.records) + size - 1) / size,
		parallel:   im.opts.Parallelism > 1,
		checkpoint: true,
		build: func(i int) (graph.Batch, []string, int) {
			lo := (i - 1) * size
			recs := p.records[lo:min(lo+size, len(p.records))]
			var b graph.Batch
			for _, r := range recs {
				for _, e := range r.Edges {
					b.Edges = append(b.Edges, graph.EdgeCreate{
						Type:   nutrition.RelHasNutrient,
						From:   foodRef(r.Food.FdcID),
						To:     nutrientRef(e.Nutrient.ID),
						Props:  e.Properties(),
						Unique: merge,
					})
				}
			}
			return b, nil, len(recs)
		},
	}
}

type phaseSpec struct {
	name       string
	batches    int
	parallel   bool
	checkpoint bool
	// build returns batch i (1-based), the category keys it writes, and the
	// number of foods it covers.
	build func(i int) (graph.Batch, []string, int)
}

func (im *Importer) runPhase(ctx context.Context, log *logger.Logger, ps phaseSpec, key string) (rep PhaseReport, err error) {
	started := time.Now()
	rep = PhaseReport{Phase: ps.name, Batches: ps.batches}
	defer func() { rep.Duration = time.Since(started) }()

	ctx, span := im.tracer.Start(ctx, "import.phase", trace.WithAttributes(
		attribute.String("phase", ps.name),
		attribute.Int("batches", ps.batches),
	))
	defer span.End()

	start := 0
	useCheckpoints := ps.checkpoint && im.checkpoints != nil
	if useCheckpoints && im.opts.Resume {
		saved, lerr := im.checkpoints.Load(ctx, key, ps.name)
		if lerr != nil {
			log.Warn("checkpoint load failed, starting phase from the first batch", "phase", ps.name, "error", lerr)
		} else if saved > 0 {
			start = min(saved, ps.batches)
			log.Info("resuming phase", "phase", ps.name, "skipping_batches", start)
		}
	}
	rep.Resumed = start

	var (
		wm        = newWatermark(start)
		committed atomic.Int64
		foods     atomic.Int64
		sumMu     sync.Mutex
	)
	afterCommit := func(i, n int, sum graph.BatchSummary) {
		committed.Add(1)
		sumMu.Lock()
		rep.Summary.Add(sum)
		sumMu.Unlock()
		if mark, moved := wm.commit(i); moved && useCheckpoints {
			if err := im.checkpoints.Save(ctx, key, ps.name, mark); err != nil {
				log.Warn("checkpoint save failed (continuing)", "phase", ps.name, "batch", mark, "error", err)
			}
		}
		if n > 0 {
			done := foods.Add(int64(n))
			every := int64(im.opts.ProgressEvery)
			if done/every > (done-int64(n))/every {
				log.Info("progress", "phase", ps.name, "foods", done, "batch", i, "of", ps.batches)
			}
		}
	}

	if !ps.parallel || im.opts.Parallelism <= 1 {
		for i := start + 1; i <= ps.batches; i++ {
			b, _, n := ps.build(i)
			sum, aerr := im.applyBatch(ctx, ps.name, i, b)
			if aerr != nil {
				rep.Committed = start + int(committed.Load())
				return rep, importerr.BatchFailure(ps.name, i, i-1, aerr)
			}
			afterCommit(i, n, sum)
		}
		rep.Committed = start + int(committed.Load())
		return rep, nil
	}

	locks := newKeyedMutex()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Parallelism)
	for i := start + 1; i <= ps.batches; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			b, keys, n := ps.build(i)
			unlock := locks.lockAll(keys)
			sum, err := im.applyBatch(gctx, ps.name, i, b)
			unlock()
			if err != nil {
				return &batchError{batch: i, err: err}
			}
			afterCommit(i, n, sum)
			return nil
		})
	}
	werr := g.Wait()
	rep.Committed = start + int(committed.Load())
	if werr != nil {
		var be *batchError
		if errors.As(werr, &be) {
			return rep, importerr.BatchFailure(ps.name, be.batch, rep.Committed, be.err)
		}
		return rep, werr
	}
	if cerr := ctx.Err(); cerr != nil {
		return rep, cerr
	}
	return rep, nil
}

type batchError struct {
	batch int
	err   error
}

func (e *batchError) Error() string { return fmt.Sprintf("batch %d: %v", e.batch, e.err) }
func (e *batchError) Unwrap() error { return e.err }

func (im *Importer) applyBatch(ctx context.Context, phase string, i int, b graph.Batch) (graph.BatchSummary, error) {
	if b.Len() == 0 {
		return graph.BatchSummary{}, nil
	}
	ctx, span := im.tracer.Start(ctx, "import.batch", trace.WithAttributes(
		attribute.String("phase", phase),
		attribute.Int("batch", i),
		attribute.Int("items", b.Len()),
	))
	defer span.End()

	t0 := time.Now()
	sum, err := im.store.Apply(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		im.metrics.BatchFailed(phase)
		return graph.BatchSummary{}, err
	}
	im.metrics.BatchCommitted(phase, time.Since(t0), sum)
	return sum, nil
}

func (im *Importer) logSummary(log *logger.Logger, rep *Report) {
	for _, ph := range rep.Phases {
		log.Info("phase complete",
			"phase", ph.Phase,
			"batches", ph.Batches,
			"committed", ph.Committed,
			"resumed", ph.Resumed,
			"nodes_created", ph.Summary.NodesCreated,
			"relationships_created", ph.Summary.RelationshipsCreated,
			"duration", ph.Duration.String(),
		)
	}
	if len(rep.Skipped) > 0 {
		keys := make([]string, 0, len(rep.Skipped))
		for c := range rep.Skipped {
			keys = append(keys, string(c))
		}
		sort.Strings(keys)
		for _, c := range keys {
			log.Warn("skipped during import", "code", c, "count", rep.Skipped[importerr.Code(c)])
		}
	}
	if len(rep.Notices) > 0 {
		log.Info("import notices", "counts", rep.Notices)
	}
	log.Info("import complete", "records", rep.Records, "imported", rep.Imported)
}
