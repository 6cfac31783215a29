package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/app"
	"github.com/yungbote/fooddata-graph/internal/importer"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

type importFlags struct {
	neo4j         neo4jFlags
	source        string
	selector      string
	foodBatch     int
	edgeBatch     int
	nutrientBatch int
	parallel      int
	cleanup       bool
	yes           bool
	merge         bool
	resume        bool
	dryRun        bool
	jsonOut       bool
}

func newImportCmd(g *globalFlags) *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a FoodData Central JSON document",
		Long: `Import reads the source once, creates every referenced Nutrient, then
writes foods with their categories and finally the nutrient measurements.

Without --merge the graph is assumed to be empty: rerunning over an earlier
import fails on the Food key constraint. Use --cleanup to reset first, or
--merge to rerun in place.`,
		Example: `  fdcimport import --source FoodData_Central_foundation_food_json_2025-04-24.json
  fdcimport import --source https://fdc.nal.usda.gov/fdc-datasets/foundation.zip --cleanup --yes
  fdcimport import --source s3://fdc/foundation.json.gz --merge --parallel 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			return runImport(cmd, cfg, f)
		},
	}
	f.neo4j.register(cmd)
	fl := cmd.Flags()
	fl.StringVarP(&f.source, "source", "s", "", "path, - for stdin, or http(s)/s3/gs URL (overrides FDC_SOURCE)")
	fl.StringVar(&f.selector, "selector", "", `dotted path to the record array; "" for a top-level array`)
	fl.IntVar(&f.foodBatch, "food-batch", 0, "foods per batch in the food phase")
	fl.IntVar(&f.edgeBatch, "edge-batch", 0, "foods per batch in the nutrient edge phase")
	fl.IntVar(&f.nutrientBatch, "nutrient-batch", 0, "nutrients per batch in the pre-materialization phase")
	fl.IntVar(&f.parallel, "parallel", 0, "batches in flight per phase")
	fl.BoolVar(&f.cleanup, "cleanup", false, "reset the graph before importing")
	fl.BoolVarP(&f.yes, "yes", "y", false, "do not ask before --cleanup")
	fl.BoolVar(&f.merge, "merge", false, "merge foods and relationships so reruns do not duplicate")
	fl.BoolVar(&f.resume, "resume", false, "skip batches committed by an earlier run of the same source")
	fl.BoolVar(&f.dryRun, "dry-run", false, "import into an in-memory graph and report")
	fl.BoolVar(&f.jsonOut, "json", false, "print the run report as JSON")
	return cmd
}

func (f *importFlags) apply(cmd *cobra.Command, cfg *app.Config) {
	f.neo4j.apply(cmd, cfg)
	fl := cmd.Flags()
	if fl.Changed("source") {
		cfg.Source.Location = f.source
	}
	if fl.Changed("selector") {
		cfg.Source.Selector = f.selector
	}
	if fl.Changed("food-batch") {
		cfg.Import.FoodBatchSize = f.foodBatch
	}
	if fl.Changed("edge-batch") {
		cfg.Import.EdgeBatchSize = f.edgeBatch
	}
	if fl.Changed("nutrient-batch") {
		cfg.Import.NutrientBatchSize = f.nutrientBatch
	}
	if fl.Changed("parallel") {
		cfg.Import.Parallelism = f.parallel
	}
	if fl.Changed("merge") {
		cfg.Import.Merge = f.merge
	}
	if fl.Changed("resume") {
		cfg.Import.Resume = f.resume
	}
	if fl.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
}

func runImport(cmd *cobra.Command, cfg app.Config, f *importFlags) error {
	ctx := cmd.Context()
	if f.cleanup && !cfg.DryRun {
		if err := confirm(cmd, f.yes, fmt.Sprintf("Delete every node and relationship in %s before importing?", cfg.Neo4j.URI)); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, app.Need{Source: true, Graph: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rep, runErr := a.Import(ctx, f.cleanup)
	if rep != nil {
		if f.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
		} else {
			printReport(cmd, rep)
		}
	}
	if runErr != nil {
		return runErr
	}

	if !f.jsonOut {
		res, err := a.Verify(ctx, importer.Expectations{}, nil)
		if err != nil {
			return err
		}
		printCounts(cmd, res)
	}
	return nil
}

func printReport(cmd *cobra.Command, rep *importer.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", rep.RunID)
	fmt.Fprintf(out, "records: %d read, %d imported, %d nutrients, %d categories\n",
		rep.Records, rep.Imported, rep.DistinctNutrients, rep.DistinctCategories)
	for _, p := range rep.Phases {
		fmt.Fprintf(out, "  %-15s %d/%d batches", p.Phase, p.Committed, p.Batches)
		if p.Resumed > 0 {
			fmt.Fprintf(out, " (%d resumed)", p.Resumed)
		}
		fmt.Fprintf(out, " nodes+%d rels+%d %s\n", p.Summary.NodesCreated, p.Summary.RelationshipsCreated, p.Duration.Round(time.Millisecond))
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintln(out, "skipped:")
		codes := make([]string, 0, len(rep.Skipped))
		for c := range rep.Skipped {
			codes = append(codes, string(c))
		}
		sort.Strings(codes)
		for _, c := range codes {
			fmt.Fprintf(out, "  %-32s %d\n", c, rep.Skipped[importerr.Code(c)])
		}
	}
	if len(rep.Notices) > 0 {
		fmt.Fprintln(out, "notices:")
		reasons := make([]string, 0, len(rep.Notices))
		for r := range rep.Notices {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(out, "  %-32s %d\n", r, rep.Notices[r])
		}
	}
}

func printCounts(cmd *cobra.Command, res *app.VerifyResult) {
	out := cmd.OutOrStdout()
	c := res.Counts
	fmt.Fprintf(out, "Foods:                  %d\n", c.Foods)
	fmt.Fprintf(out, "Nutrients:              %d\n", c.Nutrients)
	fmt.Fprintf(out, "Food categories:        %d\n", c.Categories)
	fmt.Fprintf(out, "Nutrient relationships: %d\n", c.HasNutrient)
	fmt.Fprintf(out, "Category relationships: %d\n", c.BelongsTo)
	for _, avg := range res.Averages {
		if avg.Avg == nil {
			fmt.Fprintf(out, "nutrient %d: no amounts\n", avg.ID)
			continue
		}
		fmt.Fprintf(out, "nutrient %d: avg amount %.4f over %d foods\n", avg.ID, *avg.Avg, avg.N)
	}
}
