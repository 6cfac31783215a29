package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/app"
	"github.com/yungbote/fooddata-graph/internal/importer"
)

func newVerifyCmd(g *globalFlags) *cobra.Command {
	var (
		nf        neo4jFlags
		nutrients []int64
		jsonOut   bool
		want      struct{ foods, categories, nutrients, belongsTo, hasNutrient int64 }
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Print graph counts, optionally failing when they differ from expectations",
		Example: `  fdcimport verify
  fdcimport verify --expect-foods 365 --expect-nutrients 228 --nutrient 1003`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			nf.apply(cmd, &cfg)

			var expect importer.Expectations
			fl := cmd.Flags()
			for _, e := range []struct {
				flag string
				dst  **int64
				v    *int64
			}{
				{"expect-foods", &expect.Foods, &want.foods},
				{"expect-categories", &expect.Categories, &want.categories},
				{"expect-nutrients", &expect.Nutrients, &want.nutrients},
				{"expect-belongs-to", &expect.BelongsTo, &want.belongsTo},
				{"expect-has-nutrient", &expect.HasNutrient, &want.hasNutrient},
			} {
				if fl.Changed(e.flag) {
					*e.dst = e.v
				}
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.Need{Graph: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res, verr := a.Verify(ctx, expect, nutrients)
			if res != nil {
				if jsonOut {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(res); err != nil {
						return err
					}
				} else {
					printCounts(cmd, res)
				}
			}
			return verr
		},
	}
	nf.register(cmd)
	fl := cmd.Flags()
	fl.Int64Var(&want.foods, "expect-foods", 0, "expected Food nodes")
	fl.Int64Var(&want.categories, "expect-categories", 0, "expected FoodCategory nodes")
	fl.Int64Var(&want.nutrients, "expect-nutrients", 0, "expected Nutrient nodes")
	fl.Int64Var(&want.belongsTo, "expect-belongs-to", 0, "expected BELONGS_TO relationships")
	fl.Int64Var(&want.hasNutrient, "expect-has-nutrient", 0, "expected HAS_NUTRIENT relationships")
	fl.Int64SliceVar(&nutrients, "nutrient", nil, "nutrient id to report the average amount for (repeatable)")
	fl.BoolVar(&jsonOut, "json", false, "print counts as JSON")
	return cmd
}
