package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/app"
	"github.com/yungbote/fooddata-graph/internal/importer"
)

func newSchemaCmd(g *globalFlags) *cobra.Command {
	var nf neo4jFlags
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the importer's constraints and indexes if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			nf.apply(cmd, &cfg)

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.Need{Graph: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.EnsureSchema(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range importer.Constraints() {
				fmt.Fprintf(out, "constraint %-28s %s.%s unique\n", c.Name, c.Label, c.Property)
			}
			for _, idx := range importer.Indexes() {
				fmt.Fprintf(out, "index      %-28s %s.%s\n", idx.Name, idx.Label, idx.Property)
			}
			return nil
		},
	}
	nf.register(cmd)
	return cmd
}
