package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/app"
)

var errAborted = errors.New("aborted by operator")

func newCleanupCmd(g *globalFlags) *cobra.Command {
	var (
		nf  neo4jFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every node and relationship, then recreate the schema",
		Long: `Cleanup deletes all relationships and nodes in batches, drops the
importer's constraints and indexes (including the legacy category_id
constraint), recreates the current schema and clears saved checkpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			nf.apply(cmd, &cfg)
			if err := confirm(cmd, yes, fmt.Sprintf("Delete every node and relationship in %s?", cfg.Neo4j.URI)); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.Need{Graph: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res, err := a.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d relationships and %d nodes\n", res.EdgesDeleted, res.NodesDeleted)
			return nil
		},
	}
	nf.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm asks on the command's input unless yes is set. Only "yes" or "y"
// proceeds.
func confirm(cmd *cobra.Command, yes bool, question string) error {
	if yes {
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s (yes/no): ", question)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return errAborted
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return nil
	default:
		return errAborted
	}
}
