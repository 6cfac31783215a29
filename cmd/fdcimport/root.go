package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/app"
)

type globalFlags struct {
	configPath string
	logMode    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "fdcimport",
		Short: "Import USDA FoodData Central JSON into a Neo4j graph",
		Long: `fdcimport loads a FoodData Central release (Foundation Foods by default)
into Neo4j as Food, FoodCategory and Nutrient nodes joined by BELONGS_TO
and HAS_NUTRIENT relationships.

Configuration is read from defaults, then --config, then .env and the
environment, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.logMode, "log-mode", "", "log mode: development or production")

	root.AddCommand(
		newImportCmd(g),
		newCleanupCmd(g),
		newVerifyCmd(g),
		newSchemaCmd(g),
	)
	return root
}

// Execute runs root with SIGINT/SIGTERM cancelling the context.
func Execute(ctx context.Context, root *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return root.ExecuteContext(ctx)
}

func (g *globalFlags) load() (app.Config, error) {
	cfg, err := app.LoadConfig(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.logMode != "" {
		cfg.LogMode = g.logMode
	}
	return cfg, nil
}

type neo4jFlags struct {
	uri, user, password, database string
}

func (f *neo4jFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.uri, "neo4j-uri", "", "Neo4j URI (overrides NEO4J_URI)")
	cmd.Flags().StringVar(&f.user, "neo4j-user", "", "Neo4j user (overrides NEO4J_USER)")
	cmd.Flags().StringVar(&f.password, "neo4j-password", "", "Neo4j password (overrides NEO4J_PASSWORD)")
	cmd.Flags().StringVar(&f.database, "neo4j-database", "", "Neo4j database (overrides NEO4J_DATABASE)")
}

func (f *neo4jFlags) apply(cmd *cobra.Command, cfg *app.Config) {
	if cmd.Flags().Changed("neo4j-uri") {
		cfg.Neo4j.URI = f.uri
	}
	if cmd.Flags().Changed("neo4j-user") {
		cfg.Neo4j.User = f.user
	}
	if cmd.Flags().Changed("neo4j-password") {
		cfg.Neo4j.Password = f.password
	}
	if cmd.Flags().Changed("neo4j-database") {
		cfg.Neo4j.Database = f.database
	}
}
