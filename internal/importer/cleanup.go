package importer

import (
	"context"
	"fmt"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

// EnsureSchema creates the constraints and indexes if they are missing.
func EnsureSchema(ctx context.Context, store graph.Store, log *logger.Logger) error {
	for _, c := range constraints {
		if err := store.CreateConstraint(ctx, c); err != nil {
			return fmt.Errorf("create constraint %s: %w", c.Name, err)
		}
	}
	for _, idx := range indexes {
		if err := store.CreateIndex(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	if log != nil {
		log.Debug("schema ensured", "constraints", len(constraints), "indexes", len(indexes))
	}
	return nil
}

type ResetResult struct {
	EdgesDeleted int64
	NodesDeleted int64
}

// Reset deletes every edge and node, drops current and legacy schema
// objects, then recreates the current schema. Running it twice is safe.
func Reset(ctx context.Context, store graph.Store, log *logger.Logger) (*ResetResult, error) {
	edges, err := store.DeleteAllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete edges: %w", err)
	}
	nodes, err := store.DeleteAllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete nodes: %w", err)
	}

	for _, c := range constraints {
		if err := store.DropConstraint(ctx, c.Name); err != nil {
			return nil, fmt.Errorf("drop constraint %s: %w", c.Name, err)
		}
	}
	for _, name := range legacyConstraints {
		if err := store.DropConstraint(ctx, name); err != nil {
			return nil, fmt.Errorf("drop legacy constraint %s: %w", name, err)
		}
	}
	for _, idx := range indexes {
		if err := store.DropIndex(ctx, idx.Name); err != nil {
			return nil, fmt.Errorf("drop index %s: %w", idx.Name, err)
		}
	}
	if err := EnsureSchema(ctx, store, log); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("graph reset", "edges_deleted", edges, "nodes_deleted", nodes)
	}
	return &ResetResult{EdgesDeleted: edges, NodesDeleted: nodes}, nil
}
