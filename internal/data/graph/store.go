// Package graph is the node/edge store the importer writes through.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrMissingEndpoint fails a batch when an edge endpoint does not exist.
	ErrMissingEndpoint = errors.New("graph: edge endpoint not found")
	// ErrConstraintViolation is returned by stores that enforce uniqueness themselves.
	ErrConstraintViolation = errors.New("graph: unique constraint violated")
	ErrInvalidIdentifier   = errors.New("graph: invalid identifier")
)

// Constraint is a uniqueness constraint on Label.Property.
type Constraint struct {
	Name     string
	Label    string
	Property string
}

type Index struct {
	Name     string
	Label    string
	Property string
}

// NodeRef addresses nodes by label and key property.
type NodeRef struct {
	Label    string
	KeyField string
	Key      any
}

// NodeMerge matches a node by key or creates it. Set is written on every
// pass, OnCreate only when the node is created.
type NodeMerge struct {
	Label    string
	KeyField string
	Key      any
	Set      map[string]any
	OnCreate map[string]any
}

// NodeCreate always creates a node. A key already held under a unique
// constraint fails the batch.
type NodeCreate struct {
	Label    string
	KeyField string
	Key      any
	Props    map[string]any
}

// EdgeCreate links two existing nodes. Unique edges are merged so at most
// one edge of Type exists per pair; otherwise every call adds an edge.
type EdgeCreate struct {
	Type   string
	From   NodeRef
	To     NodeRef
	Props  map[string]any
	Unique bool
}

// Batch is applied atomically: merges, then creates, then edges.
type Batch struct {
	Merges  []NodeMerge
	Creates []NodeCreate
	Edges   []EdgeCreate
}

func (b Batch) Len() int { return len(b.Merges) + len(b.Creates) + len(b.Edges) }

type BatchSummary struct {
	NodesCreated         int64
	RelationshipsCreated int64
	PropertiesSet        int64
}

func (s *BatchSummary) Add(o BatchSummary) {
	s.NodesCreated += o.NodesCreated
	s.RelationshipsCreated += o.RelationshipsCreated
	s.PropertiesSet += o.PropertiesSet
}

// EdgeAverage averages Property over edges of Type that end at To.
// A zero To averages over every edge of Type.
type EdgeAverage struct {
	Type     string
	Property string
	To       NodeRef
}

type Store interface {
	CreateConstraint(ctx context.Context, c Constraint) error
	CreateIndex(ctx context.Context, idx Index) error
	DropConstraint(ctx context.Context, name string) error
	DropIndex(ctx context.Context, name string) error

	Apply(ctx context.Context, b Batch) (BatchSummary, error)

	DeleteAllEdges(ctx context.Context) (int64, error)
	DeleteAllNodes(ctx context.Context) (int64, error)

	CountNodes(ctx context.Context, label string) (int64, error)
	CountEdges(ctx context.Context, relType string) (int64, error)
	// Average returns nil when no edge carries the property.
	Average(ctx context.Context, q EdgeAverage) (*float64, int64, error)

	Close(ctx context.Context) error
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(kind, s string) error {
	if !identRE.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, s)
	}
	return nil
}

func (r NodeRef) validate() error {
	if err := checkIdent("label", r.Label); err != nil {
		return err
	}
	if err := checkIdent("key field", r.KeyField); err != nil {
		return err
	}
	if r.Key == nil {
		return fmt.Errorf("graph: nil key for %s.%s", r.Label, r.KeyField)
	}
	return nil
}

func (b Batch) validate() error {
	for _, m := range b.Merges {
		if err := (NodeRef{m.Label, m.KeyField, m.Key}).validate(); err != nil {
			return err
		}
	}
	for _, c := range b.Creates {
		if err := (NodeRef{c.Label, c.KeyField, c.Key}).validate(); err != nil {
			return err
		}
	}
	for _, e := range b.Edges {
		if err := checkIdent("relationship type", e.Type); err != nil {
			return err
		}
		if err := e.From.validate(); err != nil {
			return err
		}
		if err := e.To.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Constraint) validate() error { return checkSchemaObject(c.Name, c.Label, c.Property) }

func (i Index) validate() error { return checkSchemaObject(i.Name, i.Label, i.Property) }

func checkSchemaObject(name, label, property string) error {
	if err := checkIdent("schema name", name); err != nil {
		return err
	}
	if err := checkIdent("label", label); err != nil {
		return err
	}
	return checkIdent("property", property)
}
