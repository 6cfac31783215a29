package graph

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type memNode struct {
	label string
	props map[string]any
}

type memEdge struct {
	typ   string
	from  *memNode
	to    *memNode
	props map[string]any
}

type nodeKey struct {
	label string
	field string
	value any
}

type edgePair struct {
	typ  string
	from *memNode
	to   *memNode
}

// MemoryStore is an in-process Store: identity-keyed node tables plus an
// edge list. A batch that fails is rolled back through an undo journal.
type MemoryStore struct {
	mu          sync.Mutex
	nodes       map[string][]*memNode
	byKey       map[nodeKey][]*memNode
	edges       []*memEdge
	pairs       map[edgePair]*memEdge
	constraints map[string]Constraint
	indexes     map[string]Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:       map[string][]*memNode{},
		byKey:       map[nodeKey][]*memNode{},
		pairs:       map[edgePair]*memEdge{},
		constraints: map[string]Constraint{},
		indexes:     map[string]Index{},
	}
}

func (s *MemoryStore) CreateConstraint(_ context.Context, c Constraint) error {
	if err := c.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.constraints[c.Name]; ok {
		return nil
	}
	seen := map[any]bool{}
	for _, n := range s.nodes[c.Label] {
		v, ok := n.props[c.Property]
		if !ok {
			continue
		}
		v = normalize(v)
		if seen[v] {
			return fmt.Errorf("%w: existing data has duplicate %s.%s %v", ErrConstraintViolation, c.Label, c.Property, v)
		}
		seen[v] = true
	}
	s.constraints[c.Name] = c
	return nil
}

func (s *MemoryStore) CreateIndex(_ context.Context, idx Index) error {
	if err := idx.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[idx.Name]; !ok {
		s.indexes[idx.Name] = idx
	}
	return nil
}

func (s *MemoryStore) DropConstraint(_ context.Context, name string) error {
	if err := checkIdent("schema name", name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.constraints, name)
	return nil
}

func (s *MemoryStore) DropIndex(_ context.Context, name string) error {
	if err := checkIdent("schema name", name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, name)
	return nil
}

// SchemaNames lists constraint and index names, sorted.
func (s *MemoryStore) SchemaNames() (constraints, indexes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.constraints {
		constraints = append(constraints, name)
	}
	for name := range s.indexes {
		indexes = append(indexes, name)
	}
	sort.Strings(constraints)
	sort.Strings(indexes)
	return constraints, indexes
}

func (s *MemoryStore) Apply(ctx context.Context, b Batch) (BatchSummary, error) {
	if err := b.validate(); err != nil {
		return BatchSummary{}, err
	}
	if err := ctx.Err(); err != nil {
		return BatchSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sum     BatchSummary
		undo    []func()
		edgeLen = len(s.edges)
	)
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		for _, e := range s.edges[edgeLen:] {
			if p := (edgePair{e.typ, e.from, e.to}); s.pairs[p] == e {
				delete(s.pairs, p)
			}
		}
		s.edges = s.edges[:edgeLen]
	}

	for _, m := range b.Merges {
		found := s.byKey[keyOf(m.Label, m.KeyField, m.Key)]
		if len(found) == 0 {
			props := map[string]any{m.KeyField: normalize(m.Key)}
			copyProps(props, m.OnCreate)
			copyProps(props, m.Set)
			undo = append(undo, s.insertNode(m.Label, props))
			sum.NodesCreated++
			sum.PropertiesSet += int64(len(props))
			continue
		}
		for _, n := range found {
			undo = append(undo, s.setProps(n, m.Set))
			sum.PropertiesSet += int64(len(m.Set))
		}
	}

	for _, c := range b.Creates {
		k := keyOf(c.Label, c.KeyField, c.Key)
		if len(s.byKey[k]) > 0 && s.unique(c.Label, c.KeyField) {
			rollback()
			return BatchSummary{}, fmt.Errorf("%w: %s.%s = %v already exists", ErrConstraintViolation, c.Label, c.KeyField, k.value)
		}
		props := map[string]any{c.KeyField: k.value}
		copyProps(props, c.Props)
		undo = append(undo, s.insertNode(c.Label, props))
		sum.NodesCreated++
		sum.PropertiesSet += int64(len(props))
	}

	for _, e := range b.Edges {
		froms := s.byKey[keyOf(e.From.Label, e.From.KeyField, e.From.Key)]
		tos := s.byKey[keyOf(e.To.Label, e.To.KeyField, e.To.Key)]
		if len(froms) == 0 || len(tos) == 0 {
			rollback()
			return BatchSummary{}, fmt.Errorf("%w: %s %s.%s=%v -> %s.%s=%v", ErrMissingEndpoint, e.Type,
				e.From.Label, e.From.KeyField, e.From.Key, e.To.Label, e.To.KeyField, e.To.Key)
		}
		for _, from := range froms {
			for _, to := range tos {
				p := edgePair{e.Type, from, to}
				if existing, ok := s.pairs[p]; ok && e.Unique {
					undo = append(undo, s.setEdgeProps(existing, e.Props))
					sum.PropertiesSet += int64(len(e.Props))
					continue
				}
				edge := &memEdge{typ: e.Type, from: from, to: to, props: map[string]any{}}
				copyProps(edge.props, e.Props)
				s.edges = append(s.edges, edge)
				if _, ok := s.pairs[p]; !ok {
					s.pairs[p] = edge
				}
				sum.RelationshipsCreated++
				sum.PropertiesSet += int64(len(edge.props))
			}
		}
	}
	return sum, nil
}

func (s *MemoryStore) unique(label, field string) bool {
	for _, c := range s.constraints {
		if c.Label == label && c.Property == field {
			return true
		}
	}
	return false
}

func (s *MemoryStore) insertNode(label string, props map[string]any) func() {
	n := &memNode{label: label, props: props}
	s.nodes[label] = append(s.nodes[label], n)
	var keys []nodeKey
	for field, v := range props {
		k := nodeKey{label, field, normalize(v)}
		if !hashable(k.value) {
			continue
		}
		s.byKey[k] = append(s.byKey[k], n)
		keys = append(keys, k)
	}
	return func() {
		s.nodes[label] = without(s.nodes[label], n)
		for _, k := range keys {
			if rest := without(s.byKey[k], n); len(rest) > 0 {
				s.byKey[k] = rest
			} else {
				delete(s.byKey, k)
			}
		}
	}
}

// setProps overwrites properties and keeps the key index in step.
func (s *MemoryStore) setProps(n *memNode, set map[string]any) func() {
	prev := map[string]any{}
	had := map[string]bool{}
	for field, v := range set {
		old, ok := n.props[field]
		prev[field], had[field] = old, ok
		s.reindex(n, field, old, ok, normalize(v))
		n.props[field] = normalize(v)
	}
	return func() {
		for field := range set {
			cur := n.props[field]
			if had[field] {
				s.reindex(n, field, cur, true, prev[field])
				n.props[field] = prev[field]
			} else {
				s.reindex(n, field, cur, true, nil)
				delete(n.props, field)
			}
		}
	}
}

func (s *MemoryStore) reindex(n *memNode, field string, old any, hadOld bool, next any) {
	if hadOld && hashable(old) {
		k := nodeKey{n.label, field, old}
		if rest := without(s.byKey[k], n); len(rest) > 0 {
			s.byKey[k] = rest
		} else {
			delete(s.byKey, k)
		}
	}
	if hashable(next) {
		k := nodeKey{n.label, field, next}
		s.byKey[k] = append(s.byKey[k], n)
	}
}

func (s *MemoryStore) setEdgeProps(e *memEdge, set map[string]any) func() {
	prev := make(map[string]any, len(e.props))
	copyProps(prev, e.props)
	copyProps(e.props, set)
	return func() { e.props = prev }
}

func (s *MemoryStore) DeleteAllEdges(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.edges))
	s.edges = nil
	s.pairs = map[edgePair]*memEdge{}
	return n, nil
}

func (s *MemoryStore) DeleteAllNodes(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ns := range s.nodes {
		n += int64(len(ns))
	}
	s.nodes = map[string][]*memNode{}
	s.byKey = map[nodeKey][]*memNode{}
	s.edges = nil
	s.pairs = map[edgePair]*memEdge{}
	return n, nil
}

func (s *MemoryStore) CountNodes(_ context.Context, label string) (int64, error) {
	if err := checkIdent("label", label); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.nodes[label])), nil
}

func (s *MemoryStore) CountEdges(_ context.Context, relType string) (int64, error) {
	if err := checkIdent("relationship type", relType); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.edges {
		if e.typ == relType {
			n++
		}
	}
	return n, nil
}

// CountNodesWhere counts nodes of label whose field equals value.
func (s *MemoryStore) CountNodesWhere(label, field string, value any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey[keyOf(label, field, value)])
}

// NodeProps returns a copy of the properties of the first node matching ref.
func (s *MemoryStore) NodeProps(ref NodeRef) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.byKey[keyOf(ref.Label, ref.KeyField, ref.Key)]
	if len(found) == 0 {
		return nil, false
	}
	out := map[string]any{}
	copyProps(out, found[0].props)
	return out, true
}

func (s *MemoryStore) Average(_ context.Context, q EdgeAverage) (*float64, int64, error) {
	if err := checkIdent("relationship type", q.Type); err != nil {
		return nil, 0, err
	}
	if err := checkIdent("property", q.Property); err != nil {
		return nil, 0, err
	}
	filter := q.To != (NodeRef{})
	if filter {
		if err := q.To.validate(); err != nil {
			return nil, 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets map[*memNode]bool
	if filter {
		targets = map[*memNode]bool{}
		for _, n := range s.byKey[keyOf(q.To.Label, q.To.KeyField, q.To.Key)] {
			targets[n] = true
		}
	}
	var (
		total float64
		n     int64
	)
	for _, e := range s.edges {
		if e.typ != q.Type || (filter && !targets[e.to]) {
			continue
		}
		v, ok := e.props[q.Property]
		if !ok {
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		total += f
		n++
	}
	if n == 0 {
		return nil, 0, nil
	}
	avg := total / float64(n)
	return &avg, n, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func keyOf(label, field string, v any) nodeKey {
	return nodeKey{label: label, field: field, value: normalize(v)}
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}

func hashable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func copyProps(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = normalize(v)
	}
}

func without(ns []*memNode, n *memNode) []*memNode {
	out := ns[:0:0]
	for _, x := range ns {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}
