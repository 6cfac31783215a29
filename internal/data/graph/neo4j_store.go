package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/yungbote/fooddata-graph/internal/platform/logger"
	"github.com/yungbote/fooddata-graph/internal/platform/neo4jdb"
)

const defaultDeleteChunk = 10000

// Neo4jStore runs each batch as one write transaction of UNWIND statements.
type Neo4jStore struct {
	client      *neo4jdb.Client
	log         *logger.Logger
	deleteChunk int
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("neo4j store: client required")
	}
	if log == nil {
		return nil, fmt.Errorf("neo4j store: logger required")
	}
	return &Neo4jStore{client: client, log: log.With("store", "Neo4jStore"), deleteChunk: defaultDeleteChunk}, nil
}

func (s *Neo4jStore) CreateConstraint(ctx context.Context, c Constraint) error {
	if err := c.validate(); err != nil {
		return err
	}
	q := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", c.Name, c.Label, c.Property)
	return s.runSchema(ctx, q)
}

func (s *Neo4jStore) CreateIndex(ctx context.Context, idx Index) error {
	if err := idx.validate(); err != nil {
		return err
	}
	q := fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", idx.Name, idx.Label, idx.Property)
	return s.runSchema(ctx, q)
}

func (s *Neo4jStore) DropConstraint(ctx context.Context, name string) error {
	if err := checkIdent("schema name", name); err != nil {
		return err
	}
	return s.runSchema(ctx, fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", name))
}

func (s *Neo4jStore) DropIndex(ctx context.Context, name string) error {
	if err := checkIdent("schema name", name); err != nil {
		return err
	}
	return s.runSchema(ctx, fmt.Sprintf("DROP INDEX %s IF EXISTS", name))
}

// Schema statements cannot share a transaction with data writes, so they run
// as auto-commit queries.
func (s *Neo4jStore) runSchema(ctx context.Context, q string) error {
	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	res, err := session.Run(ctx, q, nil)
	if err != nil {
		return fmt.Errorf("neo4j schema: %w", err)
	}
	if _, err := res.Consume(ctx); err != nil {
		return fmt.Errorf("neo4j schema: %w", err)
	}
	s.log.Debug("neo4j schema statement applied", "cypher", q)
	return nil
}

func (s *Neo4jStore) Apply(ctx context.Context, b Batch) (BatchSummary, error) {
	if err := b.validate(); err != nil {
		return BatchSummary{}, err
	}
	stmts := buildStatements(b)
	if len(stmts) == 0 {
		return BatchSummary{}, nil
	}

	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var sum BatchSummary
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if st.countsMatches {
				rec, err := res.Single(ctx)
				if err != nil {
					return nil, err
				}
				matched, _ := rec.Get("matched")
				if n, _ := matched.(int64); n < int64(st.rows) {
					return nil, fmt.Errorf("%w: %s matched %d of %d rows", ErrMissingEndpoint, st.label, n, st.rows)
				}
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			if summary != nil && summary.Counters() != nil {
				c := summary.Counters()
				sum.NodesCreated += int64(c.NodesCreated())
				sum.RelationshipsCreated += int64(c.RelationshipsCreated())
				sum.PropertiesSet += int64(c.PropertiesSet())
			}
		}
		return sum, nil
	})
	if err != nil {
		return BatchSummary{}, err
	}
	return out.(BatchSummary), nil
}

func (s *Neo4jStore) DeleteAllEdges(ctx context.Context) (int64, error) {
	return s.deleteChunked(ctx, "MATCH ()-[r]->() WITH r LIMIT $limit DELETE r RETURN count(*) AS deleted")
}

func (s *Neo4jStore) DeleteAllNodes(ctx context.Context) (int64, error) {
	return s.deleteChunked(ctx, "MATCH (n) WITH n LIMIT $limit DETACH DELETE n RETURN count(*) AS deleted")
}

// deleteChunked repeats a bounded delete until nothing is left so a large
// graph never needs one huge transaction.
func (s *Neo4jStore) deleteChunked(ctx context.Context, q string) (int64, error) {
	session := s.client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var total int64
	for {
		out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, q, map[string]any{"limit": int64(s.deleteChunk)})
			if err != nil {
				return nil, err
			}
			rec, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			v, _ := rec.Get("deleted")
			n, _ := v.(int64)
			return n, nil
		})
		if err != nil {
			return total, err
		}
		n := out.(int64)
		total += n
		if n < int64(s.deleteChunk) {
			return total, nil
		}
	}
}

func (s *Neo4jStore) CountNodes(ctx context.Context, label string) (int64, error) {
	if err := checkIdent("label", label); err != nil {
		return 0, err
	}
	return s.readCount(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label), nil)
}

func (s *Neo4jStore) CountEdges(ctx context.Context, relType string) (int64, error) {
	if err := checkIdent("relationship type", relType); err != nil {
		return 0, err
	}
	return s.readCount(ctx, fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS c", relType), nil)
}

func (s *Neo4jStore) readCount(ctx context.Context, q string, params map[string]any) (int64, error) {
	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _ := rec.Get("c")
		n, _ := v.(int64)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (s *Neo4jStore) Average(ctx context.Context, q EdgeAverage) (*float64, int64, error) {
	cypher, params, err := averageQuery(q)
	if err != nil {
		return nil, 0, err
	}

	session := s.client.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	type result struct {
		avg *float64
		n   int64
	}
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		var r result
		if v, ok := rec.Get("avg"); ok && v != nil {
			if f, ok := v.(float64); ok {
				r.avg = &f
			}
		}
		v, _ := rec.Get("n")
		r.n, _ = v.(int64)
		return r, nil
	})
	if err != nil {
		return nil, 0, err
	}
	r := out.(result)
	return r.avg, r.n, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

type statement struct {
	label         string
	cypher        string
	params        map[string]any
	rows          int
	countsMatches bool
}

type groupKey struct {
	kind   string
	label  string
	key    string
	toLbl  string
	toKey  string
	unique bool
}

// buildStatements groups batch items into one UNWIND statement per shape,
// keeping the order in which shapes first appear.
func buildStatements(b Batch) []statement {
	var order []groupKey
	rows := map[groupKey][]map[string]any{}
	add := func(k groupKey, row map[string]any) {
		if _, ok := rows[k]; !ok {
			order = append(order, k)
		}
		rows[k] = append(rows[k], row)
	}

	for _, m := range b.Merges {
		add(groupKey{kind: "merge", label: m.Label, key: m.KeyField}, map[string]any{
			"key":      toParam(m.Key),
			"set":      toParams(m.Set),
			"onCreate": toParams(m.OnCreate),
		})
	}
	for _, c := range b.Creates {
		add(groupKey{kind: "create", label: c.Label, key: c.KeyField}, map[string]any{
			"key":   toParam(c.Key),
			"props": toParams(c.Props),
		})
	}
	for _, e := range b.Edges {
		k := groupKey{
			kind:   "edge:" + e.Type,
			label:  e.From.Label,
			key:    e.From.KeyField,
			toLbl:  e.To.Label,
			toKey:  e.To.KeyField,
			unique: e.Unique,
		}
		add(k, map[string]any{
			"from":  toParam(e.From.Key),
			"to":    toParam(e.To.Key),
			"props": toParams(e.Props),
		})
	}

	out := make([]statement, 0, len(order))
	for _, k := range order {
		r := rows[k]
		st := statement{params: map[string]any{"rows": r}, rows: len(r)}
		switch {
		case k.kind == "merge":
			st.label = k.label
			st.cypher = fmt.Sprintf(`
UNWIND $rows AS row
MERGE (n:%s {%s: row.key})
ON CREATE SET n += row.onCreate
SET n += row.set
`, k.label, k.key)
		case k.kind == "create":
			st.label = k.label
			st.cypher = fmt.Sprintf(`
UNWIND $rows AS row
CREATE (n:%s {%s: row.key})
SET n += row.props
`, k.label, k.key)
		default:
			relType := strings.TrimPrefix(k.kind, "edge:")
			verb := "CREATE"
			if k.unique {
				verb = "MERGE"
			}
			st.label = relType
			st.countsMatches = true
			st.cypher = fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:%s {%s: row.from})
MATCH (b:%s {%s: row.to})
%s (a)-[r:%s]->(b)
SET r += row.props
RETURN count(r) AS matched
`, k.label, k.key, k.toLbl, k.toKey, verb, relType)
		}
		out = append(out, st)
	}
	return out
}

func averageQuery(q EdgeAverage) (string, map[string]any, error) {
	if err := checkIdent("relationship type", q.Type); err != nil {
		return "", nil, err
	}
	if err := checkIdent("property", q.Property); err != nil {
		return "", nil, err
	}
	if q.To == (NodeRef{}) {
		return fmt.Sprintf("MATCH ()-[r:%s]->() RETURN avg(r.%s) AS avg, count(r.%s) AS n", q.Type, q.Property, q.Property), nil, nil
	}
	if err := q.To.validate(); err != nil {
		return "", nil, err
	}
	cypher := fmt.Sprintf("MATCH ()-[r:%s]->(b:%s {%s: $key}) RETURN avg(r.%s) AS avg, count(r.%s) AS n",
		q.Type, q.To.Label, q.To.KeyField, q.Property, q.Property)
	return cypher, map[string]any{"key": toParam(q.To.Key)}, nil
}

func toParams(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = toParam(v)
	}
	return out
}

// toParam maps Go values onto driver types. Dates are stored as Neo4j
// dates, not datetimes.
func toParam(v any) any {
	switch t := v.(type) {
	case time.Time:
		return dbtype.Date(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return dbtype.Date(*t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}
