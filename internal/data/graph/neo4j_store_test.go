package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStatementsGroupsByShape(t *testing.T) {
	b := Batch{
		Merges: []NodeMerge{
			{Label: "FoodCategory", KeyField: "description", Key: "Legumes", OnCreate: map[string]any{"code": "1600"}},
			{Label: "FoodCategory", KeyField: "description", Key: "Vegetables"},
		},
		Creates: []NodeCreate{
			{Label: "Food", KeyField: "fdcId", Key: int64(1), Props: map[string]any{"description": "Hummus"}},
		},
		Edges: []EdgeCreate{
			{Type: "BELONGS_TO", From: foodRef(1), To: NodeRef{Label: "FoodCategory", KeyField: "description", Key: "Legumes"}},
			{Type: "HAS_NUTRIENT", From: foodRef(1), To: nutrientRef(1), Props: map[string]any{"amount": 7.5}},
			{Type: "HAS_NUTRIENT", From: foodRef(1), To: nutrientRef(2), Unique: true},
		},
	}

	stmts := buildStatements(b)
	require.Len(t, stmts, 5)

	merge := stmts[0]
	assert.Equal(t, 2, merge.rows)
	assert.Contains(t, merge.cypher, "MERGE (n:FoodCategory {description: row.key})")
	assert.Contains(t, merge.cypher, "ON CREATE SET n += row.onCreate")
	assert.False(t, merge.countsMatches)
	rows := merge.params["rows"].([]map[string]any)
	assert.Equal(t, "Legumes", rows[0]["key"])
	assert.Equal(t, map[string]any{"code": "1600"}, rows[0]["onCreate"])

	assert.Contains(t, stmts[1].cypher, "CREATE (n:Food {fdcId: row.key})")

	belongs := stmts[2]
	assert.True(t, belongs.countsMatches)
	assert.Contains(t, belongs.cypher, "MATCH (b:FoodCategory {description: row.to})")
	assert.Contains(t, belongs.cypher, "CREATE (a)-[r:BELONGS_TO]->(b)")

	assert.Contains(t, stmts[3].cypher, "CREATE (a)-[r:HAS_NUTRIENT]->(b)")
	assert.Equal(t, 1, stmts[3].rows)
	assert.Contains(t, stmts[4].cypher, "MERGE (a)-[r:HAS_NUTRIENT]->(b)")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(stmts[4].cypher), "RETURN count(r) AS matched"))
}

func TestBuildStatementsEmpty(t *testing.T) {
	assert.Empty(t, buildStatements(Batch{}))
}

func TestAverageQuery(t *testing.T) {
	q, params, err := averageQuery(EdgeAverage{Type: "HAS_NUTRIENT", Property: "amount", To: nutrientRef(1003)})
	require.NoError(t, err)
	assert.Equal(t, "MATCH ()-[r:HAS_NUTRIENT]->(b:Nutrient {id: $key}) RETURN avg(r.amount) AS avg, count(r.amount) AS n", q)
	assert.Equal(t, int64(1003), params["key"])

	q, params, err = averageQuery(EdgeAverage{Type: "HAS_NUTRIENT", Property: "amount"})
	require.NoError(t, err)
	assert.NotContains(t, q, "$key")
	assert.Nil(t, params)

	_, _, err = averageQuery(EdgeAverage{Type: "HAS NUTRIENT", Property: "amount"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestToParamWritesDates(t *testing.T) {
	d := time.Date(2019, time.April, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, dbtype.Date(d), toParam(d))
	assert.Equal(t, dbtype.Date(d), toParam(&d))
	assert.Equal(t, int64(3), toParam(3))
	assert.Equal(t, "x", toParam("x"))

	props := toParams(map[string]any{"publicationDate": d, "amount": 1.5})
	assert.IsType(t, dbtype.Date{}, props["publicationDate"])
	assert.Equal(t, 1.5, props["amount"])
}
