package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
	"github.com/yungbote/fooddata-graph/internal/pkg/pointers"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

func TestResetClearsGraphAndLegacySchema(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	require.NoError(t, store.CreateConstraint(ctx, graph.Constraint{
		Name:     nutrition.LegacyConstraintCategoryID,
		Label:    nutrition.LabelFoodCategory,
		Property: "id",
	}))
	_, err := newImporter(t, store, DefaultOptions()).Run(ctx, reader(t, scenarioDoc))
	require.NoError(t, err)

	res, err := Reset(ctx, store, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.EdgesDeleted)
	assert.Equal(t, int64(7), res.NodesDeleted)
	assert.Equal(t, nutrition.Counts{}, counts(t, store))

	cons, idx := store.SchemaNames()
	assert.Equal(t, []string{
		nutrition.ConstraintFoodCategoryDescription,
		nutrition.ConstraintFoodFdcID,
		nutrition.ConstraintNutrientID,
	}, cons)
	assert.Equal(t, []string{nutrition.IndexFoodDescription, nutrition.IndexNutrientName}, idx)

	res, err = Reset(ctx, store, nil)
	require.NoError(t, err)
	assert.Zero(t, res.EdgesDeleted)
	assert.Zero(t, res.NodesDeleted)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	require.NoError(t, EnsureSchema(ctx, store, nil))
	require.NoError(t, EnsureSchema(ctx, store, logger.NewNop()))
	cons, idx := store.SchemaNames()
	assert.Len(t, cons, len(Constraints()))
	assert.Len(t, idx, len(Indexes()))
}

func TestVerifyGate(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	_, err := newImporter(t, store, DefaultOptions()).Run(ctx, reader(t, scenarioDoc))
	require.NoError(t, err)

	c, err := Verify(ctx, store, Expectations{Foods: pointers.Int64(3), HasNutrient: pointers.Int64(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Nutrients)

	c, err = Verify(ctx, store, Expectations{Foods: pointers.Int64(3), Categories: pointers.Int64(5)})
	require.Error(t, err)
	assert.Equal(t, importerr.VerificationMismatch, importerr.CodeOf(err))
	assert.Contains(t, err.Error(), "categories want=5 got=2")
	require.NotNil(t, c)
	assert.Equal(t, int64(3), c.Foods)
}

func TestNutrientAverageWithoutEdges(t *testing.T) {
	store := graph.NewMemoryStore()
	avg, n, err := NutrientAverage(context.Background(), store, 99)
	require.NoError(t, err)
	assert.Nil(t, avg)
	assert.Zero(t, n)
}

func TestWatermarkAdvancesOnlyWhenContiguous(t *testing.T) {
	w := newWatermark(2)
	mark, moved := w.commit(4)
	assert.False(t, moved)
	assert.Equal(t, 2, mark)

	mark, moved = w.commit(3)
	assert.True(t, moved)
	assert.Equal(t, 4, mark)

	mark, moved = w.commit(5)
	assert.True(t, moved)
	assert.Equal(t, 5, mark)
}

func TestCheckpointKeyTracksBatchGeometry(t *testing.T) {
	a := checkpointKey("src", Options{FoodBatchSize: 100, EdgeBatchSize: 50})
	assert.Equal(t, "src|food=100|edge=50|merge=false", a)
	assert.NotEqual(t, a, checkpointKey("src", Options{FoodBatchSize: 100, EdgeBatchSize: 25}))
	assert.NotEqual(t, a, checkpointKey("src", Options{FoodBatchSize: 100, EdgeBatchSize: 50, Merge: true}))
}

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	cp := NewMemoryCheckpoints()
	require.NoError(t, cp.Save(ctx, "a", PhaseFoods, 3))
	require.NoError(t, cp.Save(ctx, "b", PhaseFoods, 1))

	got, err := cp.Load(ctx, "a", PhaseFoods)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	got, _ = cp.Load(ctx, "a", PhaseEdges)
	assert.Zero(t, got)

	require.NoError(t, cp.Clear(ctx, "a"))
	got, _ = cp.Load(ctx, "a", PhaseFoods)
	assert.Zero(t, got)
	got, _ = cp.Load(ctx, "b", PhaseFoods)
	assert.Equal(t, 1, got)

	require.NoError(t, cp.ClearAll(ctx))
	got, _ = cp.Load(ctx, "b", PhaseFoods)
	assert.Zero(t, got)
}

func TestKeyedMutexTolerantOfDuplicates(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.lockAll([]string{"b", "a", "b"})
	unlock()
	unlock = k.lockAll([]string{"a"})
	unlock()
}
