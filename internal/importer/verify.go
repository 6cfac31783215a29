package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

// Expectations turns Verify into a gate. Nil fields are not checked.
type Expectations struct {
	Foods       *int64
	Categories  *int64
	Nutrients   *int64
	BelongsTo   *int64
	HasNutrient *int64
}

func (e Expectations) empty() bool {
	return e.Foods == nil && e.Categories == nil && e.Nutrients == nil && e.BelongsTo == nil && e.HasNutrient == nil
}

// Verify reads node and edge counts. With expectations set, any difference
// is a VerificationMismatch; the counts are returned either way.
func Verify(ctx context.Context, store graph.Store, expect Expectations) (*nutrition.Counts, error) {
	var c nutrition.Counts
	var err error
	for _, q := range []struct {
		dst   *int64
		label string
		rel   string
	}{
		{&c.Foods, nutrition.LabelFood, ""},
		{&c.Categories, nutrition.LabelFoodCategory, ""},
		{&c.Nutrients, nutrition.LabelNutrient, ""},
		{&c.BelongsTo, "", nutrition.RelBelongsTo},
		{&c.HasNutrient, "", nutrition.RelHasNutrient},
	} {
		if q.label != "" {
			*q.dst, err = store.CountNodes(ctx, q.label)
		} else {
			*q.dst, err = store.CountEdges(ctx, q.rel)
		}
		if err != nil {
			return nil, fmt.Errorf("verify count %s%s: %w", q.label, q.rel, err)
		}
	}

	if expect.empty() {
		return &c, nil
	}
	var diffs []string
	check := func(name string, want *int64, got int64) {
		if want != nil && *want != got {
			diffs = append(diffs, fmt.Sprintf("%s want=%d got=%d", name, *want, got))
		}
	}
	check("foods", expect.Foods, c.Foods)
	check("categories", expect.Categories, c.Categories)
	check("nutrients", expect.Nutrients, c.Nutrients)
	check("belongs_to", expect.BelongsTo, c.BelongsTo)
	check("has_nutrient", expect.HasNutrient, c.HasNutrient)
	if len(diffs) > 0 {
		return &c, importerr.New(importerr.VerificationMismatch, "verify", strings.Join(diffs, ", "))
	}
	return &c, nil
}

// NutrientAverage is the mean amount over HAS_NUTRIENT edges into one
// nutrient. Edges without an amount are excluded; avg is nil when none have one.
func NutrientAverage(ctx context.Context, store graph.Store, nutrientID int64) (avg *float64, n int64, err error) {
	return store.Average(ctx, graph.EdgeAverage{
		Type:     nutrition.RelHasNutrient,
		Property: "amount",
		To:       nutrientRef(nutrientID),
	})
}
