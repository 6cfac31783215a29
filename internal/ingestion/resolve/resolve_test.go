package resolve

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fooddata-graph/internal/ingestion/source"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

func raw(t *testing.T, doc string) source.RawFood {
	t.Helper()
	var r source.RawFood
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	r.Index = 7
	return r
}

func reasons(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Reason)
	}
	return out
}

func TestSameDescriptionSameKey(t *testing.T) {
	a, _, err := Resolve(raw(t, `{"fdcId": 1, "foodCategory": {"id": 16, "description": "Legumes"}}`))
	require.NoError(t, err)
	b, _, err := Resolve(raw(t, `{"fdcId": 2, "foodCategory": {"description": "Legumes"}}`))
	require.NoError(t, err)
	assert.Equal(t, a.Category.Description, b.Category.Description)

	c, _, err := Resolve(raw(t, `{"fdcId": 3, "foodCategory": {"description": "legumes "}}`))
	require.NoError(t, err)
	assert.NotEqual(t, a.Category.Description, c.Category.Description, "identity is exact")
}

func TestCategoryWithOnlyDescriptionResolves(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{"fdcId": 1, "foodCategory": {"description": "Legumes and Legume Products"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Legumes and Legume Products", rec.Category.Description)
	assert.Nil(t, rec.Category.Code)
	require.Len(t, issues, 1)
	assert.Equal(t, ReasonCategoryMissingID, issues[0].Reason)
	assert.Equal(t, importerr.SchemaDrift, issues[0].Code)
	assert.False(t, issues[0].Dropped)
	assert.Equal(t, 7, issues[0].Record)
}

func TestCategoryCodeCaptured(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{"fdcId": 1, "foodCategory": {"id": 11, "code": 1100, "description": "Vegetables"}}`))
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.NotNil(t, rec.Category.Code)
	assert.Equal(t, "1100", *rec.Category.Code)
}

func TestCategoryFallbacks(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{"fdcId": 1, "wweiaFoodCategory": {"wweiaFoodCategoryCode": 3002, "wweiaFoodCategoryDescription": "Meat mixed dishes"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Meat mixed dishes", rec.Category.Description)
	assert.Equal(t, "3002", *rec.Category.Code)
	assert.Equal(t, []string{ReasonCategoryFallbackWweia}, reasons(issues))

	rec, issues, err = Resolve(raw(t, `{"fdcId": 2, "foodCategory": {"description": "  "}, "brandedFoodCategory": "Popcorn, Peanuts, Seeds & Related Snacks"}`))
	require.NoError(t, err)
	assert.Equal(t, "Popcorn, Peanuts, Seeds & Related Snacks", rec.Category.Description)
	assert.Contains(t, reasons(issues), ReasonCategoryFallbackBrand)
}

func TestMissingCategoryRejectsRecord(t *testing.T) {
	for name, doc := range map[string]string{
		"absent":     `{"fdcId": 1}`,
		"null":       `{"fdcId": 1, "foodCategory": null}`,
		"id only":    `{"fdcId": 1, "foodCategory": {"id": 4}}`,
		"blank text": `{"fdcId": 1, "foodCategory": {"description": "\t"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, issues, err := Resolve(raw(t, doc))
			require.Error(t, err)
			assert.Equal(t, importerr.SchemaDrift, importerr.CodeOf(err))
			assert.False(t, importerr.IsFatal(importerr.CodeOf(err)))
			require.NotEmpty(t, issues)
			last := issues[len(issues)-1]
			assert.Equal(t, ReasonMissingCategory, last.Reason)
			assert.True(t, last.Dropped)
		})
	}
}

func TestMissingFdcIDRejectsRecord(t *testing.T) {
	_, issues, err := Resolve(raw(t, `{"description": "x", "foodCategory": {"description": "Legumes"}}`))
	require.Error(t, err)
	assert.Equal(t, importerr.IncompleteFoodRecord, importerr.CodeOf(err))
	require.Len(t, issues, 1)
	assert.True(t, issues[0].Dropped)
}

func TestMeasurementWithoutNutrientIDIsDroppedAlone(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{
		"fdcId": 5,
		"foodCategory": {"id": 1, "description": "Legumes"},
		"foodNutrients": [
			{"nutrient": {"name": "Mystery"}, "amount": 1},
			{"amount": 2},
			{"nutrient": {"id": 1003, "name": "Protein", "unitName": "g", "number": "203"}, "amount": 7.5}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, rec.Edges, 1)
	assert.Equal(t, int64(1003), rec.Edges[0].Nutrient.ID)

	dropped := 0
	for _, is := range issues {
		if is.Dropped {
			dropped++
			assert.Equal(t, importerr.IncompleteNutrientMeasurement, is.Code)
			assert.Equal(t, int64(5), is.FdcID)
		}
	}
	assert.Equal(t, 2, dropped)
}

func TestMissingStatisticsStayAbsent(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{
		"fdcId": 5,
		"foodCategory": {"id": 1, "description": "Legumes"},
		"foodNutrients": [
			{"nutrient": {"id": 1, "name": "Protein"}, "amount": "7.5", "min": null, "median": ""},
			{"nutrient": {"id": 2, "name": "Fat"}, "foodNutrientDerivation": {"code": "A", "description": "Analytical"}}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, rec.Edges, 2)

	first := rec.Edges[0]
	require.NotNil(t, first.Amount)
	assert.Equal(t, 7.5, *first.Amount)
	assert.Nil(t, first.Min)
	assert.Nil(t, first.Max)
	assert.Nil(t, first.Median)
	assert.NotContains(t, first.Properties(), "min")
	assert.NotContains(t, first.Properties(), "median")

	second := rec.Edges[1]
	assert.Nil(t, second.Amount)
	assert.NotContains(t, second.Properties(), "amount")
	assert.Equal(t, "A", second.DerivationCode)
	assert.Equal(t, []string{ReasonMissingAmount}, reasons(issues))
}

func TestInvalidNumberIsNotice(t *testing.T) {
	rec, issues, err := Resolve(raw(t, `{
		"fdcId": 5,
		"foodCategory": {"id": 1, "description": "Legumes"},
		"foodNutrients": [{"nutrient": {"id": 1}, "amount": 3, "max": "n/a"}]
	}`))
	require.NoError(t, err)
	assert.Nil(t, rec.Edges[0].Max)
	assert.Equal(t, []string{ReasonInvalidNumber}, reasons(issues))
}

func TestDuplicateNutrientInFoodKept(t *testing.T) {
	rec, _, err := Resolve(raw(t, `{
		"fdcId": 5,
		"foodCategory": {"id": 1, "description": "Legumes"},
		"foodNutrients": [{"nutrient": {"id": 1}, "amount": 3}, {"nutrient": {"id": 1}, "amount": 4}]
	}`))
	require.NoError(t, err)
	assert.Len(t, rec.Edges, 2)
}

func TestPublicationDate(t *testing.T) {
	rec, _, err := Resolve(raw(t, `{"fdcId": 1, "publicationDate": "4/1/2019", "foodCategory": {"id": 1, "description": "Legumes"}}`))
	require.NoError(t, err)
	require.NotNil(t, rec.Food.PublicationDate)
	assert.Equal(t, time.Date(2019, time.April, 1, 0, 0, 0, 0, time.UTC), *rec.Food.PublicationDate)

	rec, _, err = Resolve(raw(t, `{"fdcId": 1, "publicationDate": "2020-12-16", "foodCategory": {"id": 1, "description": "Legumes"}}`))
	require.NoError(t, err)
	assert.Equal(t, 16, rec.Food.PublicationDate.Day())

	rec, issues, err := Resolve(raw(t, `{"fdcId": 1, "publicationDate": "soon", "foodCategory": {"id": 1, "description": "Legumes"}}`))
	require.NoError(t, err)
	assert.Nil(t, rec.Food.PublicationDate)
	assert.Equal(t, []string{ReasonBadPublicationDate}, reasons(issues))
}

func TestFoodAttributes(t *testing.T) {
	rec, _, err := Resolve(raw(t, `{
		"fdcId": "321358", "description": "Hummus, commercial", "foodClass": "FinalFood",
		"dataType": "Foundation", "ndbNumber": 16158, "foodCategory": {"id": 1, "description": "Legumes"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, int64(321358), rec.Food.FdcID)
	assert.Equal(t, "Hummus, commercial", rec.Food.Description)
	require.NotNil(t, rec.Food.NdbNumber)
	assert.Equal(t, "16158", *rec.Food.NdbNumber)
}
