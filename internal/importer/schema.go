package importer

import (
	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
)

var constraints = []graph.Constraint{
	{Name: nutrition.ConstraintFoodFdcID, Label: nutrition.LabelFood, Property: nutrition.KeyFoodFdcID},
	{Name: nutrition.ConstraintNutrientID, Label: nutrition.LabelNutrient, Property: nutrition.KeyNutrientID},
	{Name: nutrition.ConstraintFoodCategoryDescription, Label: nutrition.LabelFoodCategory, Property: nutrition.KeyCategoryDescription},
}

var indexes = []graph.Index{
	{Name: nutrition.IndexFoodDescription, Label: nutrition.LabelFood, Property: "description"},
	{Name: nutrition.IndexNutrientName, Label: nutrition.LabelNutrient, Property: "name"},
}

var legacyConstraints = []string{nutrition.LegacyConstraintCategoryID}

// Constraints returns the uniqueness constraints the importer relies on.
func Constraints() []graph.Constraint { return append([]graph.Constraint(nil), constraints...) }

func Indexes() []graph.Index { return append([]graph.Index(nil), indexes...) }

func foodRef(fdcID int64) graph.NodeRef {
	return graph.NodeRef{Label: nutrition.LabelFood, KeyField: nutrition.KeyFoodFdcID, Key: fdcID}
}

func nutrientRef(id int64) graph.NodeRef {
	return graph.NodeRef{Label: nutrition.LabelNutrient, KeyField: nutrition.KeyNutrientID, Key: id}
}

func categoryRef(description string) graph.NodeRef {
	return graph.NodeRef{Label: nutrition.LabelFoodCategory, KeyField: nutrition.KeyCategoryDescription, Key: description}
}

// NutrientRef addresses one Nutrient node by id.
func NutrientRef(id int64) graph.NodeRef { return nutrientRef(id) }
