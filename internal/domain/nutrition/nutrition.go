// Package nutrition holds the entities imported from a FoodData Central dataset.
package nutrition

import "time"

const (
	LabelFood         = "Food"
	LabelFoodCategory = "FoodCategory"
	LabelNutrient     = "Nutrient"

	RelBelongsTo   = "BELONGS_TO"
	RelHasNutrient = "HAS_NUTRIENT"

	KeyFoodFdcID           = "fdcId"
	KeyCategoryDescription = "description"
	KeyNutrientID          = "id"
)

// Food is one dataset record. FdcID is its identity.
type Food struct {
	FdcID           int64
	Description     string
	FoodClass       string
	DataType        string
	NdbNumber       *string
	PublicationDate *time.Time
}

// CategoryKey identifies a FoodCategory by its exact description.
// Code is only written when the category node is first created.
type CategoryKey struct {
	Description string
	Code        *string
}

// Nutrient is a nutrient definition. First-seen attributes are authoritative.
type Nutrient struct {
	ID       int64
	Name     string
	Number   string
	UnitName string
	Rank     *int64
}

// NutrientEdge is one measurement of a nutrient in a food.
// Nil pointers mean "no value" and are never written as zero.
type NutrientEdge struct {
	Nutrient              Nutrient
	Amount                *float64
	DataPoints            *int64
	DerivationCode        string
	DerivationDescription string
	Min                   *float64
	Max                   *float64
	Median                *float64
}

// Record is a fully resolved food with its category and measurements.
type Record struct {
	Food     Food
	Category CategoryKey
	Edges    []NutrientEdge
}

// Counts is the verifier readout.
type Counts struct {
	Foods       int64 `json:"foods" yaml:"foods"`
	Categories  int64 `json:"categories" yaml:"categories"`
	Nutrients   int64 `json:"nutrients" yaml:"nutrients"`
	BelongsTo   int64 `json:"belongs_to" yaml:"belongs_to"`
	HasNutrient int64 `json:"has_nutrient" yaml:"has_nutrient"`
}
