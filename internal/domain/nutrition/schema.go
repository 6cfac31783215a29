package nutrition

// Schema object names. The store enforces identity through these.
const (
	ConstraintFoodFdcID               = "food_fdc_id"
	ConstraintNutrientID              = "nutrient_id"
	ConstraintFoodCategoryDescription = "food_category_description"

	IndexFoodDescription = "food_description"
	IndexNutrientName    = "nutrient_name"

	// LegacyConstraintCategoryID keyed FoodCategory on an id the dataset
	// does not reliably supply. Reset drops it if present.
	LegacyConstraintCategoryID = "category_id"
)
