package nutrition

// Property maps omit absent optional values so the store never holds a
// placeholder for them.

func (f Food) Properties() map[string]any {
	props := map[string]any{
		"fdcId":       f.FdcID,
		"description": f.Description,
		"foodClass":   f.FoodClass,
		"dataType":    f.DataType,
	}
	if f.NdbNumber != nil {
		props["ndbNumber"] = *f.NdbNumber
	}
	if f.PublicationDate != nil {
		props["publicationDate"] = *f.PublicationDate
	}
	return props
}

func (c CategoryKey) OnCreateProperties() map[string]any {
	props := map[string]any{}
	if c.Code != nil {
		props["code"] = *c.Code
	}
	return props
}

func (n Nutrient) Properties() map[string]any {
	props := map[string]any{
		"id":       n.ID,
		"name":     n.Name,
		"number":   n.Number,
		"unitName": n.UnitName,
	}
	if n.Rank != nil {
		props["rank"] = *n.Rank
	}
	return props
}

func (e NutrientEdge) Properties() map[string]any {
	props := map[string]any{
		"derivationCode":        e.DerivationCode,
		"derivationDescription": e.DerivationDescription,
	}
	putFloat(props, "amount", e.Amount)
	putFloat(props, "min", e.Min)
	putFloat(props, "max", e.Max)
	putFloat(props, "median", e.Median)
	if e.DataPoints != nil {
		props["dataPoints"] = *e.DataPoints
	}
	return props
}

func putFloat(props map[string]any, key string, v *float64) {
	if v != nil {
		props[key] = *v
	}
}
