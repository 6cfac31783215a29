// Package resolve turns raw dataset records into the entities and
// measurements the importer writes.
package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/fooddata-graph/internal/domain/nutrition"
	"github.com/yungbote/fooddata-graph/internal/ingestion/source"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

// Reasons attached to issues. They key the per-reason counters in the run report.
const (
	ReasonMissingFdcID          = "missing_fdc_id"
	ReasonMissingCategory       = "missing_category"
	ReasonCategoryMissingID     = "category_missing_id"
	ReasonMissingNutrientID     = "missing_nutrient_id"
	ReasonMissingAmount         = "missing_amount"
	ReasonInvalidNumber         = "invalid_number"
	ReasonBadPublicationDate    = "bad_publication_date"
	ReasonCategoryFallbackWweia = "category_from_wweia"
	ReasonCategoryFallbackBrand = "category_from_branded"
)

// Issue is a record-local problem. Dropped issues removed data from the
// import (a measurement, or the whole record when Resolve fails); the rest
// are notices.
type Issue struct {
	Code    importerr.Code
	Reason  string
	Record  int
	FdcID   int64
	Detail  string
	Dropped bool
}

var dateLayouts = []string{"1/2/2006", "2006-01-02"}

// Resolve maps one raw record. A non-nil error means the whole record is
// rejected; its code is never fatal to a run.
func Resolve(raw source.RawFood) (nutrition.Record, []Issue, error) {
	var issues []Issue
	note := func(code importerr.Code, reason, detail string, dropped bool) {
		issues = append(issues, Issue{
			Code:    code,
			Reason:  reason,
			Record:  raw.Index,
			FdcID:   raw.FdcID.Value,
			Detail:  detail,
			Dropped: dropped,
		})
	}

	if !raw.FdcID.Set {
		note(importerr.IncompleteFoodRecord, ReasonMissingFdcID, "food has no usable fdcId", true)
		return nutrition.Record{}, issues, reject(importerr.IncompleteFoodRecord, raw.Index, "food has no usable fdcId")
	}

	cat, catIssues, ok := resolveCategory(raw)
	for _, ci := range catIssues {
		note(importerr.SchemaDrift, ci.reason, ci.detail, ci.reason == ReasonMissingCategory)
	}
	if !ok {
		return nutrition.Record{}, issues, reject(importerr.SchemaDrift, raw.Index,
			fmt.Sprintf("food %d has no category description", raw.FdcID.Value))
	}

	food := nutrition.Food{
		FdcID:       raw.FdcID.Value,
		Description: raw.Description,
		FoodClass:   raw.FoodClass,
		DataType:    raw.DataType,
		NdbNumber:   raw.NdbNumber.Ptr(),
	}
	if s := strings.TrimSpace(raw.PublicationDate); s != "" {
		if d, err := parseDate(s); err == nil {
			food.PublicationDate = &d
		} else {
			note(importerr.SchemaDrift, ReasonBadPublicationDate, fmt.Sprintf("publicationDate %q", s), false)
		}
	}

	edges := make([]nutrition.NutrientEdge, 0, len(raw.FoodNutrients))
	for i, fn := range raw.FoodNutrients {
		if fn.Nutrient == nil || !fn.Nutrient.ID.Set {
			note(importerr.IncompleteNutrientMeasurement, ReasonMissingNutrientID,
				fmt.Sprintf("measurement %d has no nutrient id", i+1), true)
			continue
		}
		n := fn.Nutrient
		edge := nutrition.NutrientEdge{
			Nutrient: nutrition.Nutrient{
				ID:       n.ID.Value,
				Name:     n.Name,
				Number:   n.Number.Value,
				UnitName: n.UnitName,
				Rank:     n.Rank.Ptr(),
			},
			Amount:     fn.Amount.Ptr(),
			DataPoints: fn.DataPoints.Ptr(),
			Min:        fn.Min.Ptr(),
			Max:        fn.Max.Ptr(),
			Median:     fn.Median.Ptr(),
		}
		if fn.Derivation != nil {
			edge.DerivationCode = fn.Derivation.Code
			edge.DerivationDescription = fn.Derivation.Description
		}
		if edge.Amount == nil {
			note(importerr.IncompleteNutrientMeasurement, ReasonMissingAmount,
				fmt.Sprintf("nutrient %d has no amount", n.ID.Value), false)
		}
		for _, f := range []struct {
			name    string
			invalid bool
		}{
			{"amount", fn.Amount.Invalid},
			{"min", fn.Min.Invalid},
			{"max", fn.Max.Invalid},
			{"median", fn.Median.Invalid},
			{"dataPoints", fn.DataPoints.Invalid},
			{"rank", n.Rank.Invalid},
		} {
			if f.invalid {
				note(importerr.SchemaDrift, ReasonInvalidNumber,
					fmt.Sprintf("nutrient %d: %s is not a number", n.ID.Value, f.name), false)
			}
		}
		edges = append(edges, edge)
	}

	return nutrition.Record{Food: food, Category: cat, Edges: edges}, issues, nil
}

func reject(code importerr.Code, record int, msg string) error {
	e := importerr.New(code, "resolve_record", msg)
	e.Record = record
	return e
}

type categoryIssue struct {
	reason string
	detail string
}

type foodCategory struct {
	ID          json.RawMessage   `json:"id"`
	Code        source.FlexString `json:"code"`
	Description *string           `json:"description"`
}

type wweiaCategory struct {
	Code        source.FlexString `json:"wweiaFoodCategoryCode"`
	Description *string           `json:"wweiaFoodCategoryDescription"`
}

// resolveCategory picks the category identity. The description is the
// identity in every dataset shape; an id, when present, is ignored.
func resolveCategory(raw source.RawFood) (nutrition.CategoryKey, []categoryIssue, bool) {
	var issues []categoryIssue

	if present(raw.FoodCategory) {
		var desc string
		var code *string
		switch bytes.TrimSpace(raw.FoodCategory)[0] {
		case '{':
			var fc foodCategory
			if err := json.Unmarshal(raw.FoodCategory, &fc); err == nil {
				if fc.Description != nil {
					desc = *fc.Description
				}
				code = fc.Code.Ptr()
				if !present(fc.ID) {
					issues = append(issues, categoryIssue{ReasonCategoryMissingID, "foodCategory has no id; keyed by description"})
				}
			}
		case '"':
			if err := json.Unmarshal(raw.FoodCategory, &desc); err != nil {
				desc = ""
			}
		}
		if usable(desc) {
			return nutrition.CategoryKey{Description: desc, Code: code}, issues, true
		}
	}

	if present(raw.WweiaFoodCategory) {
		var wc wweiaCategory
		if err := json.Unmarshal(raw.WweiaFoodCategory, &wc); err == nil && wc.Description != nil && usable(*wc.Description) {
			issues = append(issues, categoryIssue{ReasonCategoryFallbackWweia, "category taken from wweiaFoodCategory"})
			return nutrition.CategoryKey{Description: *wc.Description, Code: wc.Code.Ptr()}, issues, true
		}
	}

	if present(raw.BrandedFoodCategory) {
		var desc string
		if err := json.Unmarshal(raw.BrandedFoodCategory, &desc); err == nil && usable(desc) {
			issues = append(issues, categoryIssue{ReasonCategoryFallbackBrand, "category taken from brandedFoodCategory"})
			return nutrition.CategoryKey{Description: desc}, issues, true
		}
	}

	issues = append(issues, categoryIssue{ReasonMissingCategory, "no category description in any known field"})
	return nutrition.CategoryKey{}, issues, false
}

func present(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// usable rejects descriptions made only of whitespace. Others are kept
// verbatim since the description is matched exactly.
func usable(s string) bool { return strings.TrimSpace(s) != "" }

func parseDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
