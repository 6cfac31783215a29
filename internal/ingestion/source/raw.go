package source

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/yungbote/fooddata-graph/internal/pkg/pointers"
)

// RawFood mirrors one element of the dataset's food array. Category fields
// are kept raw because their shape differs between dataset releases.
type RawFood struct {
	FdcID               FlexInt           `json:"fdcId"`
	Description         string            `json:"description"`
	FoodClass           string            `json:"foodClass"`
	DataType            string            `json:"dataType"`
	NdbNumber           FlexString        `json:"ndbNumber"`
	PublicationDate     string            `json:"publicationDate"`
	FoodCategory        json.RawMessage   `json:"foodCategory"`
	WweiaFoodCategory   json.RawMessage   `json:"wweiaFoodCategory"`
	BrandedFoodCategory json.RawMessage   `json:"brandedFoodCategory"`
	FoodNutrients       []RawFoodNutrient `json:"foodNutrients"`

	// Index is the 1-based position of the record in the source array.
	Index int `json:"-"`
}

type RawFoodNutrient struct {
	ID         FlexInt        `json:"id"`
	Type       string         `json:"type"`
	Nutrient   *RawNutrient   `json:"nutrient"`
	Derivation *RawDerivation `json:"foodNutrientDerivation"`
	Amount     FlexFloat      `json:"amount"`
	DataPoints FlexInt        `json:"dataPoints"`
	Min        FlexFloat      `json:"min"`
	Max        FlexFloat      `json:"max"`
	Median     FlexFloat      `json:"median"`
}

type RawNutrient struct {
	ID       FlexInt    `json:"id"`
	Number   FlexString `json:"number"`
	Name     string     `json:"name"`
	Rank     FlexInt    `json:"rank"`
	UnitName string     `json:"unitName"`
}

type RawDerivation struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// FlexFloat accepts a JSON number or a numeric string. null, "" and absent
// leave it unset; anything else unparseable marks it Invalid.
type FlexFloat struct {
	Value   float64
	Set     bool
	Invalid bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	*f = FlexFloat{}
	raw, ok := scalarText(b)
	if !ok {
		if !isBlank(b) {
			f.Invalid = true
		}
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.Invalid = true
		return nil
	}
	f.Value, f.Set = v, true
	return nil
}

// Ptr returns nil when the value is unset.
func (f FlexFloat) Ptr() *float64 {
	if !f.Set {
		return nil
	}
	return pointers.Float64(f.Value)
}

// FlexInt accepts an integral JSON number (1 or 1.0) or a numeric string.
type FlexInt struct {
	Value   int64
	Set     bool
	Invalid bool
}

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	*n = FlexInt{}
	raw, ok := scalarText(b)
	if !ok {
		if !isBlank(b) {
			n.Invalid = true
		}
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		n.Value, n.Set = v, true
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v != math.Trunc(v) || math.Abs(v) > math.MaxInt64 {
		n.Invalid = true
		return nil
	}
	n.Value, n.Set = int64(v), true
	return nil
}

func (n FlexInt) Ptr() *int64 {
	if !n.Set {
		return nil
	}
	return pointers.Int64(n.Value)
}

// FlexString accepts a JSON string or number and keeps its text.
type FlexString struct {
	Value string
	Set   bool
}

func (s *FlexString) UnmarshalJSON(b []byte) error {
	*s = FlexString{}
	raw, ok := scalarText(b)
	if !ok {
		return nil
	}
	s.Value, s.Set = raw, true
	return nil
}

func (s FlexString) Ptr() *string {
	if !s.Set {
		return nil
	}
	return pointers.String(s.Value)
}

// scalarText returns the trimmed text of a JSON string or number literal.
func scalarText(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if isBlank(b) {
		return "", false
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(b), true
	default:
		return "", false
	}
}

// isBlank reports null, an empty literal, or a whitespace-only string.
func isBlank(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return true
	}
	var s string
	return b[0] == '"' && json.Unmarshal(b, &s) == nil && strings.TrimSpace(s) == ""
}
