// Package search turns a structured equipment search request into goqu
// conditions. Field names and operators are checked against a whitelist, so no
// request value ever reaches SQL as an identifier.
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// Operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpContains = "contains"
	OpPrefix   = "prefix"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpEmpty    = "empty"
)

const (
	MatchAll = "all"
	MatchAny = "any"
)

const (
	DefaultLimit     = 100
	MaxLimit         = 1000
	DefaultThreshold = 0.3
	DefaultSort      = models.FieldSerialNumber
)

// ErrInvalidRequest is wrapped by every Normalize failure.
var ErrInvalidRequest = errors.New("invalid search request")

type kind int

const (
	kindText kind = iota
	kindInt
	kindDate
	kindTime
)

var fieldKinds = map[string]kind{
	models.FieldSerialNumber:          kindText,
	models.FieldEquipmentType:         kindText,
	models.FieldManufacturer:          kindText,
	models.FieldModel:                 kindText,
	models.FieldLocation:              kindText,
	models.FieldStatus:                kindText,
	models.FieldCustomerID:            kindText,
	models.FieldCustomerName:          kindText,
	models.FieldProjectID:             kindText,
	models.FieldManufacturerProjectID: kindText,
	models.FieldFunctionalPosition:    kindText,
	models.FieldParentSerial:          kindText,
	models.FieldNotes:                 kindText,
	models.FieldYearManufactured:      kindInt,
	models.FieldInstallDate:           kindDate,
}

// sortOnly fields may be sorted on but not filtered.
var sortOnly = map[string]kind{
	"id":         kindInt,
	"created_at": kindTime,
	"updated_at": kindTime,
}

// QuickFields are matched by the free-text Query.
var QuickFields = []string{
	models.FieldSerialNumber,
	models.FieldEquipmentType,
	models.FieldManufacturer,
	models.FieldModel,
	models.FieldLocation,
	models.FieldCustomerID,
	models.FieldCustomerName,
	models.FieldProjectID,
	models.FieldManufacturerProjectID,
	models.FieldFunctionalPosition,
	models.FieldParentSerial,
}

// FuzzyFields are compared by trigram similarity when Fuzzy.Fields is empty.
var FuzzyFields = []string{
	models.FieldSerialNumber,
	models.FieldEquipmentType,
	models.FieldManufacturer,
	models.FieldModel,
	models.FieldLocation,
	models.FieldCustomerName,
	models.FieldCustomerID,
	models.FieldProjectID,
}

// Criterion is one (field, op, value) condition.
type Criterion struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Fuzzy requests approximate matching of Text, keeping rows whose best
// similarity over Fields is at least Threshold. A nil Threshold takes the
// server default; an explicit 0 keeps every row, ranked by similarity.
type Fuzzy struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

// MinScore is the similarity a row needs, or DefaultThreshold when unset.
func (f *Fuzzy) MinScore() float64 {
	if f.Threshold == nil {
		return DefaultThreshold
	}
	return *f.Threshold
}

// Request is a structured search. The zero Request matches every active record.
type Request struct {
	Criteria       []Criterion `json:"criteria,omitempty"`
	Match          string      `json:"match,omitempty"`
	Query          string      `json:"query,omitempty"`
	Fuzzy          *Fuzzy      `json:"fuzzy,omitempty"`
	Sort           string      `json:"sort,omitempty"`
	Desc           bool        `json:"desc,omitempty"`
	Limit          int         `json:"limit,omitempty"`
	Offset         int         `json:"offset,omitempty"`
	IncludeDeleted bool        `json:"include_deleted,omitempty"`
}

// IsFuzzy reports whether the request ranks by similarity.
func (r Request) IsFuzzy() bool {
	return r.Fuzzy != nil && strings.TrimSpace(r.Fuzzy.Text) != ""
}

// Normalize fills defaults and rejects unknown fields, operators and values
// that do not parse for the field's type. defaultThreshold applies when a fuzzy
// request leaves Threshold unset.
func (r Request) Normalize(defaultThreshold float64) (Request, error) {
	r.Query = strings.TrimSpace(r.Query)
	switch strings.ToLower(r.Match) {
	case "", MatchAll:
		r.Match = MatchAll
	case MatchAny:
		r.Match = MatchAny
	default:
		return r, fmt.Errorf("%w: match must be %q or %q", ErrInvalidRequest, MatchAll, MatchAny)
	}

	criteria := make([]Criterion, 0, len(r.Criteria))
	for i, c := range r.Criteria {
		c.Field = strings.TrimSpace(c.Field)
		c.Op = strings.ToLower(strings.TrimSpace(c.Op))
		if c.Op == "" {
			c.Op = OpContains
		}
		if err := checkCriterion(c); err != nil {
			return r, fmt.Errorf("%w: criterion %d: %v", ErrInvalidRequest, i+1, err)
		}
		criteria = append(criteria, c)
	}
	r.Criteria = criteria

	if r.Fuzzy != nil {
		f := *r.Fuzzy
		f.Text = strings.TrimSpace(f.Text)
		t := defaultThreshold
		if f.Threshold != nil {
			t = *f.Threshold
		}
		if t < 0 || t > 1 {
			return r, fmt.Errorf("%w: fuzzy threshold must be between 0 and 1", ErrInvalidRequest)
		}
		if len(f.Fields) == 0 {
			f.Fields = FuzzyFields
		}
		for _, name := range f.Fields {
			if k, ok := fieldKinds[name]; !ok || k != kindText {
				return r, fmt.Errorf("%w: fuzzy field %q is not a text field", ErrInvalidRequest, name)
			}
		}
		f.Threshold = &t
		r.Fuzzy = &f
	}

	if r.Sort == "" {
		r.Sort = DefaultSort
	}
	if _, ok := fieldKinds[r.Sort]; !ok {
		if _, ok := sortOnly[r.Sort]; !ok {
			return r, fmt.Errorf("%w: cannot sort by %q", ErrInvalidRequest, r.Sort)
		}
	}

	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	return r, nil
}

func checkCriterion(c Criterion) error {
	k, ok := fieldKinds[c.Field]
	if !ok {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	switch c.Op {
	case OpEmpty:
		return nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
	case OpContains, OpPrefix:
		if k != kindText {
			return fmt.Errorf("operator %q needs a text field, %q is not", c.Op, c.Field)
		}
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	_, err := typedValue(k, c.Value)
	return err
}

func typedValue(k kind, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch k {
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", raw)
		}
		return n, nil
	case kindDate:
		d, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a YYYY-MM-DD date", raw)
		}
		return d, nil
	}
	return raw, nil
}

// Where returns the filter conditions of a normalized request, without ordering
// or paging, so it can serve both the page query and the total count.
func Where(r Request) []exp.Expression {
	var conds []exp.Expression
	if !r.IncludeDeleted {
		conds = append(conds, goqu.C("deleted_at").IsNull())
	}

	if len(r.Criteria) > 0 {
		parts := make([]exp.Expression, 0, len(r.Criteria))
		for _, c := range r.Criteria {
			parts = append(parts, condition(c))
		}
		if r.Match == MatchAny {
			conds = append(conds, goqu.Or(parts...))
		} else {
			conds = append(conds, goqu.And(parts...))
		}
	}

	if r.Query != "" {
		pattern := "%" + escapeLike(r.Query) + "%"
		parts := make([]exp.Expression, 0, len(QuickFields))
		for _, f := range QuickFields {
			parts = append(parts, goqu.C(f).ILike(pattern))
		}
		conds = append(conds, goqu.Or(parts...))
	}

	if r.IsFuzzy() {
		conds = append(conds, Score(r).Gte(r.Fuzzy.MinScore()))
	}
	return conds
}

func condition(c Criterion) exp.Expression {
	k := fieldKinds[c.Field]
	col := goqu.C(c.Field)

	if c.Op == OpEmpty {
		if k == kindText {
			return col.Eq("")
		}
		return col.IsNull()
	}

	v, _ := typedValue(k, c.Value)
	if k == kindText {
		s := strings.ToLower(v.(string))
		lower := goqu.Func("LOWER", col)
		switch c.Op {
		case OpEq:
			return lower.Eq(s)
		case OpNe:
			return lower.Neq(s)
		case OpContains:
			return col.ILike("%" + escapeLike(s) + "%")
		case OpPrefix:
			return col.ILike(escapeLike(s) + "%")
		case OpGt:
			return lower.Gt(s)
		case OpGte:
			return lower.Gte(s)
		case OpLt:
			return lower.Lt(s)
		case OpLte:
			return lower.Lte(s)
		}
	}

	switch c.Op {
	case OpNe:
		return col.Neq(v)
	case OpGt:
		return col.Gt(v)
	case OpGte:
		return col.Gte(v)
	case OpLt:
		return col.Lt(v)
	case OpLte:
		return col.Lte(v)
	}
	return col.Eq(v)
}

// Score is GREATEST(similarity(field, text), ...) over the fuzzy fields.
// It requires the pg_trgm extension.
func Score(r Request) exp.SQLFunctionExpression {
	args := make([]interface{}, 0, len(r.Fuzzy.Fields))
	for _, f := range r.Fuzzy.Fields {
		args = append(args, goqu.Func("similarity", goqu.C(f), r.Fuzzy.Text))
	}
	return goqu.Func("GREATEST", args...)
}

// Order returns the ORDER BY of a normalized request: relevance first for fuzzy
// requests, then the sort field, then id so pages are stable.
func Order(r Request) []exp.OrderedExpression {
	var order []exp.OrderedExpression
	if r.IsFuzzy() {
		order = append(order, Score(r).Desc())
	}
	if r.Desc {
		order = append(order, goqu.C(r.Sort).Desc())
	} else {
		order = append(order, goqu.C(r.Sort).Asc())
	}
	if r.Sort != "id" {
		order = append(order, goqu.C("id").Asc())
	}
	return order
}

// Apply adds filter, order and paging of r to ds.
func Apply(ds *goqu.SelectDataset, r Request) *goqu.SelectDataset {
	return ds.Where(Where(r)...).
		Order(Order(r)...).
		Limit(uint(r.Limit)).
		Offset(uint(r.Offset))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
