// Package search parses FHIR search requests and builds the SQL query they
// run against a resource table.
package search

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/fhirindex/internal/searchparam"
)

// Operator is the comparison a filter applies: a value prefix (eq, gt, ...)
// or a parameter modifier (:contains, :not, ...).
type Operator string

const (
	OpEquals         Operator = "eq"
	OpNotEquals      Operator = "ne"
	OpGreaterThan    Operator = "gt"
	OpLessThan       Operator = "lt"
	OpGreaterOrEqual Operator = "ge"
	OpLessOrEqual    Operator = "le"
	OpStartsAfter    Operator = "sa"
	OpEndsBefore     Operator = "eb"
	OpApproximately  Operator = "ap"

	OpContains Operator = "contains"
	OpExact    Operator = "exact"
	OpText     Operator = "text"
	OpNot      Operator = "not"
	OpAbove    Operator = "above"
	OpBelow    Operator = "below"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not-in"
	OpMissing  Operator = "missing"
	OpPresent  Operator = "present"
)

var prefixes = map[string]Operator{
	"eq": OpEquals,
	"ne": OpNotEquals,
	"gt": OpGreaterThan,
	"lt": OpLessThan,
	"ge": OpGreaterOrEqual,
	"le": OpLessOrEqual,
	"sa": OpStartsAfter,
	"eb": OpEndsBefore,
	"ap": OpApproximately,
}

var modifiers = map[string]Operator{
	"contains": OpContains,
	"exact":    OpExact,
	"text":     OpText,
	"not":      OpNot,
	"above":    OpAbove,
	"below":    OpBelow,
	"in":       OpIn,
	"not-in":   OpNotIn,
	"missing":  OpMissing,
	"present":  OpPresent,
}

// Negated reports whether the operator excludes matching rows.
func (o Operator) Negated() bool {
	return o == OpNot || o == OpNotEquals || o == OpNotIn
}

// Filter is one parsed search criterion.
type Filter struct {
	Code     string
	Operator Operator
	Value    string
}

// Values splits a comma-separated value into its OR'ed alternatives.
// Escaped commas ("\,") are kept.
func (f Filter) Values() []string {
	var out []string
	var sb strings.Builder
	for i := 0; i < len(f.Value); i++ {
		c := f.Value[i]
		if c == '\\' && i+1 < len(f.Value) && f.Value[i+1] == ',' {
			sb.WriteByte(',')
			i++
			continue
		}
		if c == ',' {
			out = append(out, sb.String())
			sb.Reset()
			continue
		}
		sb.WriteByte(c)
	}
	return append(out, sb.String())
}

// Missing reports the requested presence for :missing / :present filters.
// It returns true when rows without a value are requested.
func (f Filter) Missing() bool {
	want := strings.EqualFold(f.Value, "true")
	if f.Operator == OpPresent {
		return !want
	}
	return want
}

// SortRule orders results by a search parameter.
type SortRule struct {
	Code       string
	Descending bool
}

// Request is a parsed search.
type Request struct {
	ResourceType string
	Filters      []Filter
	Sort         []SortRule
	Count        int
	Offset       int
}

// ParamLookup resolves a search parameter code. *searchparam.Catalog
// satisfies it.
type ParamLookup interface {
	Get(resourceType, code string) (*searchparam.Definition, bool)
}

// ErrUnknownParameter is returned for a search parameter the resource type
// does not define.
var ErrUnknownParameter = errors.New("unknown search parameter")

// DefaultCount is the page size used when _count is absent.
const DefaultCount = 20

// ParseRequest parses query string values into a Request. Control
// parameters other than _sort, _count and _offset are ignored.
func ParseRequest(resourceType string, values url.Values, params ParamLookup) (*Request, error) {
	req := &Request{ResourceType: resourceType, Count: DefaultCount}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, raw := range values[key] {
			switch key {
			case "_sort":
				req.Sort = append(req.Sort, ParseSort(raw)...)
				continue
			case "_count", "_offset":
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid %s %q", key, raw)
				}
				if key == "_count" {
					req.Count = n
				} else {
					req.Offset = n
				}
				continue
			}
			f, err := ParseFilter(resourceType, key, raw, params)
			if err != nil {
				if errors.Is(err, ErrUnknownParameter) && strings.HasPrefix(key, "_") {
					continue
				}
				return nil, err
			}
			req.Filters = append(req.Filters, f)
		}
	}
	return req, nil
}

// ParseFilter parses one "code[:modifier]=value" pair. The :identifier
// modifier selects the derived "<code>:identifier" token parameter. Value
// prefixes are only honored for ordered types (date, number, quantity).
func ParseFilter(resourceType, key, value string, params ParamLookup) (Filter, error) {
	code, modifier := ParseParamModifier(key)
	if modifier == "identifier" {
		code += searchparam.IdentifierSuffix
		modifier = ""
	}
	def, ok := params.Get(resourceType, code)
	if !ok {
		return Filter{}, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, resourceType, code)
	}

	f := Filter{Code: code, Operator: OpEquals, Value: value}
	if modifier != "" {
		op, ok := modifiers[modifier]
		if !ok {
			return Filter{}, fmt.Errorf("unsupported modifier :%s on %s", modifier, key)
		}
		f.Operator = op
		return f, nil
	}
	switch def.Type {
	case searchparam.TypeDate, searchparam.TypeNumber, searchparam.TypeQuantity:
		f.Operator, f.Value = ParseSearchValue(value)
	}
	return f, nil
}

// ParseSearchValue extracts the prefix from an ordered search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func ParseSearchValue(raw string) (Operator, string) {
	if len(raw) >= 2 {
		if op, ok := prefixes[strings.ToLower(raw[:2])]; ok {
			return op, raw[2:]
		}
	}
	return OpEquals, raw
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) (string, string) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// ParseSort parses a _sort value: comma-separated codes, "-" for descending.
func ParseSort(raw string) []SortRule {
	var out []SortRule
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		rule := SortRule{Code: field}
		if strings.HasPrefix(field, "-") {
			rule.Descending = true
			rule.Code = field[1:]
		}
		out = append(out, rule)
	}
	return out
}
