package formschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	TypeText     FieldType = "text"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeSelect   FieldType = "select"
	TypeTextarea FieldType = "textarea"
	TypeArray    FieldType = "array"
)

// fieldKind is one row of the registry: how raw input of a type is coerced to
// its canonical form and when a canonical value counts as empty.
type fieldKind interface {
	normalize(cfg FieldConfig, raw any) (any, error)
	isEmpty(v any) bool
}

// registry is fixed at build time and never written after package init.
var registry = map[FieldType]fieldKind{
	TypeText:     textKind{},
	TypeNumber:   numberKind{},
	TypeDate:     dateKind{},
	TypeSelect:   selectKind{},
	TypeTextarea: textareaKind{},
	TypeArray:    arrayKind{},
}

func lookupKind(t FieldType) (fieldKind, bool) {
	k, ok := registry[t]
	return k, ok
}

func (t FieldType) Known() bool {
	_, ok := registry[t]
	return ok
}

// Types lists the registered field types in lexical order.
func Types() []FieldType {
	out := make([]FieldType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsEmpty reports whether v counts as "no value" for a field of type t.
// Unknown types treat only nil as empty.
func IsEmpty(t FieldType, v any) bool {
	if v == nil {
		return true
	}
	k, ok := lookupKind(t)
	if !ok {
		return false
	}
	return k.isEmpty(v)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

type textKind struct{}

func (textKind) normalize(_ FieldConfig, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %s", describe(raw))
	}
	return strings.TrimSpace(s), nil
}

func (textKind) isEmpty(v any) bool {
	s, ok := v.(string)
	return !ok || isBlank(s)
}

type textareaKind struct{}

func (textareaKind) normalize(_ FieldConfig, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %s", describe(raw))
	}
	return s, nil
}

func (textareaKind) isEmpty(v any) bool {
	s, ok := v.(string)
	return !ok || s == ""
}

type numberKind struct{}

func (numberKind) normalize(_ FieldConfig, raw any) (any, error) {
	var f float64
	var err error
	switch t := raw.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case int:
		f, err = parseExactNumber(strconv.FormatInt(int64(t), 10))
	case int64:
		f, err = parseExactNumber(strconv.FormatInt(t, 10))
	case uint:
		f, err = parseExactNumber(strconv.FormatUint(uint64(t), 10))
	case uint64:
		f, err = parseExactNumber(strconv.FormatUint(t, 10))
	case json.Number:
		f, err = parseExactNumber(t.String())
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err = parseExactNumber(s)
	default:
		return nil, fmt.Errorf("expected number, got %s", describe(raw))
	}
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.New("number must be finite")
	}
	return f, nil
}

func (numberKind) isEmpty(v any) bool {
	f, ok := v.(float64)
	return !ok || math.IsNaN(f)
}

const dateOnly = "2006-01-02"

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006/01/02 15:04:05", false},
	{dateOnly, true},
	{"2006/01/02", true},
}

type dateKind struct{}

// normalize canonicalises dates to "2006-01-02" and date-times to RFC 3339 in
// UTC. Zone-less date-times are read as UTC.
func (dateKind) normalize(_ FieldConfig, raw any) (any, error) {
	switch t := raw.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		for _, l := range dateLayouts {
			ts, err := time.Parse(l.layout, s)
			if err != nil {
				continue
			}
			if l.dateOnly {
				return ts.Format(dateOnly), nil
			}
			return ts.UTC().Format(time.RFC3339), nil
		}
		return nil, fmt.Errorf("unrecognised date %q", t)
	default:
		return nil, fmt.Errorf("expected date string, got %s", describe(raw))
	}
}

func (dateKind) isEmpty(v any) bool {
	s, ok := v.(string)
	return !ok || isBlank(s)
}

type selectKind struct{}

func (selectKind) normalize(cfg FieldConfig, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string option, got %s", describe(raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, opt := range cfg.Options {
		if opt == s {
			return opt, nil
		}
	}
	return nil, fmt.Errorf("%q is not one of the allowed options", s)
}

func (selectKind) isEmpty(v any) bool {
	s, ok := v.(string)
	return !ok || s == ""
}

// arrayKind only answers emptiness; arrays are normalized by validateArray,
// which needs to report per-element issues.
type arrayKind struct{}

func (arrayKind) normalize(cfg FieldConfig, raw any) (any, error) {
	seq, errs, _ := ValidateArray("", cfg.ArrayFields, raw)
	if len(errs) > 0 {
		return nil, errors.New(joinIssues(errs))
	}
	return seq, nil
}

func (arrayKind) isEmpty(v any) bool {
	seq, ok := v.([]any)
	return !ok || len(seq) == 0
}

// parseExactNumber отклоняет целые, которые float64 округлил бы (больше 2^53 по модулю).
func parseExactNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if !strings.ContainsAny(s, ".eE") {
		if bi, ok := new(big.Int).SetString(s, 10); ok {
			if _, acc := new(big.Float).SetInt(bi).Float64(); acc != big.Exact {
				return 0, fmt.Errorf("integer %s cannot be stored exactly", s)
			}
		}
	}
	return f, nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "number"
	case []any:
		return "array"
	case *Document, Document, map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
