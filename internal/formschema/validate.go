package formschema

import (
	"fmt"
	"strings"
)

type Mode int

const (
	// ModeFull is used on creation: required fields must be non-empty and any
	// error rejects the document.
	ModeFull Mode = iota + 1
	// ModePartial is used on updates: only keys present are checked.
	ModePartial
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePartial:
		return "partial"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "":
		return ModeFull, nil
	case "partial":
		return ModePartial, nil
	default:
		return 0, fmt.Errorf("unknown validation mode %q", s)
	}
}

// Report is the outcome of Validate. Document is always a fresh copy: matched
// keys come first in schema order, then unknown keys in input order.
type Report struct {
	Document *Document `json:"document"`
	Errors   []Issue   `json:"errors"`
	Warnings []Issue   `json:"warnings"`
}

func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err returns a *ValidationError when the report has errors, nil otherwise.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Errors: r.Errors, Warnings: r.Warnings}
}

// Validate checks doc against schema and returns the normalized document plus
// diagnostics. The input is never modified.
//
// Invalid values are dropped from the output. Unknown keys are passed through
// unchanged. An explicit null is kept as null for any known field type and
// counts as empty for the required check.
func Validate(schema *Schema, doc *Document, mode Mode) *Report {
	r := &Report{
		Document: NewDocument(),
		Errors:   []Issue{},
		Warnings: []Issue{},
	}
	matched := make(map[string]bool)

	var fields []Field
	if schema != nil {
		fields = schema.Fields
	}
	for _, f := range fields {
		matched[f.Name] = true
		raw, present := doc.Get(f.Name)

		kind, known := lookupKind(f.Type)
		if !known {
			if present {
				is := Issue{
					Code:   CodeUnknownFieldType,
					Field:  f.Name,
					Reason: fmt.Sprintf("unknown field type %q", f.Type),
				}
				if mode == ModeFull {
					r.Errors = append(r.Errors, is)
				} else {
					r.Warnings = append(r.Warnings, is)
				}
			} else if mode == ModeFull && f.Required {
				r.Errors = append(r.Errors, missing(f.Name))
			}
			continue
		}

		if !present {
			if mode == ModeFull && f.Required {
				r.Errors = append(r.Errors, missing(f.Name))
			}
			continue
		}

		if raw == nil {
			if mode == ModeFull && f.Required {
				r.Errors = append(r.Errors, missing(f.Name))
				continue
			}
			r.Document.Set(f.Name, nil)
			continue
		}

		var (
			v    any
			errs []Issue
		)
		if f.Type == TypeArray {
			var warns []Issue
			var seq []any
			seq, errs, warns = ValidateArray(f.Name, f.Config.ArrayFields, raw)
			r.Warnings = append(r.Warnings, warns...)
			v = seq
		} else {
			nv, err := kind.normalize(f.Config, raw)
			if err != nil {
				errs = []Issue{{Code: CodeInvalidFieldValue, Field: f.Name, Reason: err.Error()}}
			}
			v = nv
		}
		if len(errs) > 0 {
			r.Errors = append(r.Errors, errs...)
			continue
		}
		if mode == ModeFull && f.Required && IsEmpty(f.Type, v) {
			r.Errors = append(r.Errors, missing(f.Name))
			continue
		}
		r.Document.Set(f.Name, v)
	}

	for _, k := range doc.Keys() {
		if matched[k] {
			continue
		}
		v, _ := doc.Get(k)
		r.Warnings = append(r.Warnings, Issue{Code: CodeUnknownField, Field: k})
		r.Document.Set(k, cloneValue(v))
	}
	return r
}

func missing(name string) Issue {
	return Issue{Code: CodeMissingRequiredField, Field: name, Reason: "value is required"}
}
