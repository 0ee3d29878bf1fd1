package formschema

import (
	"fmt"
)

// ValidateArray normalizes a sequence of records against inline column
// descriptors. Columns are never required: absent keys are left out of the
// normalized record. Keys with no descriptor are kept with an UnknownField
// warning. Element order and count are preserved, duplicates included.
//
// field names the parent document key and is used for issue paths. Any
// returned error means the whole parent value must be dropped.
func ValidateArray(field string, subs []SubField, raw any) (seq []any, errs, warnings []Issue) {
	elems, ok := asSequence(raw)
	if !ok {
		return nil, []Issue{{
			Code:   CodeInvalidFieldValue,
			Field:  field,
			Path:   field,
			Reason: fmt.Sprintf("expected array, got %s", describe(raw)),
		}}, nil
	}

	seq = make([]any, 0, len(elems))
	for i, e := range elems {
		path := fmt.Sprintf("%s[%d]", field, i)
		rec, ok := asRecord(e)
		if !ok {
			errs = append(errs, Issue{
				Code:   CodeInvalidArrayElement,
				Field:  field,
				Path:   path,
				Reason: fmt.Sprintf("element %d is %s, not a record", i, describe(e)),
			})
			continue
		}
		out, recErrs, recWarns := validateRecord(field, path, subs, rec)
		errs = append(errs, recErrs...)
		warnings = append(warnings, recWarns...)
		seq = append(seq, out)
	}
	if len(errs) > 0 {
		return nil, errs, warnings
	}
	return seq, nil, warnings
}

func validateRecord(field, path string, subs []SubField, rec *Document) (*Document, []Issue, []Issue) {
	var errs, warnings []Issue
	out := NewDocument()
	known := make(map[string]bool, len(subs))
	for _, sf := range subs {
		known[sf.Name] = true
		raw, present := rec.Get(sf.Name)
		if !present {
			continue
		}
		colPath := path + "." + sf.Name
		if raw == nil {
			out.Set(sf.Name, nil)
			continue
		}
		if !sf.Type.Known() {
			warnings = append(warnings, Issue{
				Code:   CodeUnknownFieldType,
				Field:  field,
				Path:   colPath,
				Reason: fmt.Sprintf("unknown field type %q", sf.Type),
			})
			continue
		}
		if sf.Type == TypeArray {
			nested, nestedErrs, nestedWarns := ValidateArray(field, sf.ArrayFields, raw)
			warnings = append(warnings, rebase(nestedWarns, field, colPath)...)
			if len(nestedErrs) > 0 {
				errs = append(errs, rebase(nestedErrs, field, colPath)...)
				continue
			}
			out.Set(sf.Name, nested)
			continue
		}
		kind, _ := lookupKind(sf.Type)
		v, err := kind.normalize(sf.config(), raw)
		if err != nil {
			errs = append(errs, Issue{
				Code:   CodeInvalidFieldValue,
				Field:  field,
				Path:   colPath,
				Reason: err.Error(),
			})
			continue
		}
		out.Set(sf.Name, v)
	}
	for _, k := range rec.Keys() {
		if known[k] {
			continue
		}
		v, _ := rec.Get(k)
		warnings = append(warnings, Issue{Code: CodeUnknownField, Field: field, Path: path + "." + k})
		out.Set(k, cloneValue(v))
	}
	return out, errs, warnings
}

// rebase rewrites paths produced by a nested ValidateArray call, which only
// knows the top-level field name, so they hang off the enclosing column.
func rebase(issues []Issue, field, prefix string) []Issue {
	out := make([]Issue, len(issues))
	for i, is := range issues {
		is.Field = field
		if len(is.Path) >= len(field) && is.Path[:len(field)] == field {
			is.Path = prefix + is.Path[len(field):]
		}
		out[i] = is
	}
	return out
}

func asSequence(raw any) ([]any, bool) {
	switch t := raw.(type) {
	case []any:
		return t, true
	case []*Document:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = d
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func asRecord(v any) (*Document, bool) {
	switch t := v.(type) {
	case *Document:
		if t == nil {
			return nil, false
		}
		return t, true
	case Document:
		return &t, true
	case map[string]any:
		return FromMap(t), true
	default:
		return nil, false
	}
}
