package formschema

import "reflect"

// MergeResult is a successful overlay. Old and New hold exactly the keys the
// patch touched, with their values before and after; a key the existing
// document did not have appears in Old as null.
type MergeResult struct {
	Document *Document
	Old      *Document
	New      *Document
	Warnings []Issue

	// added: ключи, которых не было в existing (в Old они null).
	added map[string]bool
}

// Changed reports whether the patch altered at least one value or added a key,
// even one set to null.
func (m *MergeResult) Changed() bool {
	for _, k := range m.New.Keys() {
		if m.added[k] {
			return true
		}
		o, _ := m.Old.Get(k)
		n, _ := m.New.Get(k)
		if !equalValue(o, n) {
			return true
		}
	}
	return false
}

// Merge validates patch in partial mode and overlays its normalized keys on a
// copy of existing. Keys the patch does not mention are carried over verbatim.
// If the patch has any hard error nothing is applied and a
// *MergeRejectedError is returned; existing is never modified either way.
//
// Callers must serialize read, Merge and write-back per ticket, otherwise two
// concurrent patches can overwrite each other.
func Merge(existing, patch *Document, schema *Schema) (*MergeResult, error) {
	rep := Validate(schema, patch, ModePartial)
	if !rep.OK() {
		return nil, &MergeRejectedError{Errors: rep.Errors, Warnings: rep.Warnings}
	}

	merged := existing.Clone()
	oldSnap, newSnap := NewDocument(), NewDocument()
	added := make(map[string]bool)
	for _, k := range rep.Document.Keys() {
		v, _ := rep.Document.Get(k)
		prev, had := merged.Get(k)
		if !had {
			added[k] = true
		}
		oldSnap.Set(k, cloneValue(prev))
		newSnap.Set(k, cloneValue(v))
		merged.Set(k, v)
	}
	return &MergeResult{
		Document: merged,
		Old:      oldSnap,
		New:      newSnap,
		Warnings: rep.Warnings,
		added:    added,
	}, nil
}

func equalValue(a, b any) bool {
	switch at := a.(type) {
	case *Document:
		bt, ok := b.(*Document)
		if !ok || at.Len() != bt.Len() {
			return false
		}
		for i, k := range at.keys {
			if bt.keys[i] != k || !equalValue(at.values[k], bt.values[k]) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !equalValue(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		switch b.(type) {
		case *Document, []any:
			return false
		}
		return reflect.DeepEqual(a, b)
	}
}
