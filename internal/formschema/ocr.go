package formschema

import "sort"

// OCRSource is the latest OCR result of one ticket image, flattened to
// key -> text.
type OCRSource struct {
	ImageID      uint
	DisplayOrder int
	Texts        map[string]string
}

type OCRMatch struct {
	Field   string `json:"field"`
	Key     string `json:"ocr_key"`
	ImageID uint   `json:"image_id"`
	Value   string `json:"value"`
}

// OCRPatch is the patch built from a field -> OCR key mapping, ready for Merge.
type OCRPatch struct {
	Patch   *Document
	Matches []OCRMatch
	// Skipped lists fields whose key no image result contains.
	Skipped []string
}

// ResolveOCRPatch builds a patch from mapping (document field -> OCR key).
// For every field the first image in display order (ties by image id) whose
// result contains the key supplies the value. Fields with no match are
// skipped, not errors. Fields are emitted in lexical order.
func ResolveOCRPatch(mapping map[string]string, sources []OCRSource) *OCRPatch {
	ordered := make([]OCRSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DisplayOrder != ordered[j].DisplayOrder {
			return ordered[i].DisplayOrder < ordered[j].DisplayOrder
		}
		return ordered[i].ImageID < ordered[j].ImageID
	})

	fields := make([]string, 0, len(mapping))
	for f := range mapping {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := &OCRPatch{Patch: NewDocument(), Matches: []OCRMatch{}, Skipped: []string{}}
	for _, field := range fields {
		key := mapping[field]
		found := false
		for _, src := range ordered {
			text, ok := src.Texts[key]
			if !ok {
				continue
			}
			out.Patch.Set(field, text)
			out.Matches = append(out.Matches, OCRMatch{Field: field, Key: key, ImageID: src.ImageID, Value: text})
			found = true
			break
		}
		if !found {
			out.Skipped = append(out.Skipped, field)
		}
	}
	return out
}
