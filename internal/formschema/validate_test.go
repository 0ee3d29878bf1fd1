package formschema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complaintSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(1, "complaint", true, []Field{
		{ID: 1, Name: "complainant_name", Label: "Name", Type: TypeText, Required: true, DisplayOrder: 3},
		{ID: 2, Name: "district", Label: "District", Type: TypeText, DisplayOrder: 2},
		{ID: 3, Name: "complaint_type", Label: "Type", Type: TypeSelect, DisplayOrder: 6,
			Config: FieldConfig{Options: []string{"signal", "outage", "service", "other"}}},
		{ID: 4, Name: "content", Label: "Content", Type: TypeTextarea, Required: true, DisplayOrder: 7},
		{ID: 5, Name: "visit_date", Label: "Visit date", Type: TypeDate, DisplayOrder: 8},
		{ID: 6, Name: "floor", Label: "Floor", Type: TypeNumber, DisplayOrder: 8},
		{ID: 7, Name: "test_results", Label: "Results", Type: TypeArray, DisplayOrder: 9,
			Config: FieldConfig{ArrayFields: []SubField{
				{Name: "pci", Type: TypeNumber},
				{Name: "cell_id", Type: TypeText},
				{Name: "interference", Type: TypeSelect, Options: []string{"low", "mid", "high"}},
			}}},
	})
	require.NoError(t, err)
	return s
}

func codes(issues []Issue) []Code {
	out := make([]Code, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestNewSchema_OrdersByDisplayOrderThenID(t *testing.T) {
	s := complaintSchema(t)
	assert.Equal(t, []string{
		"district", "complainant_name", "complaint_type", "content", "visit_date", "floor", "test_results",
	}, s.Names())
}

func TestNewSchema_DuplicateName(t *testing.T) {
	_, err := NewSchema(1, "x", true, []Field{
		{ID: 1, Name: "a", Type: TypeText},
		{ID: 2, Name: "a", Type: TypeNumber},
	})
	assert.ErrorIs(t, err, ErrMalformedSchema)
}

func TestValidate_FullValidDocument(t *testing.T) {
	s := complaintSchema(t)
	doc := FromMap(map[string]any{
		"complainant_name": "  Li Wei ",
		"district":         "North",
		"complaint_type":   "signal",
		"content":          "  no coverage\n indoors ",
		"visit_date":       "2024-03-05",
		"floor":            "42",
		"test_results": []any{
			map[string]any{"pci": "100", "cell_id": "A1"},
		},
	})

	rep := Validate(s, doc, ModeFull)

	require.True(t, rep.OK(), "errors: %v", rep.Errors)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, map[string]any{
		"complainant_name": "Li Wei",
		"district":         "North",
		"complaint_type":   "signal",
		"content":          "  no coverage\n indoors ",
		"visit_date":       "2024-03-05",
		"floor":            float64(42),
		"test_results":     []any{map[string]any{"pci": float64(100), "cell_id": "A1"}},
	}, rep.Document.ToMap())
	assert.Equal(t, []string{
		"district", "complainant_name", "complaint_type", "content", "visit_date", "floor", "test_results",
	}, rep.Document.Keys())
}

func TestValidate_RequiredFields(t *testing.T) {
	s, err := NewSchema(1, "t", true, []Field{
		{ID: 1, Name: "f", Label: "F", Type: TypeText, Required: true},
	})
	require.NoError(t, err)

	t.Run("partial mode accepts omission", func(t *testing.T) {
		rep := Validate(s, NewDocument(), ModePartial)
		assert.True(t, rep.OK())
	})

	t.Run("full mode rejects omission exactly once", func(t *testing.T) {
		rep := Validate(s, NewDocument(), ModeFull)
		require.Len(t, rep.Errors, 1)
		assert.Equal(t, CodeMissingRequiredField, rep.Errors[0].Code)
		assert.Equal(t, "f", rep.Errors[0].Field)
	})

	t.Run("blank text counts as missing", func(t *testing.T) {
		doc := NewDocument()
		doc.Set("f", "   ")
		rep := Validate(s, doc, ModeFull)
		assert.Equal(t, []Code{CodeMissingRequiredField}, codes(rep.Errors))
	})

	t.Run("null counts as missing", func(t *testing.T) {
		doc := NewDocument()
		doc.Set("f", nil)
		rep := Validate(s, doc, ModeFull)
		assert.Equal(t, []Code{CodeMissingRequiredField}, codes(rep.Errors))
	})
}

func TestValidate_UnknownKeysPreserved(t *testing.T) {
	s := complaintSchema(t)
	doc := NewDocument()
	doc.Set("legacy_code", "X-9")
	doc.Set("district", "East")
	doc.Set("extra", []any{1.0, "two"})

	rep := Validate(s, doc, ModePartial)

	assert.True(t, rep.OK())
	assert.Equal(t, []Issue{
		{Code: CodeUnknownField, Field: "legacy_code"},
		{Code: CodeUnknownField, Field: "extra"},
	}, rep.Warnings)
	assert.Equal(t, []string{"district", "legacy_code", "extra"}, rep.Document.Keys())
	v, _ := rep.Document.Get("legacy_code")
	assert.Equal(t, "X-9", v)
}

func TestValidate_InvalidValuesDropped(t *testing.T) {
	s := complaintSchema(t)
	doc := NewDocument()
	doc.Set("complaint_type", "weather")
	doc.Set("floor", "tenth")
	doc.Set("visit_date", "yesterday")
	doc.Set("district", 12.0)
	doc.Set("content", "ok")

	rep := Validate(s, doc, ModePartial)

	assert.Equal(t, []Code{
		CodeInvalidFieldValue, CodeInvalidFieldValue, CodeInvalidFieldValue, CodeInvalidFieldValue,
	}, codes(rep.Errors))
	assert.Equal(t, "district", rep.Errors[0].Field)
	assert.Equal(t, "complaint_type", rep.Errors[1].Field)
	assert.Equal(t, []string{"content"}, rep.Document.Keys())
}

func TestValidate_ErrorOrderFollowsDisplayOrder(t *testing.T) {
	s := complaintSchema(t)
	doc := NewDocument()
	doc.Set("floor", true)
	doc.Set("mystery", 1.0)
	doc.Set("district", false)

	rep := Validate(s, doc, ModeFull)

	require.Len(t, rep.Errors, 4)
	assert.Equal(t, "district", rep.Errors[0].Field)
	assert.Equal(t, "complainant_name", rep.Errors[1].Field)
	assert.Equal(t, "content", rep.Errors[2].Field)
	assert.Equal(t, "floor", rep.Errors[3].Field)
	assert.Equal(t, []Issue{{Code: CodeUnknownField, Field: "mystery"}}, rep.Warnings)
}

func TestValidate_UnknownFieldType(t *testing.T) {
	s, err := NewSchema(1, "t", true, []Field{
		{ID: 1, Name: "sig", Label: "Signature", Type: "signature"},
		{ID: 2, Name: "name", Label: "Name", Type: TypeText},
	})
	require.NoError(t, err)
	doc := NewDocument()
	doc.Set("sig", "xyz")
	doc.Set("name", "a")

	t.Run("full mode is an error", func(t *testing.T) {
		rep := Validate(s, doc, ModeFull)
		assert.Equal(t, []Code{CodeUnknownFieldType}, codes(rep.Errors))
		assert.False(t, rep.Document.Has("sig"))
	})

	t.Run("partial mode is a warning", func(t *testing.T) {
		rep := Validate(s, doc, ModePartial)
		assert.True(t, rep.OK())
		assert.Equal(t, []Code{CodeUnknownFieldType}, codes(rep.Warnings))
		assert.False(t, rep.Document.Has("sig"))
		assert.True(t, rep.Document.Has("name"))
	})
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	s := complaintSchema(t)
	doc := FromMap(map[string]any{
		"district":     "  spaced  ",
		"floor":        "7",
		"test_results": []any{map[string]any{"pci": "1"}},
	})
	before, err := doc.MarshalJSON()
	require.NoError(t, err)

	Validate(s, doc, ModePartial)

	after, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestValidate_Idempotent(t *testing.T) {
	s := complaintSchema(t)
	docs := []*Document{
		FromMap(map[string]any{"district": " a ", "floor": "3.50", "visit_date": "2024-01-02 10:30:00"}),
		FromMap(map[string]any{"complaint_type": "other", "unknown": map[string]any{"x": 1.0}}),
		FromMap(map[string]any{"test_results": []any{
			map[string]any{"pci": 5, "cell_id": " c ", "junk": true},
			map[string]any{"interference": "high"},
		}}),
		FromMap(map[string]any{"visit_date": "2024-01-02T10:30:00+08:00", "floor": nil}),
	}
	for _, d := range docs {
		once := Validate(s, d, ModePartial)
		require.True(t, once.OK(), "errors: %v", once.Errors)
		twice := Validate(s, once.Document, ModePartial)
		require.True(t, twice.OK())
		a, err := once.Document.MarshalJSON()
		require.NoError(t, err)
		b, err := twice.Document.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("partial")
	require.NoError(t, err)
	assert.Equal(t, ModePartial, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)

	_, err = ParseMode("strict")
	assert.Error(t, err)
}

func TestReport_Err(t *testing.T) {
	s := complaintSchema(t)
	rep := Validate(s, NewDocument(), ModeFull)
	err := rep.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	errs, _, ok := Issues(err)
	require.True(t, ok)
	assert.Len(t, errs, 2)
}

func TestValidate_IntegerBeyondFloatPrecision(t *testing.T) {
	s := complaintSchema(t)
	var doc Document
	require.NoError(t, doc.UnmarshalJSON([]byte(`{"floor":9007199254740993,"imsi":460001234567890123}`)))

	rep := Validate(s, &doc, ModePartial)

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, CodeInvalidFieldValue, rep.Errors[0].Code)
	assert.Equal(t, "floor", rep.Errors[0].Field)
	assert.Equal(t, []Code{CodeUnknownField}, codes(rep.Warnings))
	v, _ := rep.Document.Get("imsi")
	assert.Equal(t, "460001234567890123", fmt.Sprint(v))
}
