package formschema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaNotFound: the ticket type is absent, or inactive when a new
	// ticket is being created.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrMalformedSchema: a stored schema cannot be interpreted at all.
	ErrMalformedSchema = errors.New("malformed schema")
	ErrMergeRejected   = errors.New("merge rejected")
	// ErrValidationFailed: a full document failed validation.
	ErrValidationFailed = errors.New("document validation failed")
)

type Code string

const (
	CodeUnknownFieldType     Code = "unknown_field_type"
	CodeMissingRequiredField Code = "missing_required_field"
	CodeInvalidFieldValue    Code = "invalid_field_value"
	CodeInvalidArrayElement  Code = "invalid_array_element"
	CodeUnknownField         Code = "unknown_field"
)

// Issue is one validation finding. Field is always the top-level document key;
// Path narrows it down inside array fields, e.g. "test_results[2].pci".
type Issue struct {
	Code   Code   `json:"code"`
	Field  string `json:"field"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (i Issue) String() string {
	where := i.Field
	if i.Path != "" {
		where = i.Path
	}
	if i.Reason == "" {
		return fmt.Sprintf("%s(%s)", i.Code, where)
	}
	return fmt.Sprintf("%s(%s): %s", i.Code, where, i.Reason)
}

func joinIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

// ValidationError carries the full issue list of a rejected document so a form
// can highlight every offending field at once.
type ValidationError struct {
	Errors   []Issue
	Warnings []Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, joinIssues(e.Errors))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// MergeRejectedError is returned by Merge when the patch has hard errors.
// Nothing of the patch has been applied.
type MergeRejectedError struct {
	Errors   []Issue
	Warnings []Issue
}

func (e *MergeRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMergeRejected, joinIssues(e.Errors))
}

func (e *MergeRejectedError) Is(target error) bool {
	return target == ErrMergeRejected
}

// Issues extracts the error and warning lists from a *ValidationError or a
// *MergeRejectedError anywhere in err's chain.
func Issues(err error) (errs, warnings []Issue, ok bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Errors, ve.Warnings, true
	}
	var me *MergeRejectedError
	if errors.As(err, &me) {
		return me.Errors, me.Warnings, true
	}
	return nil, nil, false
}
