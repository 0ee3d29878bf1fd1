// Package formschema is the dynamic form engine behind ticket types.
//
// A ticket type's shape is data: an ordered list of Field definitions whose
// types come from a fixed registry (text, number, date, select, textarea,
// array). Ticket payloads are open Documents validated loosely against that
// schema: matched keys are normalized, unknown keys are preserved with a
// warning, and patches are overlaid onto stored documents by Merge, which also
// produces the before/after snapshots used for audit records.
//
// Everything in this package is a pure function over its inputs. Loading
// schemas and persisting documents is the caller's job.
package formschema
