package formschema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SubField is an inline descriptor for one column of an array field. It is
// not a stored FormField and has no required flag.
type SubField struct {
	Name        string     `json:"name"`
	Label       string     `json:"label,omitempty"`
	Type        FieldType  `json:"type"`
	Options     []string   `json:"options,omitempty"`
	ArrayFields []SubField `json:"array_fields,omitempty"`
}

func (s SubField) config() FieldConfig {
	return FieldConfig{Options: s.Options, ArrayFields: s.ArrayFields}
}

// FieldConfig is the type-specific part of a field definition.
type FieldConfig struct {
	Options     []string   `json:"options,omitempty"`
	ArrayFields []SubField `json:"array_fields,omitempty"`
}

// ParseFieldConfig decodes a stored config column. Empty input is the zero
// config.
func ParseFieldConfig(raw []byte) (FieldConfig, error) {
	var cfg FieldConfig
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: field config: %v", ErrMalformedSchema, err)
	}
	return cfg, nil
}

type Field struct {
	ID           uint        `json:"id"`
	Name         string      `json:"field_name"`
	Label        string      `json:"field_label"`
	Type         FieldType   `json:"field_type"`
	Config       FieldConfig `json:"config"`
	Required     bool        `json:"is_required"`
	DisplayOrder int         `json:"display_order"`
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Check validates a field definition before it is stored.
func (f Field) Check() error {
	if !fieldNamePattern.MatchString(f.Name) {
		return fmt.Errorf("field name %q must match %s", f.Name, fieldNamePattern)
	}
	if strings.TrimSpace(f.Label) == "" {
		return fmt.Errorf("field %q: label is required", f.Name)
	}
	return checkType(f.Name, f.Type, f.Config)
}

func checkType(name string, t FieldType, cfg FieldConfig) error {
	if !t.Known() {
		return fmt.Errorf("field %q: unknown field type %q", name, t)
	}
	switch t {
	case TypeSelect:
		if len(cfg.Options) == 0 {
			return fmt.Errorf("field %q: select needs at least one option", name)
		}
		seen := make(map[string]bool, len(cfg.Options))
		for _, o := range cfg.Options {
			if strings.TrimSpace(o) == "" || seen[o] {
				return fmt.Errorf("field %q: options must be non-empty and unique", name)
			}
			seen[o] = true
		}
	case TypeArray:
		if len(cfg.ArrayFields) == 0 {
			return fmt.Errorf("field %q: array needs at least one array_fields entry", name)
		}
		seen := make(map[string]bool, len(cfg.ArrayFields))
		for _, sf := range cfg.ArrayFields {
			if !fieldNamePattern.MatchString(sf.Name) {
				return fmt.Errorf("field %q: array column name %q is invalid", name, sf.Name)
			}
			if seen[sf.Name] {
				return fmt.Errorf("field %q: duplicate array column %q", name, sf.Name)
			}
			seen[sf.Name] = true
			if err := checkType(name+"."+sf.Name, sf.Type, sf.config()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Schema is an immutable snapshot of one ticket type's live fields, sorted by
// display order with ties broken by field id.
type Schema struct {
	TicketTypeID   uint
	TicketTypeName string
	Active         bool
	Fields         []Field

	index map[string]int
}

func NewSchema(typeID uint, name string, active bool, fields []Field) (*Schema, error) {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].ID < sorted[j].ID
	})
	index := make(map[string]int, len(sorted))
	for i, f := range sorted {
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q in ticket type %d", ErrMalformedSchema, f.Name, typeID)
		}
		index[f.Name] = i
	}
	return &Schema{
		TicketTypeID:   typeID,
		TicketTypeName: name,
		Active:         active,
		Fields:         sorted,
		index:          index,
	}, nil
}

func (s *Schema) Lookup(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}
