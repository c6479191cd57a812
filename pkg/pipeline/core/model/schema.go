package model

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is the canonical type of a table column.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
)

// IsValid reports whether ft is one of the canonical field types.
func (ft FieldType) IsValid() bool {
	switch ft {
	case FieldTypeString, FieldTypeInt, FieldTypeFloat, FieldTypeBool, FieldTypeTimestamp:
		return true
	}
	return false
}

// Field is one named, typed column of a table schema.
type Field struct {
	Name string    `yaml:"name" json:"name"`
	Type FieldType `yaml:"type" json:"type"`
}

// SchemaPolicy governs how a stage reconciles newly observed fields against the
// known schema of its target table.
type SchemaPolicy string

const (
	// SchemaPolicyEvolve extends the schema with newly observed fields.
	// Permitted only at the raw ingestion boundary (bronze).
	SchemaPolicyEvolve SchemaPolicy = "evolve"
	// SchemaPolicyFixed declares the schema explicitly; unknown fields are routed
	// to the rescue bucket and never extend the table.
	SchemaPolicyFixed SchemaPolicy = "fixed"
)

// Schema is an explicit, versioned description of a table's columns.
// It is updated only through Reconcile/WithField, never silently at write time.
type Schema struct {
	Table   string  `json:"table"`
	Version int     `json:"version"`
	Fields  []Field `json:"fields"`
}

// NewSchema creates a version-1 schema for a table.
func NewSchema(table string, fields []Field) *Schema {
	return &Schema{Table: table, Version: 1, Fields: fields}
}

// Has reports whether the schema contains a field with the given name.
func (s *Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// TypeOf returns the declared type of the named field.
func (s *Schema) TypeOf(name string) (FieldType, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// FieldNames returns the field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	fields := make([]Field, len(s.Fields))
	copy(fields, s.Fields)
	return &Schema{Table: s.Table, Version: s.Version, Fields: fields}
}

// WithFields returns a copy of the schema extended with the given fields and a
// bumped version. Fields already present are ignored. The added fields are
// appended in name order so that evolution is deterministic regardless of the
// order they were observed in.
func (s *Schema) WithFields(added []Field) *Schema {
	var missing []Field
	for _, f := range added {
		if !s.Has(f.Name) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return s
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })

	next := s.Clone()
	next.Version++
	next.Fields = append(next.Fields, missing...)
	return next
}

// String returns a compact description such as "churn_users v2 (user_id:string, ...)".
func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Type)
	}
	return fmt.Sprintf("%s v%d (%s)", s.Table, s.Version, strings.Join(parts, ", "))
}

// CastValue coerces a raw value to the given field type.
// layout is the time layout for timestamp fields (required for string inputs).
// The boolean result reports success; a false result means the value must be
// routed to the rescue bucket, never that the batch should fail.
func CastValue(raw interface{}, ft FieldType, layout string) (interface{}, bool) {
	if raw == nil {
		return nil, true
	}
	switch ft {
	case FieldTypeString:
		switch v := raw.(type) {
		case string:
			return v, true
		case fmt.Stringer:
			return v.String(), true
		default:
			// Nested structures never stringify into a typed column; the rescue
			// bucket keeps them intact.
			switch reflect.ValueOf(raw).Kind() {
			case reflect.Map, reflect.Slice, reflect.Array:
				return nil, false
			}
			return fmt.Sprintf("%v", v), true
		}
	case FieldTypeInt:
		switch v := raw.(type) {
		case int64:
			return v, true
		case int:
			return int64(v), true
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
			return nil, false
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
			return nil, false
		case bool:
			if v {
				return int64(1), true
			}
			return int64(0), true
		}
		return nil, false
	case FieldTypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case int:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
			return nil, false
		}
		return nil, false
	case FieldTypeBool:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
			return nil, false
		case int64:
			return v != 0, true
		case float64:
			return v != 0, true
		}
		return nil, false
	case FieldTypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v, true
		case string:
			if layout == "" {
				return nil, false
			}
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
			return nil, false
		}
		return nil, false
	}
	return nil, false
}

// InferFieldType infers the canonical type of a raw decoded value.
// Widening order: bool -> int -> float -> timestamp -> string.
func InferFieldType(raw interface{}) FieldType {
	switch raw.(type) {
	case bool:
		return FieldTypeBool
	case int, int64:
		return FieldTypeInt
	case float64:
		return FieldTypeFloat
	case time.Time:
		return FieldTypeTimestamp
	default:
		return FieldTypeString
	}
}

// WidenFieldType resolves two observed types for the same field to the narrowest
// type that can represent both.
func WidenFieldType(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	// int + float widen to float, everything else conflicting widens to string.
	if (a == FieldTypeInt && b == FieldTypeFloat) || (a == FieldTypeFloat && b == FieldTypeInt) {
		return FieldTypeFloat
	}
	return FieldTypeString
}
