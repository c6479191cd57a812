package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_WithFields(t *testing.T) {
	s := NewSchema("churn_users_bronze", []Field{
		{Name: "id", Type: FieldTypeString},
		{Name: "email", Type: FieldTypeString},
	})

	evolved := s.WithFields([]Field{
		{Name: "referrer", Type: FieldTypeString},
		{Name: "email", Type: FieldTypeString}, // already present
		{Name: "campaign", Type: FieldTypeString},
	})

	assert.Equal(t, 1, s.Version, "original schema untouched")
	assert.Equal(t, 2, evolved.Version)
	// New fields appended in name order after the existing ones.
	assert.Equal(t, []string{"id", "email", "campaign", "referrer"}, evolved.FieldNames())

	// No new fields: same schema comes back, version unchanged.
	same := evolved.WithFields([]Field{{Name: "id", Type: FieldTypeString}})
	assert.Equal(t, evolved.Version, same.Version)
}

func TestSchema_TypeOf(t *testing.T) {
	s := NewSchema("t", []Field{{Name: "amount", Type: FieldTypeInt}})
	ft, ok := s.TypeOf("amount")
	require.True(t, ok)
	assert.Equal(t, FieldTypeInt, ft)
	_, ok = s.TypeOf("missing")
	assert.False(t, ok)
}

func TestCastValue(t *testing.T) {
	ts := time.Date(2012, 1, 15, 8, 10, 7, 0, time.UTC)

	tests := []struct {
		name   string
		raw    interface{}
		ft     FieldType
		layout string
		want   interface{}
		ok     bool
	}{
		{"string passthrough", "hello", FieldTypeString, "", "hello", true},
		{"int from string", " 42 ", FieldTypeInt, "", int64(42), true},
		{"int from whole float", float64(7), FieldTypeInt, "", int64(7), true},
		{"int from fractional float fails", 7.5, FieldTypeInt, "", nil, false},
		{"int from garbage fails", "not-a-number", FieldTypeInt, "", nil, false},
		{"float from int", int64(3), FieldTypeFloat, "", float64(3), true},
		{"bool from string", "true", FieldTypeBool, "", true, true},
		{"bool from int", int64(0), FieldTypeBool, "", false, true},
		{"timestamp parses layout", "01-15-2012 8:10:07", FieldTypeTimestamp, "01-02-2006 15:04:05", ts, true},
		{"timestamp wrong layout fails", "2012/01/15", FieldTypeTimestamp, "01-02-2006 15:04:05", nil, false},
		{"timestamp passthrough", ts, FieldTypeTimestamp, "", ts, true},
		{"nil is nil for any type", nil, FieldTypeInt, "", nil, true},
		{"string from number", int64(5), FieldTypeString, "", "5", true},
		{"nested object fails string cast", map[string]interface{}{"city": "Paris"}, FieldTypeString, "", nil, false},
		{"nested array fails string cast", []interface{}{"a", "b"}, FieldTypeString, "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CastValue(tt.raw, tt.ft, tt.layout)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestInferAndWiden(t *testing.T) {
	assert.Equal(t, FieldTypeBool, InferFieldType(true))
	assert.Equal(t, FieldTypeInt, InferFieldType(int64(1)))
	assert.Equal(t, FieldTypeFloat, InferFieldType(1.5))
	assert.Equal(t, FieldTypeTimestamp, InferFieldType(time.Now()))
	assert.Equal(t, FieldTypeString, InferFieldType("x"))

	assert.Equal(t, FieldTypeFloat, WidenFieldType(FieldTypeInt, FieldTypeFloat))
	assert.Equal(t, FieldTypeInt, WidenFieldType(FieldTypeInt, FieldTypeInt))
	assert.Equal(t, FieldTypeString, WidenFieldType(FieldTypeBool, FieldTypeInt))
}
