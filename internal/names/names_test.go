package names

import (
	"reflect"
	"testing"
)

func TestToCamel(t *testing.T) {
	tests := map[string]string{
		"updated_at":     "updatedAt",
		"record_id":      "recordId",
		"values_json":    "valuesJson",
		"id":             "id",
		"_dirty":         "Dirty",
		"last_pulled_at": "lastPulledAt",
	}

	for in, want := range tests {
		if got := ToCamel(in); got != want {
			t.Errorf("ToCamel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToSnake(t *testing.T) {
	tests := map[string]string{
		"updatedAt":    "updated_at",
		"recordId":     "record_id",
		"valuesJson":   "values_json",
		"id":           "id",
		"lastPulledAt": "last_pulled_at",
	}

	for in, want := range tests {
		if got := ToSnake(in); got != want {
			t.Errorf("ToSnake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cols := []string{"updated_at", "record_id", "page_id", "external_id", "values_json"}
	for _, c := range cols {
		if got := ToSnake(ToCamel(c)); got != c {
			t.Errorf("round trip of %q gave %q", c, got)
		}
	}
}

func TestMapConversion(t *testing.T) {
	row := map[string]any{"record_id": "r1", "updated_at": "2025-01-01T00:00:00Z"}

	camel := MapToCamel(row)
	want := map[string]any{"recordId": "r1", "updatedAt": "2025-01-01T00:00:00Z"}
	if !reflect.DeepEqual(camel, want) {
		t.Errorf("MapToCamel = %v, want %v", camel, want)
	}

	if back := MapToSnake(camel); !reflect.DeepEqual(back, row) {
		t.Errorf("MapToSnake(MapToCamel(row)) = %v, want %v", back, row)
	}
}
