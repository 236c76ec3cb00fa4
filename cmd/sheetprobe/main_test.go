package main

import (
	"testing"

	"gymsync/internal/schema"
)

func TestProbe(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"", ""},
		{"Lid Nummer", "Trainingsdatum", "Duur", "Privé les"},
		{"m1", "2025-05-01", "60", "ja"},
		{"m2", "2025-05-02", "45", "nee"},
		{"m3", "", "30", "ja"},
	}
	fields, counts := probe(rows, 200)
	if len(fields) != 4 {
		t.Fatalf("got %d fields: %v", len(fields), fields)
	}

	byPath := map[string]schema.FieldMapping{}
	for _, fm := range fields {
		byPath[fm.Path] = fm
	}
	if byPath["lid_nummer"].Type != schema.TypeString {
		t.Errorf("lid_nummer type = %s", byPath["lid_nummer"].Type)
	}
	if byPath["trainingsdatum"].Type != schema.TypeDate {
		t.Errorf("trainingsdatum type = %s", byPath["trainingsdatum"].Type)
	}
	if byPath["duur"].Type != schema.TypeInteger {
		t.Errorf("duur type = %s", byPath["duur"].Type)
	}
	if byPath["prive_les"].Type != schema.TypeBoolean {
		t.Errorf("prive_les type = %s", byPath["prive_les"].Type)
	}
	// The empty trainingsdatum cell is not a sample.
	if counts[1] != 2 {
		t.Errorf("trainingsdatum samples = %d, want 2", counts[1])
	}
}

func TestGuessType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []string
		want    schema.FieldType
	}{
		{"empty defaults to string", nil, schema.TypeString},
		{"integers", []string{"1", "42", "-7"}, schema.TypeInteger},
		{"mixed numerics widen to decimal", []string{"1", "2.5"}, schema.TypeDecimal},
		{"dates", []string{"2025-05-01", "2025-05-02"}, schema.TypeDate},
		{"datetimes", []string{"2025-05-01T10:00:00Z"}, schema.TypeDatetime},
		{"clock times", []string{"09:30", "18:00:00"}, schema.TypeTime},
		{"dutch booleans", []string{"ja", "nee"}, schema.TypeBoolean},
		{"mixed falls back to string", []string{"1", "x"}, schema.TypeString},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := guessType(tt.samples); got != tt.want {
				t.Errorf("guessType(%v) = %s, want %s", tt.samples, got, tt.want)
			}
		})
	}
}
