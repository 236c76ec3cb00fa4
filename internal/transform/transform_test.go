package transform

import (
	"errors"
	"testing"
	"time"

	"gymsync/internal/schema"
	"gymsync/pkg/records"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testTransformer() Transformer {
	return Transformer{Now: func() time.Time { return fixedNow }}
}

func TestTransformMapsAndStamps(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Abonnementen",
		Keys: []string{"AbonnementId"},
		Fields: []schema.FieldMapping{
			{Path: "id", Column: "AbonnementId", Type: schema.TypeString, Required: true},
			{Path: "paymentType", Column: "BetalingsType", Type: schema.TypeString,
				Map: map[string]string{"PERIODIC": "Periodiek", "ONCE": "Eenmalig"}},
			{Path: "amount", Column: "Bedrag", Type: schema.TypeDecimal},
			{Path: "currency", Column: "Valuta", Type: schema.TypeString, Default: "EUR"},
			{Path: "$now", Column: "DatumLaatsteUpdate", Type: schema.TypeDatetime},
		},
	}
	raw := records.Record{
		"id":          "m1",
		"paymentType": "PERIODIC",
		"amount":      29.95,
	}

	row, err := testTransformer().Transform(spec, raw)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if row["BetalingsType"] != "Periodiek" {
		t.Errorf("BetalingsType = %v, want Periodiek", row["BetalingsType"])
	}
	if row["Bedrag"] != 29.95 {
		t.Errorf("Bedrag = %v, want 29.95", row["Bedrag"])
	}
	if row["Valuta"] != "EUR" {
		t.Errorf("absent currency should default to EUR, got %v", row["Valuta"])
	}
	if got, ok := row["DatumLaatsteUpdate"].(time.Time); !ok || !got.Equal(fixedNow) {
		t.Errorf("DatumLaatsteUpdate = %v, want %v", row["DatumLaatsteUpdate"], fixedNow)
	}
	// Unmapped values pass through untouched.
	raw["paymentType"] = "UNKNOWN_KIND"
	row, _ = testTransformer().Transform(spec, raw)
	if row["BetalingsType"] != "UNKNOWN_KIND" {
		t.Errorf("unmapped value = %v, want pass-through", row["BetalingsType"])
	}
}

func TestTransformZeroValuesForAbsentOptionals(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Leden",
		Fields: []schema.FieldMapping{
			{Path: "name", Column: "Naam", Type: schema.TypeString},
			{Path: "visits", Column: "Bezoeken", Type: schema.TypeInteger},
			{Path: "balance", Column: "Saldo", Type: schema.TypeDecimal},
			{Path: "active", Column: "Actief", Type: schema.TypeBoolean},
			{Path: "tags", Column: "Labels", Type: schema.TypeJSONArray},
			{Path: "seenAt", Column: "GezienOp", Type: schema.TypeDatetime},
		},
	}

	row, err := testTransformer().Transform(spec, records.Record{})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if row["Naam"] != "" || row["Bezoeken"] != int64(0) || row["Saldo"] != float64(0) || row["Actief"] != false {
		t.Errorf("zero values wrong: %v", row)
	}
	if row["Labels"] != "[]" {
		t.Errorf("Labels = %v, want []", row["Labels"])
	}
	if row["GezienOp"] != nil {
		t.Errorf("optional datetime = %v, want nil", row["GezienOp"])
	}
}

func TestTransformDatetimeZEqualsOffset(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Lessen",
		Fields: []schema.FieldMapping{
			{Path: "startAt", Column: "StartOp", Type: schema.TypeDatetime, Required: true},
		},
	}

	rowZ, err := testTransformer().Transform(spec, records.Record{"startAt": "2024-03-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("Transform(Z) error = %v", err)
	}
	rowOff, err := testTransformer().Transform(spec, records.Record{"startAt": "2024-03-01T10:00:00+00:00"})
	if err != nil {
		t.Fatalf("Transform(+00:00) error = %v", err)
	}
	if !rowZ["StartOp"].(time.Time).Equal(rowOff["StartOp"].(time.Time)) {
		t.Errorf("Z and +00:00 differ: %v vs %v", rowZ["StartOp"], rowOff["StartOp"])
	}
}

func TestTransformRequiredDatetimeMissing(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Lessen",
		Fields: []schema.FieldMapping{
			{Path: "startAt", Column: "StartOp", Type: schema.TypeDatetime, Required: true},
		},
	}
	_, err := testTransformer().Transform(spec, records.Record{})
	var te *TransformError
	if !errors.As(err, &te) || te.Kind != KindRequiredMissing {
		t.Fatalf("error = %v, want required_field_missing", err)
	}
}

func TestTransformStrictDate(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "Omzet",
		Fields: []schema.FieldMapping{
			{Path: "date", Column: "Datum", Type: schema.TypeDate, Required: true},
		},
	}

	row, err := testTransformer().Transform(spec, records.Record{"date": "2025-05-31"})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	want := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	if !row["Datum"].(time.Time).Equal(want) {
		t.Errorf("Datum = %v, want %v", row["Datum"], want)
	}

	// dd-mm-yyyy must be rejected, not mis-parsed.
	_, err = testTransformer().Transform(spec, records.Record{"date": "31-05-2025"})
	var te *TransformError
	if !errors.As(err, &te) || te.Kind != KindBadFormat {
		t.Fatalf("error = %v, want bad_format", err)
	}
}

func TestTransformDisplayDateFormat(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name: "AbonnementStatistieken",
		Fields: []schema.FieldMapping{
			{Path: "date", Column: "DatumWeergave", Type: schema.TypeString, Format: "02-01-2006"},
		},
	}
	row, err := testTransformer().Transform(spec, records.Record{"date": "2025-05-31"})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if row["DatumWeergave"] != "31-05-2025" {
		t.Errorf("DatumWeergave = %v, want 31-05-2025", row["DatumWeergave"])
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	rec := records.Record{
		"payout": map[string]any{
			"summary": map[string]any{"totalNetAmount": 123.45},
		},
		"instructors": []any{
			map[string]any{"name": "Anna"},
			map[string]any{"name": "Bram"},
		},
	}

	if v := Resolve(rec, "payout.summary.totalNetAmount"); v.Missing() || v.Raw != 123.45 {
		t.Errorf("nested path = %+v", v)
	}
	if v := Resolve(rec, "instructors[1].name"); v.Missing() || v.Raw != "Bram" {
		t.Errorf("indexed path = %+v", v)
	}
	if v := Resolve(rec, "instructors[5].name"); !v.Missing() {
		t.Errorf("out-of-range index should be absent, got %+v", v)
	}
	if v := Resolve(rec, "payout.missing.deeper"); !v.Missing() {
		t.Errorf("missing intermediate should be absent, got %+v", v)
	}
}
