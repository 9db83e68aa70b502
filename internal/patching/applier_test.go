package patching

import (
	"testing"

	"rendiciones-service/internal/models"
)

func f(v float64) *float64 { return &v }

func TestApplyLockedFieldsNeverChange(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Amount: f(100), Currency: "UYU", Status: models.StatusMissing},
	}
	patches := map[int]map[string]interface{}{
		2: {
			models.FieldAmount:   250.0,
			models.FieldCurrency: "USD",
		},
	}

	res := Apply(rows, patches, nil)

	if *rows[0].Amount != 100 {
		t.Fatalf("amount got=%v want=%v", *rows[0].Amount, 100.0)
	}
	if rows[0].Currency != "UYU" {
		t.Fatalf("currency got=%q want=%q", rows[0].Currency, "UYU")
	}
	if len(res.FieldConflicts) != 0 {
		t.Fatalf("field conflicts got=%d want=0", len(res.FieldConflicts))
	}
}

func TestApplyManualFieldFillOnce(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Fields: map[string]interface{}{}},
		{Row: 3, Fields: map[string]interface{}{"OC": "OC-1"}},
	}
	patches := map[int]map[string]interface{}{
		2: {"OC": "OC-9"},
		3: {"OC": "OC-9"},
	}

	res := Apply(rows, patches, nil)

	if rows[0].Fields["OC"] != "OC-9" {
		t.Fatalf("empty OC got=%v want=%q", rows[0].Fields["OC"], "OC-9")
	}
	// A value already present is kept silently, no conflict.
	if rows[1].Fields["OC"] != "OC-1" {
		t.Fatalf("filled OC got=%v want=%q", rows[1].Fields["OC"], "OC-1")
	}
	if len(res.FieldConflicts) != 0 {
		t.Fatalf("field conflicts got=%d want=0", len(res.FieldConflicts))
	}
}

func TestApplyDisagreementBecomesConflict(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Provider: "Cafe Central", Fields: map[string]interface{}{}},
	}
	patches := map[int]map[string]interface{}{
		2: {models.FieldProvider: "Otro Proveedor"},
	}

	res := Apply(rows, patches, nil)

	if rows[0].Provider != "Cafe Central" {
		t.Fatalf("provider got=%q want=%q", rows[0].Provider, "Cafe Central")
	}
	if len(res.FieldConflicts) != 1 {
		t.Fatalf("field conflicts got=%d want=1", len(res.FieldConflicts))
	}
	fc := res.FieldConflicts[0]
	if fc.Row != 2 || fc.Field != models.FieldProvider {
		t.Fatalf("conflict got=%+v", fc)
	}
}

func TestApplyEquivalentValuesAreNoOps(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Provider: "Cafe", Fields: map[string]interface{}{"Total": 100.0}},
	}
	patches := map[int]map[string]interface{}{
		2: {
			models.FieldProvider: "  CAFE  ",
			"Total":              "100.005",
		},
	}

	res := Apply(rows, patches, nil)

	if len(res.FieldConflicts) != 0 {
		t.Fatalf("field conflicts got=%d want=0: %+v", len(res.FieldConflicts), res.FieldConflicts)
	}
	if rows[0].Provider != "Cafe" {
		t.Fatalf("provider got=%q want=%q", rows[0].Provider, "Cafe")
	}
}

func TestApplyStatusSticky(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Status: models.StatusConflict},
		{Row: 3, Status: models.StatusMissing},
	}
	status := map[int]string{2: models.StatusMatched, 3: models.StatusMatched}

	Apply(rows, nil, status)

	if rows[0].Status != models.StatusConflict {
		t.Fatalf("row 2 status got=%q want=%q", rows[0].Status, models.StatusConflict)
	}
	if rows[1].Status != models.StatusMatched {
		t.Fatalf("row 3 status got=%q want=%q", rows[1].Status, models.StatusMatched)
	}
}

func TestApplyIdempotent(t *testing.T) {
	rows := []*models.BaseRow{
		{Row: 2, Amount: f(100), Currency: "UYU", Fields: map[string]interface{}{}},
	}
	patches := map[int]map[string]interface{}{
		2: {
			models.FieldProvider: "Cafe",
			"OC":                 "OC-9",
			"Total":              100.0,
		},
	}
	status := map[int]string{2: models.StatusMatched}

	first := Apply(rows, patches, status)
	second := Apply(rows, patches, status)

	if len(first.FieldConflicts) != 0 {
		t.Fatalf("first pass conflicts got=%d want=0", len(first.FieldConflicts))
	}
	if len(second.FieldConflicts) != 0 {
		t.Fatalf("second pass conflicts got=%d want=0", len(second.FieldConflicts))
	}
	if rows[0].Provider != "Cafe" || rows[0].Fields["OC"] != "OC-9" {
		t.Fatalf("row after second pass got=%+v", rows[0])
	}
	if rows[0].Status != models.StatusMatched {
		t.Fatalf("status got=%q want=%q", rows[0].Status, models.StatusMatched)
	}
}
