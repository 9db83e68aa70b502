package normalize

import (
	"encoding/json"
	"testing"

	"rendiciones-service/internal/models"
)

func rows(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out
}

func TestFlattenWrapperShapes(t *testing.T) {
	records := Flatten(rows(
		`{"data":{"Proveedor":"Cafe"},"meta":{"docs":["drive_abc123.jpg"]}}`,
		`{"data":[{"Proveedor":"Hotel"},{"Proveedor":"Taxi"}],"meta":{"docs":["0002_scan.jpg"]}}`,
		`{"Proveedor":"Bare"}`,
	))

	if len(records) != 4 {
		t.Fatalf("records got=%d want=%d", len(records), 4)
	}
	if records[0].SourceKey != "abc123" {
		t.Fatalf("record 0 source got=%q want=%q", records[0].SourceKey, "abc123")
	}
	// The array payload fans out into one record per element, same provenance.
	if records[1].SourceKey != "0002_scan.jpg" || records[2].SourceKey != "0002_scan.jpg" {
		t.Fatalf("fan-out sources got=%q,%q", records[1].SourceKey, records[2].SourceKey)
	}
	if records[1].Fields["Proveedor"] != "Hotel" || records[2].Fields["Proveedor"] != "Taxi" {
		t.Fatalf("fan-out fields got=%v,%v", records[1].Fields, records[2].Fields)
	}
	if records[3].SourceKey != "" {
		t.Fatalf("bare record source got=%q want empty", records[3].SourceKey)
	}
}

func TestFlattenMatchIndexAliases(t *testing.T) {
	records := Flatten(rows(
		`{"data":{"Estado de cuenta":{"idx":3,"observacion":"ok"}},"meta":{"docs":["a.jpg"]}}`,
		`{"data":{"estado_cuenta":{"idx":"7"}},"meta":{"docs":["b.jpg"]}}`,
		`{"data":{"estadoCuenta":{"idx":"nope"}},"meta":{"docs":["c.jpg"]}}`,
		`{"data":{"Proveedor":"sin idx"},"meta":{"docs":["d.jpg"]}}`,
	))

	wants := []int{3, 7, 0, 0}
	for i, want := range wants {
		if records[i].MatchIndex != want {
			t.Fatalf("record %d match index got=%d want=%d", i, records[i].MatchIndex, want)
		}
	}
	if records[0].Observation != "ok" {
		t.Fatalf("observation got=%q want=%q", records[0].Observation, "ok")
	}
	// The statement reference never leaks into the field bag.
	for i, rec := range records {
		for _, key := range []string{"Estado de cuenta", "estado_cuenta", "estadoCuenta"} {
			if _, ok := rec.Fields[key]; ok {
				t.Fatalf("record %d leaked internal key %q", i, key)
			}
		}
	}
}

func TestFlattenWarningAliases(t *testing.T) {
	records := Flatten(rows(
		`{"data":{"Warnings":[{"campo":"Moneda","mensaje":"revisar"},{"field":"OC","message":"vacio"},"suelto"]},"meta":{"docs":["a.jpg"]}}`,
	))

	if len(records) != 1 {
		t.Fatalf("records got=%d want=1", len(records))
	}
	w := records[0].Warnings
	if len(w) != 3 {
		t.Fatalf("warnings got=%d want=3", len(w))
	}
	if w[0].Field != "Moneda" || w[0].Message != "revisar" {
		t.Fatalf("warning 0 got=%+v", w[0])
	}
	if w[1].Field != "OC" || w[1].Message != "vacio" {
		t.Fatalf("warning 1 got=%+v", w[1])
	}
	if w[2].Field != "" || w[2].Message != "suelto" {
		t.Fatalf("warning 2 got=%+v", w[2])
	}
	if _, ok := records[0].Fields["Warnings"]; ok {
		t.Fatalf("warnings leaked into field bag")
	}
}

func TestSourceKeyPriority(t *testing.T) {
	cases := []struct {
		docs []string
		want string
	}{
		{[]string{"inputs/drive_1AbC-9_x.png"}, "1AbC-9_x"},
		{[]string{"inputs/0007_receipt.jpg"}, "0007_receipt.jpg"},
		{[]string{"receipt.jpg"}, "receipt.jpg"},
		{[]string{"a/b/c/final.png"}, "final.png"},
		{nil, ""},
		{[]string{""}, ""},
	}
	for _, c := range cases {
		if got := SourceKey(c.docs); got != c.want {
			t.Fatalf("SourceKey(%v) got=%q want=%q", c.docs, got, c.want)
		}
	}
}

func TestSortByInvoiceDate(t *testing.T) {
	records := []models.ReceiptRecord{
		{SourceKey: "late", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-03-10"}},
		{SourceKey: "undated", Fields: map[string]interface{}{}},
		{SourceKey: "early", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-01-02"}},
		{SourceKey: "tie", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-01-02"}},
	}

	sorted := SortByInvoiceDate(records)
	keys := make([]string, len(sorted))
	for i, r := range sorted {
		keys[i] = r.SourceKey
	}
	want := []string{"early", "tie", "late", "undated"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("order got=%v want=%v", keys, want)
		}
	}
}

func TestBuildOrderListEarliestDateWins(t *testing.T) {
	records := []models.ReceiptRecord{
		{SourceKey: "b", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-02-01"}},
		{SourceKey: "a", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-03-01"}},
		{SourceKey: "a", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-01-15"}},
		{SourceKey: "", Fields: map[string]interface{}{models.FieldInvoiceDate: "2025-01-01"}},
	}

	got := BuildOrderList(records)
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("order list got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order list got=%v want=%v", got, want)
		}
	}
}
