package fingerprint

import (
	"testing"

	"rendiciones-service/internal/models"
)

func TestStatementFingerprint(t *testing.T) {
	file := &models.FileInfo{ID: "abc", Updated: 1700000000000, Size: 2048}
	got := Statement(file)
	want := "abc:1700000000000:2048"
	if got != want {
		t.Fatalf("Statement got=%q want=%q", got, want)
	}

	if got := Statement(nil); got != "" {
		t.Fatalf("Statement(nil) got=%q want empty", got)
	}
}

func TestReceiptsFingerprintOrderIndependent(t *testing.T) {
	a := models.FileInfo{ID: "a", Updated: 1, Size: 10}
	b := models.FileInfo{ID: "b", Updated: 2, Size: 20}
	c := models.FileInfo{ID: "c", Updated: 3, Size: 30}

	fp1 := Receipts([]models.FileInfo{a, b, c})
	fp2 := Receipts([]models.FileInfo{c, a, b})
	if fp1 != fp2 {
		t.Fatalf("fingerprint depends on enumeration order: %q vs %q", fp1, fp2)
	}
}

func TestReceiptsFingerprintChangesWithUpdated(t *testing.T) {
	a := models.FileInfo{ID: "a", Updated: 1, Size: 10}
	before := Receipts([]models.FileInfo{a})

	a.Updated = 2
	after := Receipts([]models.FileInfo{a})
	if before == after {
		t.Fatalf("fingerprint did not change after updated timestamp changed")
	}
}

func TestReceiptsFingerprintEmptySet(t *testing.T) {
	if got := Receipts(nil); got != EmptyReceipts {
		t.Fatalf("Receipts(nil) got=%q want=%q", got, EmptyReceipts)
	}
	if got := Receipts([]models.FileInfo{}); got != EmptyReceipts {
		t.Fatalf("Receipts(empty) got=%q want=%q", got, EmptyReceipts)
	}
}

func TestCacheKeys(t *testing.T) {
	if got := ReceiptsCacheKey("", "receipts:x"); got != "" {
		t.Fatalf("ReceiptsCacheKey with empty statement fingerprint got=%q want empty", got)
	}
	if got := ReceiptsCacheKey("s", ""); got != "" {
		t.Fatalf("ReceiptsCacheKey with empty receipts fingerprint got=%q want empty", got)
	}
	if got := ReceiptsCacheKey("s", "r"); got != "REN_RECEIPTS_s_r" {
		t.Fatalf("ReceiptsCacheKey got=%q want=%q", got, "REN_RECEIPTS_s_r")
	}
	if got := StatementCacheKey("s"); got != "REN_STATEMENT_s" {
		t.Fatalf("StatementCacheKey got=%q want=%q", got, "REN_STATEMENT_s")
	}
}
