package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"rendiciones-service/internal/models"
)

// EmptyReceipts is the sentinel fingerprint for a zero-file receipt set, so
// "no files" is distinguishable from files with empty identity.
const EmptyReceipts = "receipts:empty"

// Statement derives the identity of a single statement file from cheap
// metadata only; no content hashing.
func Statement(file *models.FileInfo) string {
	if file == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", file.ID, file.Updated, file.Size)
}

// Receipts derives an order-independent identity for a set of receipt files.
func Receipts(files []models.FileInfo) string {
	digest := filesDigest(files)
	if digest == "" {
		return EmptyReceipts
	}
	return "receipts:" + digest
}

func filesDigest(files []models.FileInfo) string {
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", f.ID, f.Updated, f.Size))
	}
	sort.Strings(parts)
	raw := strings.Join(parts, "|")
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// StatementCacheKey keys the cached parsed statement.
func StatementCacheKey(statementFingerprint string) string {
	if statementFingerprint == "" {
		return ""
	}
	return "REN_STATEMENT_" + statementFingerprint
}

// ReceiptsCacheKey keys the cached reconciliation result. A hit is only valid
// while both fingerprints are unchanged, so both participate in the key.
func ReceiptsCacheKey(statementFingerprint, receiptsFingerprint string) string {
	if statementFingerprint == "" || receiptsFingerprint == "" {
		return ""
	}
	return "REN_RECEIPTS_" + statementFingerprint + "_" + receiptsFingerprint
}
