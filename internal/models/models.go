package models

import (
	"encoding/json"
	"time"
)

// StatementTransaction is one line of the parsed bank/card statement, exactly as
// the docflow parser returns it. At most one of the importe fields is set.
type StatementTransaction struct {
	Fecha         string   `json:"fecha"`
	Detalle       string   `json:"detalle"`
	ImporteUYU    *float64 `json:"importe_uyu"`
	ImporteUSD    *float64 `json:"importe_usd"`
	ImporteOrigen *float64 `json:"importe_origen"`
	Moneda        string   `json:"moneda,omitempty"`
}

// StatementData is the payload of a successful process_statement call.
type StatementData struct {
	Transacciones []StatementTransaction `json:"transacciones"`
}

// Warning is a per-field advisory attached to a row or receipt record.
type Warning struct {
	Field   string `json:"campo"`
	Message string `json:"mensaje"`
}

// BaseRow is one reconciliation row derived from a statement line. Row is its
// 1-based position in the plan and never changes within a run. Amount and
// currency come from the statement and are authoritative; Fields holds values
// merged in from receipt patches.
type BaseRow struct {
	Row         int                    `json:"row"`
	InvoiceDate string                 `json:"fecha_factura"`
	Provider    string                 `json:"proveedor"`
	Amount      *float64               `json:"importe_rendir"`
	Currency    string                 `json:"moneda"`
	Discounts   float64                `json:"descuentos"`
	Status      string                 `json:"status"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Warnings    []Warning              `json:"warnings,omitempty"`
}

// ReductionAudit records how a reduction statement line was folded into the
// plan. AppliedTo is 0 when the line had no preceding row (Orphan is then true).
type ReductionAudit struct {
	LineIndex int     `json:"line_index"`
	AppliedTo int     `json:"applied_to,omitempty"`
	Amount    float64 `json:"amount"`
	Detail    string  `json:"detail"`
	Orphan    bool    `json:"orphan,omitempty"`
}

// ReceiptRecord is one flattened, canonicalized extraction result. Fields only
// ever contains canonical names; alias resolution happens at the normalize
// boundary. MatchIndex is the 1-based statement line the extraction claims, 0
// when absent or non-numeric.
type ReceiptRecord struct {
	SourceKey   string                 `json:"source"`
	MatchIndex  int                    `json:"match_index"`
	Observation string                 `json:"observacion,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
	Warnings    []Warning              `json:"warnings,omitempty"`
	DocNames    []string               `json:"doc_names,omitempty"`
}

// Orphan is a receipt record that could not be attached to any statement line.
type Orphan struct {
	Source      string                 `json:"source"`
	MatchIndex  int                    `json:"match_index,omitempty"`
	Observation string                 `json:"observacion,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
}

// Conflict records a second receipt claiming an already-assigned row.
type Conflict struct {
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	MatchIndex int                    `json:"match_index"`
	TargetRow  int                    `json:"target_row"`
	Fields     map[string]interface{} `json:"fields"`
}

// FieldConflict records a disagreement between a stored row value and an
// incoming patch value. The stored value always wins; the conflict is surfaced
// for human review.
type FieldConflict struct {
	Row      int         `json:"row"`
	Field    string      `json:"field"`
	Existing interface{} `json:"existing"`
	Incoming interface{} `json:"incoming"`
}

// Assignment is the full output of one reconciliation pass.
type Assignment struct {
	AssignedBySheetRow map[int]string                 `json:"assigned_by_sheet_row"`
	RowPatches         map[int]map[string]interface{} `json:"row_patches"`
	RowStatus          map[int]string                 `json:"row_status"`
	Orphans            []Orphan                       `json:"orphans"`
	Conflicts          []Conflict                     `json:"conflicts"`
	OrderList          []string                       `json:"order_list,omitempty"`
}

// FileInfo describes one file from the listing collaborator. Updated and
// Created are unix millisecond timestamps, matching what the lister reports.
type FileInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Mime    string `json:"mime,omitempty"`
	URI     string `json:"uri,omitempty"`
}

// NormalizedItem is one receipt file after docflow normalization, ready for
// extraction. NormalizedIndex is a zero-padded position used as an ordering
// fallback when no other identity exists.
type NormalizedItem struct {
	URI             string `json:"uri"`
	Mime            string `json:"mime,omitempty"`
	NormalizedIndex string `json:"normalized_index,omitempty"`
	OriginalName    string `json:"original_name,omitempty"`
	FileID          string `json:"file_id,omitempty"`
}

// JobState is the durable per-rendicion record. It is read at the start of a
// run and written back whole at stage checkpoints; Version implements the
// optimistic check that rejects interleaved writers.
type JobState struct {
	RendicionID          string                      `json:"rendicion_id"`
	Mode                 string                      `json:"mode"`
	Version              int64                       `json:"version"`
	StatementFingerprint string                      `json:"statement_fingerprint,omitempty"`
	ReceiptsFingerprint  string                      `json:"receipts_fingerprint,omitempty"`
	BaseRowCount         int                         `json:"base_row_count,omitempty"`
	LineToSheetRow       map[int]int                 `json:"line_to_sheet_row,omitempty"`
	LastStatement        *StatementData              `json:"last_statement,omitempty"`
	LastStatementFile    *FileInfo                   `json:"last_statement_file,omitempty"`
	Reductions           []ReductionAudit            `json:"reductions,omitempty"`
	NormalizedByMode     map[string][]NormalizedItem `json:"normalized_by_mode,omitempty"`
	AssignedBySheetRow   map[int]string              `json:"assigned_by_sheet_row,omitempty"`
	OrphansSummary       []Orphan                    `json:"orphans_summary,omitempty"`
	ConflictsSummary     []Conflict                  `json:"conflicts_summary,omitempty"`
	FieldConflicts       []FieldConflict             `json:"field_conflicts,omitempty"`
	OrderList            []string                    `json:"order_list,omitempty"`
	LastRunAt            time.Time                   `json:"last_run_at,omitempty"`
}

// RunAudit is one persisted audit record for a pipeline run.
type RunAudit struct {
	ID          int64           `json:"id"`
	RendicionID string          `json:"rendicion_id"`
	Stage       string          `json:"stage"`
	Details     json.RawMessage `json:"details"`
	CreatedAt   time.Time       `json:"-"`
}

// Row status constants
const (
	StatusMissing  = "MISSING"
	StatusMatched  = "MATCHED"
	StatusConflict = "CONFLICT"
)

// Rendicion modes
const (
	ModeCash = "efectivo"
	ModeCard = "tarjeta"
)

// Conflict types
const (
	ConflictDuplicateMatch = "duplicate_match"
)

// Audit stages
const (
	AuditStageStatement = "statement"
	AuditStageNormalize = "normalize"
	AuditStageReconcile = "reconcile"
	AuditStageFinal     = "final"
)

// Field names shared across plan, matching and patching. The statement-sourced
// fields are locked; the manual fields belong to the human filling the sheet.
const (
	FieldInvoiceDate = "Fecha de factura"
	FieldProvider    = "Proveedor"
	FieldAmount      = "Importe a rendir"
	FieldCurrency    = "Moneda"
	FieldDiscounts   = "Descuentos"
	FieldOC          = "OC"
	FieldExpenseKind = "Imputación gasto"
)

// LockedFields are statement-authoritative and never overwritten by patches.
var LockedFields = []string{FieldAmount, FieldCurrency}

// ManualFields are filled by automation only while empty.
var ManualFields = []string{FieldOC, FieldExpenseKind}
