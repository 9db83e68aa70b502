package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"rendiciones-service/internal/clients"
	"rendiciones-service/internal/fingerprint"
	"rendiciones-service/internal/matching"
	"rendiciones-service/internal/models"
	"rendiciones-service/internal/normalize"
	"rendiciones-service/internal/patching"
	"rendiciones-service/internal/plan"
	"rendiciones-service/internal/repositories"
)

// Docflow is the slice of the extraction service the pipeline needs.
type Docflow interface {
	ProcessStatement(ctx context.Context, req *clients.StatementRequest) (*models.StatementData, error)
	ProcessReceiptsBatch(ctx context.Context, req *clients.ReceiptsBatchRequest) ([]json.RawMessage, error)
	Normalize(ctx context.Context, req *clients.NormalizeRequest) ([]clients.NormalizeResponseItem, error)
}

// RendicionService runs the reconciliation pipeline: fingerprints, statement
// plan, incremental receipt normalization, batched extraction, matching and
// patch application, with durable state checkpoints between stages.
type RendicionService struct {
	stateRepo repositories.StateRepository
	auditRepo repositories.AuditRepository
	docflow   Docflow
	batchSize int
	cacheTTL  time.Duration
}

func NewRendicionService(
	stateRepo repositories.StateRepository,
	auditRepo repositories.AuditRepository,
	docflow Docflow,
	batchSize int,
	cacheTTL time.Duration,
) *RendicionService {
	if batchSize <= 0 {
		batchSize = 8
	}
	return &RendicionService{
		stateRepo: stateRepo,
		auditRepo: auditRepo,
		docflow:   docflow,
		batchSize: batchSize,
		cacheTTL:  cacheTTL,
	}
}

// RunInput is the full request for one pipeline run. File listings arrive
// from the caller and are re-sorted deterministically before fingerprinting.
type RunInput struct {
	User          string            `json:"user"`
	Year          int               `json:"year"`
	Month         int               `json:"month"`
	Mode          string            `json:"mode"`
	StatementFile *models.FileInfo  `json:"statement_file,omitempty"`
	ReceiptFiles  []models.FileInfo `json:"receipt_files"`
}

// RunResult is the pipeline's complete outbound contract. OK false means the
// run stopped on invalid input; collaborator failures surface as errors
// instead.
type RunResult struct {
	OK              bool                           `json:"ok"`
	Message         string                         `json:"message"`
	RendicionID     string                         `json:"rendicion_id"`
	Mode            string                         `json:"mode"`
	ResetNotice     string                         `json:"reset_notice,omitempty"`
	Rows            []*models.BaseRow              `json:"rows,omitempty"`
	LineToSheetRow  map[int]int                    `json:"line_to_sheet_row,omitempty"`
	Reductions      []models.ReductionAudit        `json:"reductions,omitempty"`
	RowPatches      map[int]map[string]interface{} `json:"row_patches,omitempty"`
	Orphans         []models.Orphan                `json:"orphans,omitempty"`
	Conflicts       []models.Conflict              `json:"conflicts,omitempty"`
	FieldConflicts  []models.FieldConflict         `json:"field_conflicts,omitempty"`
	OrderedReceipts []models.ReceiptRecord         `json:"ordered_receipts,omitempty"`
	Summary         map[string]interface{}         `json:"summary"`
}

// BuildRendicionID derives the stable per-user-per-period identity.
func BuildRendicionID(user string, year, month int) string {
	return fmt.Sprintf("%d_%02d_%s", year, month, user)
}

// Run executes one full reconciliation for the given period.
func (s *RendicionService) Run(ctx context.Context, input *RunInput) (*RunResult, error) {
	switch input.Mode {
	case models.ModeCard:
		return s.runCard(ctx, input)
	case models.ModeCash:
		return s.runCash(ctx, input)
	}
	return &RunResult{OK: false, Message: fmt.Sprintf("Modo inválido: %s", input.Mode)}, nil
}

func (s *RendicionService) runCard(ctx context.Context, input *RunInput) (*RunResult, error) {
	rendicionID := BuildRendicionID(input.User, input.Year, input.Month)
	result := &RunResult{RendicionID: rendicionID, Mode: models.ModeCard}

	if input.StatementFile == nil {
		result.Message = "No hay archivo de estado de cuenta."
		return result, nil
	}

	receiptFiles := sortFiles(input.ReceiptFiles)
	statementFp := fingerprint.Statement(input.StatementFile)
	receiptsFp := fingerprint.Receipts(receiptFiles)

	st, err := s.stateRepo.GetJobState(rendicionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job state: %v", err)
	}
	if st == nil {
		st = &models.JobState{RendicionID: rendicionID}
	}

	// A new statement invalidates every row position and assignment.
	if st.StatementFingerprint != "" && st.StatementFingerprint != statementFp {
		if err := s.stateRepo.EvictCache(rendicionID); err != nil {
			return nil, fmt.Errorf("failed to evict cache: %v", err)
		}
		st = &models.JobState{RendicionID: rendicionID, Version: st.Version}
		result.ResetNotice = "Cambió el estado de cuenta, se reinicia la rendición."
	}

	st.Mode = models.ModeCard
	st.StatementFingerprint = statementFp
	st.ReceiptsFingerprint = receiptsFp
	st.LastRunAt = time.Now().UTC()
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to checkpoint job state: %w", err)
	}

	statementData, err := s.processStatement(ctx, st, input.StatementFile, statementFp)
	if err != nil {
		return nil, err
	}

	planRes, err := plan.BuildRowsPlan(statementData)
	if err == plan.ErrEmptyStatement {
		result.Message = "No se pudieron extraer líneas del estado de cuenta."
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	st.LastStatement = statementData
	st.LastStatementFile = input.StatementFile
	st.LineToSheetRow = planRes.LineToSheetRow
	st.Reductions = planRes.Reductions
	st.BaseRowCount = len(planRes.Rows)
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to checkpoint statement plan: %w", err)
	}

	normalized, err := s.normalizeReceipts(ctx, st, models.ModeCard, receiptFiles)
	if err != nil {
		return nil, err
	}

	assignment, err := s.reconcile(ctx, st, statementData, normalized, statementFp, receiptsFp)
	if err != nil {
		return nil, err
	}

	applyRes := patching.Apply(planRes.Rows, assignment.RowPatches, assignment.RowStatus)

	st.AssignedBySheetRow = assignment.AssignedBySheetRow
	st.OrphansSummary = assignment.Orphans
	st.ConflictsSummary = assignment.Conflicts
	st.FieldConflicts = applyRes.FieldConflicts
	st.OrderList = assignment.OrderList
	st.LastRunAt = time.Now().UTC()
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to persist final state: %w", err)
	}

	result.OK = true
	result.Rows = planRes.Rows
	result.LineToSheetRow = planRes.LineToSheetRow
	result.Reductions = planRes.Reductions
	result.RowPatches = assignment.RowPatches
	result.Orphans = assignment.Orphans
	result.Conflicts = assignment.Conflicts
	result.FieldConflicts = applyRes.FieldConflicts
	result.Summary = map[string]interface{}{
		"base_rows":       len(planRes.Rows),
		"receipts":        len(normalized),
		"matched_rows":    len(assignment.AssignedBySheetRow),
		"orphans":         len(assignment.Orphans),
		"conflicts":       len(assignment.Conflicts),
		"field_conflicts": len(applyRes.FieldConflicts),
	}
	result.Message = fmt.Sprintf("Base: %d filas. Comprobantes: %d. Orphans: %d, Conflicts: %d.",
		len(planRes.Rows), len(normalized), len(assignment.Orphans), len(assignment.Conflicts))
	if result.ResetNotice != "" {
		result.Message = result.ResetNotice + " " + result.Message
	}

	s.audit(rendicionID, models.AuditStageFinal, result.Summary)
	return result, nil
}

func (s *RendicionService) runCash(ctx context.Context, input *RunInput) (*RunResult, error) {
	rendicionID := BuildRendicionID(input.User, input.Year, input.Month)
	result := &RunResult{RendicionID: rendicionID, Mode: models.ModeCash}

	receiptFiles := sortFiles(input.ReceiptFiles)
	if len(receiptFiles) == 0 {
		result.Message = "No hay archivos en la carpeta."
		return result, nil
	}

	st, err := s.stateRepo.GetJobState(rendicionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job state: %v", err)
	}
	if st == nil {
		st = &models.JobState{RendicionID: rendicionID}
	}
	st.Mode = models.ModeCash
	st.ReceiptsFingerprint = fingerprint.Receipts(receiptFiles)
	st.LastRunAt = time.Now().UTC()
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to checkpoint job state: %w", err)
	}

	normalized, err := s.normalizeReceipts(ctx, st, models.ModeCash, receiptFiles)
	if err != nil {
		return nil, err
	}

	rows, err := s.extractReceipts(ctx, st, nil, normalized)
	if err != nil {
		return nil, err
	}
	records := normalize.SortByInvoiceDate(normalize.Flatten(rows))

	st.OrderList = normalize.BuildOrderList(records)
	st.LastRunAt = time.Now().UTC()
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to persist final state: %w", err)
	}

	result.OK = true
	result.OrderedReceipts = records
	result.Summary = map[string]interface{}{
		"receipts": len(records),
	}
	result.Message = fmt.Sprintf("Comprobantes detectados: %d.", len(records))

	s.audit(rendicionID, models.AuditStageFinal, result.Summary)
	return result, nil
}

// processStatement resolves the parsed statement: cache, then the previous
// state, then the parser service.
func (s *RendicionService) processStatement(ctx context.Context, st *models.JobState, file *models.FileInfo, statementFp string) (*models.StatementData, error) {
	cacheKey := fingerprint.StatementCacheKey(statementFp)
	cached := &models.StatementData{}
	if hit, err := s.stateRepo.CacheGet(cacheKey, cached); err == nil && hit {
		return cached, nil
	}
	if st.StatementFingerprint == statementFp && st.LastStatement != nil {
		return st.LastStatement, nil
	}

	data, err := s.docflow.ProcessStatement(ctx, &clients.StatementRequest{
		RendicionID: st.RendicionID,
		Statement: clients.StatementRef{
			FileID: file.ID,
			URI:    file.URI,
			Mime:   file.Mime,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.stateRepo.CachePut(st.RendicionID, cacheKey, data, s.cacheTTL); err != nil {
		log.Printf("cache: statement put failed: %v", err)
	}
	s.audit(st.RendicionID, models.AuditStageStatement, map[string]interface{}{
		"transactions": len(data.Transacciones),
	})
	return data, nil
}

// normalizeReceipts keeps the per-mode normalized list in sync with the
// current folder listing: only added files are sent out, removed files drop
// from the merged list, and an unchanged set short-circuits entirely.
func (s *RendicionService) normalizeReceipts(ctx context.Context, st *models.JobState, mode string, files []models.FileInfo) ([]models.NormalizedItem, error) {
	prev := st.NormalizedByMode[mode]
	prevIDs := make(map[string]bool, len(prev))
	for _, it := range prev {
		if it.FileID != "" {
			prevIDs[it.FileID] = true
		}
	}
	currentIDs := make(map[string]bool, len(files))
	var added []models.FileInfo
	for _, f := range files {
		currentIDs[f.ID] = true
		if !prevIDs[f.ID] {
			added = append(added, f)
		}
	}
	var removed []string
	for _, it := range prev {
		if it.FileID != "" && !currentIDs[it.FileID] {
			removed = append(removed, it.FileID)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(prev) > 0 {
		return prev, nil
	}

	remaining := make([]models.NormalizedItem, 0, len(prev))
	for _, it := range prev {
		if it.FileID == "" || currentIDs[it.FileID] {
			remaining = append(remaining, it)
		}
	}

	merged := remaining
	if len(added) > 0 {
		ids := make([]string, 0, len(added))
		nameToID := make(map[string]string, len(added))
		for _, f := range added {
			ids = append(ids, f.ID)
			nameToID[f.Name] = f.ID
		}
		items, err := s.docflow.Normalize(ctx, &clients.NormalizeRequest{
			RendicionID: st.RendicionID,
			FileIDs:     ids,
		})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.Normalized.URI == "" {
				continue
			}
			fileID := it.Source.FileID
			if fileID == "" {
				fileID = nameToID[it.Source.OriginalName]
			}
			merged = append(merged, models.NormalizedItem{
				URI:          it.Normalized.URI,
				Mime:         it.Normalized.Mime,
				OriginalName: it.Source.OriginalName,
				FileID:       fileID,
			})
		}
	}

	// Indices reflect the merged order, so they stay unique across
	// incremental runs that drop or add files.
	for i := range merged {
		merged[i].NormalizedIndex = fmt.Sprintf("%04d", i)
	}

	if st.NormalizedByMode == nil {
		st.NormalizedByMode = make(map[string][]models.NormalizedItem)
	}
	st.NormalizedByMode[mode] = merged
	if err := s.stateRepo.SetJobState(st); err != nil {
		return nil, fmt.Errorf("failed to checkpoint normalized items: %w", err)
	}
	s.audit(st.RendicionID, models.AuditStageNormalize, map[string]interface{}{
		"added":   len(added),
		"removed": len(removed),
		"total":   len(merged),
	})
	return merged, nil
}

// reconcile returns the assignment for the current inputs, reusing the cached
// result while both fingerprints are unchanged.
func (s *RendicionService) reconcile(ctx context.Context, st *models.JobState, statementData *models.StatementData, normalized []models.NormalizedItem, statementFp, receiptsFp string) (*models.Assignment, error) {
	cacheKey := fingerprint.ReceiptsCacheKey(statementFp, receiptsFp)
	cached := &models.Assignment{}
	if hit, err := s.stateRepo.CacheGet(cacheKey, cached); err == nil && hit {
		return cached, nil
	}

	if len(normalized) == 0 {
		return &models.Assignment{
			AssignedBySheetRow: map[int]string{},
			RowPatches:         map[int]map[string]interface{}{},
			RowStatus:          map[int]string{},
			Orphans:            []models.Orphan{},
			Conflicts:          []models.Conflict{},
		}, nil
	}

	rows, err := s.extractReceipts(ctx, st, statementData, normalized)
	if err != nil {
		return nil, err
	}
	records := normalize.Flatten(rows)

	engine := matching.NewMatchEngine(st.LineToSheetRow)
	assignment := engine.Assign(records)

	if err := s.stateRepo.CachePut(st.RendicionID, cacheKey, assignment, s.cacheTTL); err != nil {
		log.Printf("cache: assignment put failed: %v", err)
	}
	s.audit(st.RendicionID, models.AuditStageReconcile, map[string]interface{}{
		"records":   len(records),
		"orphans":   len(assignment.Orphans),
		"conflicts": len(assignment.Conflicts),
	})
	return assignment, nil
}

// extractReceipts calls the extraction service in fixed-size batches and
// aggregates the raw rows. Batch boundaries have no matching semantics.
func (s *RendicionService) extractReceipts(ctx context.Context, st *models.JobState, statementData *models.StatementData, normalized []models.NormalizedItem) ([]json.RawMessage, error) {
	receipts := make([]clients.ReceiptRef, 0, len(normalized))
	for _, it := range normalized {
		if it.URI == "" {
			continue
		}
		receipts = append(receipts, clients.ReceiptRef{URI: it.URI, Mime: it.Mime})
	}

	var statementCtx *clients.StatementContext
	if statementData != nil {
		statementCtx = &clients.StatementContext{Parsed: statementData}
	}

	var rows []json.RawMessage
	for start := 0; start < len(receipts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(receipts) {
			end = len(receipts)
		}
		batch, err := s.docflow.ProcessReceiptsBatch(ctx, &clients.ReceiptsBatchRequest{
			RendicionID: st.RendicionID,
			Mode:        st.Mode,
			Statement:   statementCtx,
			Receipts:    receipts[start:end],
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// Reset wipes the rendicion's durable state and every tracked cache entry.
func (s *RendicionService) Reset(rendicionID string) error {
	if err := s.stateRepo.EvictCache(rendicionID); err != nil {
		return fmt.Errorf("failed to evict cache: %v", err)
	}
	if err := s.stateRepo.DeleteJobState(rendicionID); err != nil {
		return fmt.Errorf("failed to delete job state: %v", err)
	}
	return nil
}

// GetState exposes the persisted JobState for inspection.
func (s *RendicionService) GetState(rendicionID string) (*models.JobState, error) {
	return s.stateRepo.GetJobState(rendicionID)
}

func (s *RendicionService) audit(rendicionID, stage string, details map[string]interface{}) {
	if s.auditRepo == nil {
		return
	}
	raw, _ := json.Marshal(details)
	err := s.auditRepo.CreateRunAudit(&models.RunAudit{
		RendicionID: rendicionID,
		Stage:       stage,
		Details:     raw,
	})
	if err != nil {
		log.Printf("audit: %s/%s write failed: %v", rendicionID, stage, err)
	}
}

// sortFiles enforces the deterministic listing order fingerprinting and
// processing depend on: by name, created time breaking ties.
func sortFiles(files []models.FileInfo) []models.FileInfo {
	out := make([]models.FileInfo, len(files))
	copy(out, files)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Created < out[j].Created
	})
	return out
}
