package repositories

import (
	"database/sql"

	"rendiciones-service/internal/models"
)

// AuditRepository keeps the per-run audit trail.
type AuditRepository interface {
	CreateRunAudit(audit *models.RunAudit) error
	GetRunAudits(rendicionID string, limit int) ([]*models.RunAudit, error)
}

type auditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) CreateRunAudit(audit *models.RunAudit) error {
	query := `
		INSERT INTO run_audits (rendicion_id, stage, details)
		VALUES (?, ?, ?)
	`
	result, err := r.db.Exec(query,
		audit.RendicionID,
		audit.Stage,
		audit.Details,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	audit.ID = id
	return nil
}

func (r *auditRepository) GetRunAudits(rendicionID string, limit int) ([]*models.RunAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, rendicion_id, stage, details, created_at
		FROM run_audits
		WHERE rendicion_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, rendicionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*models.RunAudit
	for rows.Next() {
		a := &models.RunAudit{}
		if err := rows.Scan(&a.ID, &a.RendicionID, &a.Stage, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
