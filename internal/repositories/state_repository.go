package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"rendiciones-service/internal/models"
)

// ErrStaleState is returned when a job-state write loses the optimistic
// version check: another run finished between this run's read and write.
var ErrStaleState = errors.New("job state was modified by a concurrent run")

// StateRepository persists the per-rendicion JobState blob (whole-object
// replace, version-checked) and the TTL-bound cache of expensive
// intermediates. Cache writes above the configured size cap are silently
// skipped: the caller always has the uncached computation path.
type StateRepository interface {
	GetJobState(rendicionID string) (*models.JobState, error)
	SetJobState(st *models.JobState) error
	DeleteJobState(rendicionID string) error
	CacheGet(key string, out interface{}) (bool, error)
	CachePut(rendicionID, key string, value interface{}, ttl time.Duration) error
	EvictCache(rendicionID string) error
}

type stateRepository struct {
	db            *sql.DB
	cacheMaxBytes int64
}

func NewStateRepository(db *sql.DB, cacheMaxBytes int64) StateRepository {
	return &stateRepository{db: db, cacheMaxBytes: cacheMaxBytes}
}

func (r *stateRepository) GetJobState(rendicionID string) (*models.JobState, error) {
	var raw []byte
	var version int64
	query := `
		SELECT state, version
		FROM job_states
		WHERE rendicion_id = ?
	`
	err := r.db.QueryRow(query, rendicionID).Scan(&raw, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st := &models.JobState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	st.Version = version
	return st, nil
}

func (r *stateRepository) SetJobState(st *models.JobState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}

	if st.Version == 0 {
		query := `
			INSERT INTO job_states (rendicion_id, state, version)
			VALUES (?, ?, 1)
			ON DUPLICATE KEY UPDATE rendicion_id = rendicion_id
		`
		result, err := r.db.Exec(query, st.RendicionID, raw)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStaleState
		}
		st.Version = 1
		return nil
	}

	query := `
		UPDATE job_states
		SET state = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE rendicion_id = ? AND version = ?
	`
	result, err := r.db.Exec(query, raw, time.Now(), st.RendicionID, st.Version)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleState
	}
	st.Version++
	return nil
}

func (r *stateRepository) DeleteJobState(rendicionID string) error {
	_, err := r.db.Exec(`DELETE FROM job_states WHERE rendicion_id = ?`, rendicionID)
	return err
}

func (r *stateRepository) CacheGet(key string, out interface{}) (bool, error) {
	if key == "" {
		return false, nil
	}
	var raw []byte
	query := `
		SELECT value
		FROM cache_entries
		WHERE cache_key = ? AND expires_at > ?
	`
	err := r.db.QueryRow(query, key, time.Now()).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (r *stateRepository) CachePut(rendicionID, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if r.cacheMaxBytes > 0 && int64(len(raw)) > r.cacheMaxBytes {
		log.Printf("cache: skipping %s, value of %d bytes exceeds cap", key, len(raw))
		return nil
	}

	query := `
		INSERT INTO cache_entries (cache_key, rendicion_id, value, expires_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at)
	`
	_, err = r.db.Exec(query, key, rendicionID, raw, time.Now().Add(ttl))
	return err
}

func (r *stateRepository) EvictCache(rendicionID string) error {
	_, err := r.db.Exec(`DELETE FROM cache_entries WHERE rendicion_id = ?`, rendicionID)
	return err
}
