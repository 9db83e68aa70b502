package repositories

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"rendiciones-service/internal/models"
)

// memoryStateRepository is a process-local StateRepository with the same
// version-check and cache-cap semantics as the MySQL one. Used in tests and
// for running the service without a database.
type memoryStateRepository struct {
	mu            sync.Mutex
	states        map[string][]byte
	versions      map[string]int64
	cache         map[string]memoryCacheEntry
	keysByJob     map[string][]string
	cacheMaxBytes int64
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryStateRepository(cacheMaxBytes int64) StateRepository {
	return &memoryStateRepository{
		states:        make(map[string][]byte),
		versions:      make(map[string]int64),
		cache:         make(map[string]memoryCacheEntry),
		keysByJob:     make(map[string][]string),
		cacheMaxBytes: cacheMaxBytes,
	}
}

func (r *memoryStateRepository) GetJobState(rendicionID string) (*models.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok := r.states[rendicionID]
	if !ok {
		return nil, nil
	}
	st := &models.JobState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	st.Version = r.versions[rendicionID]
	return st, nil
}

func (r *memoryStateRepository) SetJobState(st *models.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.versions[st.RendicionID]
	if st.Version != current {
		return ErrStaleState
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	r.states[st.RendicionID] = raw
	r.versions[st.RendicionID] = current + 1
	st.Version = current + 1
	return nil
}

func (r *memoryStateRepository) DeleteJobState(rendicionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, rendicionID)
	delete(r.versions, rendicionID)
	return nil
}

func (r *memoryStateRepository) CacheGet(key string, out interface{}) (bool, error) {
	if key == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(entry.value, out); err != nil {
		return false, err
	}
	return true, nil
}

func (r *memoryStateRepository) CachePut(rendicionID, key string, value interface{}, ttl time.Duration) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache[key]; !exists {
		r.keysByJob[rendicionID] = append(r.keysByJob[rendicionID], key)
	}
	r.cache[key] = memoryCacheEntry{value: raw, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (r *memoryStateRepository) EvictCache(rendicionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.keysByJob[rendicionID] {
		delete(r.cache, key)
	}
	delete(r.keysByJob, rendicionID)
	return nil
}
