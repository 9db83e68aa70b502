package repositories

import (
	"strings"
	"testing"
	"time"

	"rendiciones-service/internal/models"
)

func TestMemoryJobStateVersioning(t *testing.T) {
	repo := NewMemoryStateRepository(0)

	st := &models.JobState{RendicionID: "2025_03_ana", Mode: models.ModeCard}
	if err := repo.SetJobState(st); err != nil {
		t.Fatalf("first save err=%v", err)
	}
	if st.Version != 1 {
		t.Fatalf("version after first save got=%d want=1", st.Version)
	}

	loaded, err := repo.GetJobState("2025_03_ana")
	if err != nil {
		t.Fatalf("get err=%v", err)
	}
	if loaded == nil || loaded.Version != 1 || loaded.Mode != models.ModeCard {
		t.Fatalf("loaded got=%+v", loaded)
	}

	// A writer holding the old version loses.
	stale := &models.JobState{RendicionID: "2025_03_ana", Version: 0}
	if err := repo.SetJobState(stale); err != ErrStaleState {
		t.Fatalf("stale save err=%v want=%v", err, ErrStaleState)
	}

	loaded.StatementFingerprint = "abc:1:2"
	if err := repo.SetJobState(loaded); err != nil {
		t.Fatalf("second save err=%v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("version after second save got=%d want=2", loaded.Version)
	}
}

func TestMemoryGetJobStateMissing(t *testing.T) {
	repo := NewMemoryStateRepository(0)

	st, err := repo.GetJobState("2025_03_nadie")
	if err != nil {
		t.Fatalf("get err=%v", err)
	}
	if st != nil {
		t.Fatalf("missing state got=%+v want=nil", st)
	}
}

func TestMemoryCacheRoundTripAndTTL(t *testing.T) {
	repo := NewMemoryStateRepository(0)

	value := map[string]string{"hola": "mundo"}
	if err := repo.CachePut("2025_03_ana", "REN_STATEMENT_x", value, time.Minute); err != nil {
		t.Fatalf("put err=%v", err)
	}

	var got map[string]string
	hit, err := repo.CacheGet("REN_STATEMENT_x", &got)
	if err != nil || !hit {
		t.Fatalf("get hit=%v err=%v", hit, err)
	}
	if got["hola"] != "mundo" {
		t.Fatalf("value got=%v", got)
	}

	// Expired entries behave as misses.
	if err := repo.CachePut("2025_03_ana", "REN_STATEMENT_old", value, -time.Second); err != nil {
		t.Fatalf("put err=%v", err)
	}
	hit, err = repo.CacheGet("REN_STATEMENT_old", &got)
	if err != nil {
		t.Fatalf("get err=%v", err)
	}
	if hit {
		t.Fatalf("expired entry got hit")
	}
}

func TestMemoryCacheSizeCap(t *testing.T) {
	repo := NewMemoryStateRepository(16)

	big := strings.Repeat("x", 64)
	if err := repo.CachePut("2025_03_ana", "REN_STATEMENT_big", big, time.Minute); err != nil {
		t.Fatalf("put err=%v", err)
	}

	var got string
	hit, err := repo.CacheGet("REN_STATEMENT_big", &got)
	if err != nil {
		t.Fatalf("get err=%v", err)
	}
	if hit {
		t.Fatalf("oversized entry got cached")
	}
}

func TestMemoryEvictCacheByJob(t *testing.T) {
	repo := NewMemoryStateRepository(0)

	if err := repo.CachePut("2025_03_ana", "REN_STATEMENT_a", "uno", time.Minute); err != nil {
		t.Fatalf("put err=%v", err)
	}
	if err := repo.CachePut("2025_03_ana", "REN_RECEIPTS_a_b", "dos", time.Minute); err != nil {
		t.Fatalf("put err=%v", err)
	}
	if err := repo.CachePut("2025_03_luis", "REN_STATEMENT_c", "tres", time.Minute); err != nil {
		t.Fatalf("put err=%v", err)
	}

	if err := repo.EvictCache("2025_03_ana"); err != nil {
		t.Fatalf("evict err=%v", err)
	}

	var got string
	for _, key := range []string{"REN_STATEMENT_a", "REN_RECEIPTS_a_b"} {
		hit, err := repo.CacheGet(key, &got)
		if err != nil {
			t.Fatalf("get %s err=%v", key, err)
		}
		if hit {
			t.Fatalf("key %s survived eviction", key)
		}
	}

	hit, err := repo.CacheGet("REN_STATEMENT_c", &got)
	if err != nil || !hit {
		t.Fatalf("other job's key hit=%v err=%v", hit, err)
	}
	if got != "tres" {
		t.Fatalf("other job's value got=%q want=%q", got, "tres")
	}
}
