package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"riskengine/pkg/models"
)

// MemoryStore is an in-process ResultStore with the same idempotence and
// window semantics as the Redis adapter. It backs offline replay runs
// and tests.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]models.EvaluationResult
	byKey map[string][]models.EvaluationResult
	limit int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(queryLimit int) *MemoryStore {
	if queryLimit <= 0 {
		queryLimit = 1000
	}
	return &MemoryStore{
		byID:  make(map[string]models.EvaluationResult),
		byKey: make(map[string][]models.EvaluationResult),
		limit: queryLimit,
	}
}

// Put stores a result; a second call with the same identity is a no-op.
func (s *MemoryStore) Put(ctx context.Context, result *models.EvaluationResult) error {
	if result == nil || result.EntityID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := identityKey(result)
	if _, exists := s.byID[id]; exists {
		return nil
	}
	s.byID[id] = *result

	if result.EntityKey != "" {
		k := windowMapKey(result.EntityType, result.EntityKey)
		s.byKey[k] = append(s.byKey[k], *result)
		sort.SliceStable(s.byKey[k], func(i, j int) bool {
			return s.byKey[k][i].ObservedAt.Before(s.byKey[k][j].ObservedAt)
		})
	}
	return nil
}

// QueryWindow returns results observed inside (from, to), ascending.
func (s *MemoryStore) QueryWindow(ctx context.Context, entityType models.EntityType, key string, from, to time.Time) ([]models.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.EvaluationResult
	for _, r := range s.byKey[windowMapKey(entityType, key)] {
		if !r.ObservedAt.After(from) || !r.ObservedAt.Before(to) {
			continue
		}
		out = append(out, r)
		if len(out) >= s.limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of distinct results held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func identityKey(result *models.EvaluationResult) string {
	return string(result.EntityType) + ":" + result.EntityID + ":" +
		strconv.FormatInt(result.ObservedAt.UnixNano(), 10)
}

func windowMapKey(entityType models.EntityType, key string) string {
	return string(entityType) + ":" + key
}
