package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/quillbase/quillbase-backend/internal/vector"
)

// Store is an in-process vector index backed by a cosine scan. Local and
// test use only; app wiring refuses it in production mode.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
}

type entry struct {
	values   []float32
	metadata vector.ChunkMetadata
}

func NewStore() *Store {
	return &Store{namespaces: map[string]map[string]entry{}}
}

func (s *Store) Upsert(_ context.Context, namespace string, vectors []vector.Vector) error {
	if namespace == "" {
		return errors.New("namespace required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = map[string]entry{}
		s.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		if v.ID == "" {
			return errors.New("vector id required")
		}
		if err := v.Metadata.Validate(); err != nil {
			return err
		}
		vals := make([]float32, len(v.Values))
		copy(vals, v.Values)
		ns[v.ID] = entry{values: vals, metadata: v.Metadata}
	}
	return nil
}

func (s *Store) QueryMatches(_ context.Context, namespace string, q []float32, topK int) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for id, e := range ns {
		matches = append(matches, vector.Match{ID: id, Score: cosine(q, e.values)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) DeleteIDs(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func (s *Store) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

// Count reports how many vectors a namespace holds. Test helper.
func (s *Store) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	for i := n; i < len(a); i++ {
		na += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
