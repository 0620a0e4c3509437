package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
)

// SemanticIndex ranks long-term entries by embedding similarity. Vectors are
// cached per key and recomputed when the entry changes.
type SemanticIndex struct {
	store    *Store
	embedder embedding.Embedder

	mu    sync.Mutex
	cache map[string]cachedVector
}

type cachedVector struct {
	updated time.Time
	vec     []float64
}

// NewSemanticIndex creates an index over store's long-term entries.
func NewSemanticIndex(store *Store, embedder embedding.Embedder) *SemanticIndex {
	return &SemanticIndex{store: store, embedder: embedder, cache: make(map[string]cachedVector)}
}

// Search returns up to limit live entries ordered by cosine similarity to
// query. Scores are in [-1, 1].
func (ix *SemanticIndex) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if query == "" {
		return nil, nil
	}

	entries, err := ix.store.backend.List()
	if err != nil {
		return nil, err
	}
	now := ix.store.now()
	live := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) && !reserved(e.Key) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// one batch call: the query plus every stale entry
	texts := []string{query}
	var stale []*Entry
	for _, e := range live {
		if c, ok := ix.cache[e.Key]; ok && c.updated.Equal(e.UpdatedAt) {
			continue
		}
		stale = append(stale, e)
		texts = append(texts, e.Key+": "+serialize(e.Value))
	}

	vecs, err := ix.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, e := range stale {
		ix.cache[e.Key] = cachedVector{updated: e.UpdatedAt, vec: vecs[i+1]}
	}

	results := make([]SearchResult, 0, len(live))
	for _, e := range live {
		results = append(results, SearchResult{
			Key:   e.Key,
			Value: e.Value,
			Score: cosine(vecs[0], ix.cache[e.Key].vec),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
