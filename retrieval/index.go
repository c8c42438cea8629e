package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fabfab/fullstack-gpt/embeddings"
	"github.com/fabfab/fullstack-gpt/ingestion"
)

// Index holds the chunk vectors of a single file and searches them by cosine similarity.
type Index struct {
	mu       sync.RWMutex
	embedder embeddings.Embedder
	chunks   []ingestion.Chunk
	vectors  [][]float32
}

// Build embeds chunks with docs and keeps the result for querying with query.
// docs is typically a cache-backed embedder; query embeddings are not cached.
func Build(ctx context.Context, docs, query embeddings.Embedder, chunks []ingestion.Chunk) (*Index, error) {
	idx := &Index{embedder: query}
	if len(chunks) == 0 {
		return idx, nil
	}

	vectors, err := docs.Embed(ctx, ingestion.Texts(chunks))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
	}

	idx.chunks = append(idx.chunks, chunks...)
	idx.vectors = vectors
	return idx, nil
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

type scored struct {
	pos   int
	score float64
}

// Search returns the k chunks closest to query. Equal scores keep insertion order.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = DefaultK
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.chunks) == 0 {
		return []Document{}, nil
	}

	vec, err := embeddings.EmbedQuery(ctx, i.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := make([]scored, len(i.vectors))
	for pos, v := range i.vectors {
		results[pos] = scored{pos: pos, score: Cosine(vec, v)}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})

	if k > len(results) {
		k = len(results)
	}

	docs := make([]Document, 0, k)
	for _, r := range results[:k] {
		chunk := i.chunks[r.pos]
		docs = append(docs, Document{
			PageContent: chunk.Text,
			Metadata: map[string]any{
				"source":      chunk.Source,
				"chunk_id":    chunk.ID,
				"document_id": chunk.DocumentID,
				"index":       chunk.Index,
				"score":       r.score,
			},
		})
	}
	return docs, nil
}

func (i *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	return i.Search(ctx, query, k)
}

func (i *Index) AsRetriever(k int) Retriever {
	return AsRetriever(i, k)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorStore = (*Index)(nil)
