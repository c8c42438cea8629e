package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fabfab/fullstack-gpt/embeddings"
)

// QdrantStore searches a Qdrant collection named after the index over REST.
// Points are expected to carry "page_content" and "metadata" payload fields.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	embedder   embeddings.Embedder
	client     *http.Client
}

type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewQdrantStore(opts QdrantOptions, embedder embeddings.Embedder) *QdrantStore {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		url:        strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
	}
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

func (s *QdrantStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = DefaultK
	}

	vec, err := embeddings.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	body, err := json.Marshal(qdrantSearchRequest{Vector: vec, Limit: k, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("encode qdrant request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/points/search", s.url, url.PathEscape(s.collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant search %s failed: %s", s.collection, resp.Status)
	}

	var out qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode qdrant response: %w", err)
	}

	docs := make([]Document, 0, len(out.Result))
	for _, r := range out.Result {
		doc := Document{Metadata: map[string]any{}}
		if v, ok := r.Payload["page_content"].(string); ok {
			doc.PageContent = v
		} else if v, ok := r.Payload["text"].(string); ok {
			doc.PageContent = v
		}
		if meta, ok := r.Payload["metadata"].(map[string]any); ok {
			for key, value := range meta {
				doc.Metadata[key] = value
			}
		}
		doc.Metadata["score"] = r.Score
		docs = append(docs, doc)
	}
	return docs, nil
}

var _ VectorStore = (*QdrantStore)(nil)
