// Package retrieval finds the chunks most relevant to a query, either from an
// in-memory index over one uploaded file or from a hosted vector database.
package retrieval

import (
	"context"
	"strings"
)

const DefaultK = 4

// Document is a retrieved piece of text and whatever the store knows about it.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

type VectorStore interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

// FormatDocs joins page contents with blank lines.
func FormatDocs(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	return strings.Join(parts, "\n\n")
}

type storeRetriever struct {
	store VectorStore
	k     int
}

func (r storeRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	return r.store.SimilaritySearch(ctx, query, r.k)
}

// AsRetriever adapts a VectorStore to a Retriever returning k documents.
func AsRetriever(store VectorStore, k int) Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return storeRetriever{store: store, k: k}
}
