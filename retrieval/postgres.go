package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/fullstack-gpt/embeddings"
)

// PostgresStore searches a pgvector table named after the index.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	table    string
}

func NewPostgresStore(pool *pgxpool.Pool, embedder embeddings.Embedder, index string) *PostgresStore {
	return &PostgresStore{pool: pool, embedder: embedder, table: index}
}

func (s *PostgresStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if k <= 0 {
		k = DefaultK
	}

	embedding, err := embeddings.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	table := pgx.Identifier{s.table}.Sanitize()
	rows, err := conn.Query(ctx, fmt.Sprintf(`
        SELECT
            content,
            metadata,
            (embedding <=> $1::vector) AS distance
        FROM %s
        ORDER BY embedding <=> $1::vector
        LIMIT $2
    `, table), pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	results := make([]Document, 0, k)
	for rows.Next() {
		var (
			content  string
			metaRaw  []byte
			distance float64
		)
		if scanErr := rows.Scan(&content, &metaRaw, &distance); scanErr != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, scanErr)
		}

		meta := map[string]any{}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		meta["score"] = 1 - distance

		results = append(results, Document{PageContent: content, Metadata: meta})
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

var _ VectorStore = (*PostgresStore)(nil)
