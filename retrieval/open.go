package retrieval

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/fullstack-gpt/config"
	"github.com/fabfab/fullstack-gpt/database"
	"github.com/fabfab/fullstack-gpt/embeddings"
)

// OpenRecipeStore connects to the configured hosted index. The returned func
// releases the connection.
func OpenRecipeStore(ctx context.Context, cfg config.Config, embedder embeddings.Embedder, logger *log.Logger) (VectorStore, func(), error) {
	if logger == nil {
		logger = log.Default()
	}

	switch cfg.VectorDB.Provider {
	case config.VectorDBQdrant:
		store := NewQdrantStore(QdrantOptions{
			URL:        cfg.VectorDB.QdrantURL,
			APIKey:     cfg.VectorDB.APIKey,
			Collection: cfg.VectorDB.IndexName,
		}, embedder)
		logger.Printf("recipe index: qdrant collection %s at %s", cfg.VectorDB.IndexName, cfg.VectorDB.QdrantURL)
		return store, func() {}, nil
	case config.VectorDBPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureIndexTable(ctx, pool, cfg.VectorDB.IndexName, cfg.Embeddings.Dimension); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure index table: %w", err)
		}
		logger.Printf("recipe index: pgvector table %s", cfg.VectorDB.IndexName)
		return NewPostgresStore(pool, embedder, cfg.VectorDB.IndexName), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector db provider: %s", cfg.VectorDB.Provider)
	}
}
