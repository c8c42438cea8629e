package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore reports what the knowledge graph knows about retrieved documents.
type GraphStore interface {
	DocumentInsights(ctx context.Context, docIDs []string) (map[string]DocumentInsight, error)
}

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

const insightsQuery = `
MATCH (d:Document) WHERE d.id IN $ids
OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
OPTIONAL MATCH (d)-[:UPLOADED_TO]->(a:App)
RETURN d.id AS id, count(DISTINCT c) AS chunkCount, collect(DISTINCT a.name) AS apps`

func (s *Neo4jGraphStore) DocumentInsights(ctx context.Context, docIDs []string) (map[string]DocumentInsight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	insights := make(map[string]DocumentInsight, len(docIDs))
	if len(docIDs) == 0 {
		return insights, nil
	}

	res, err := neo4j.ExecuteQuery(ctx, s.driver, insightsQuery,
		map[string]any{"ids": docIDs},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("query document insights: %w", err)
	}

	for _, record := range res.Records {
		id, _, err := neo4j.GetRecordValue[string](record, "id")
		if err != nil {
			continue
		}
		count, _, _ := neo4j.GetRecordValue[int64](record, "chunkCount")
		apps, _, _ := neo4j.GetRecordValue[[]any](record, "apps")
		insights[id] = DocumentInsight{ChunkCount: int(count), Apps: stringsOf(apps)}
	}
	return insights, nil
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

func stringsOf(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
