// Package knowledge mirrors uploaded documents and their chunks into Neo4j.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/fullstack-gpt/ingestion"
)

type Document struct {
	ID     string
	Name   string
	Path   string
	Title  string
	SHA    string
	Format string
	App    string
	Chunks []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Text  string
}

// FromIngested converts a loaded upload into graph nodes. app names the
// collection the file was uploaded to (DocumentGPT or QuizGPT).
func FromIngested(doc ingestion.Document, chunks []ingestion.Chunk, app string) Document {
	out := Document{
		ID:     doc.ID,
		Name:   doc.Name,
		Path:   doc.Path,
		Title:  doc.Title,
		SHA:    doc.SHA,
		Format: string(doc.Format),
		App:    app,
		Chunks: make([]Chunk, 0, len(chunks)),
	}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, Chunk{ID: c.ID, Index: c.Index, Text: c.Text})
	}
	return out
}

func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":     doc.ID,
		"name":   doc.Name,
		"path":   doc.Path,
		"title":  doc.Title,
		"sha":    doc.SHA,
		"format": doc.Format,
		"app":    doc.App,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.name = $name,
			    d.path = $path,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.format = $format,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if doc.App != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (a:App {name: $app})
				MERGE (d)-[:UPLOADED_TO]->(a)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert app relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"doc_id":      doc.ID,
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_text":  chunk.Text,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		// Consecutive chunks share overlapping text.
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(a:Chunk),
			      (d)-[:HAS_CHUNK]->(b:Chunk)
			WHERE b.index = a.index + 1
			MERGE (a)-[:NEXT]->(b)
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("link chunk sequence: %w", err)
		}

		return nil, nil
	})

	return err
}
