package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fabfab/fullstack-gpt/llm"
	"github.com/fabfab/fullstack-gpt/retrieval"
)

const systemTemplate = "Answer the question using ONLY the following context. If you don't know the answer, just say you don't know. DON'T make anything up.\n\nContext: %s"

// BuildPrompt assembles the model input: the grounded system message, the
// remembered history, then the question.
func BuildPrompt(docs []retrieval.Document, history []llm.Message, question string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(systemTemplate, retrieval.FormatDocs(docs)),
	})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages
}

func mergeSources(docs []retrieval.Document, insights map[string]DocumentInsight) []Source {
	grouped := make(map[string]*Source, len(docs))
	order := make([]string, 0, len(docs))
	for i := range docs {
		doc := docs[i]
		docID, _ := doc.Metadata["document_id"].(string)
		path, _ := doc.Metadata["source"].(string)
		score, _ := doc.Metadata["score"].(float64)

		source, ok := grouped[docID]
		if !ok {
			source = &Source{DocumentID: docID, Path: path, Score: score}
			grouped[docID] = source
			order = append(order, docID)
		} else if score > source.Score {
			source.Score = score
		}

		snippet := truncateRunes(strings.TrimSpace(doc.PageContent), snippetRunes)
		if source.Snippet == "" {
			source.Snippet = snippet
		} else if !strings.Contains(source.Snippet, snippet) {
			source.Snippet += "\n---\n" + snippet
		}

		if insight, ok := insights[docID]; ok {
			source.Insight = insight
		}
	}

	sources := make([]Source, 0, len(grouped))
	for _, id := range order {
		sources = append(sources, *grouped[id])
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})

	return sources
}

func documentIDs(docs []retrieval.Document) []string {
	seen := make(map[string]struct{}, len(docs))
	result := make([]string, 0, len(docs))
	for _, d := range docs {
		id, _ := d.Metadata["document_id"].(string)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

const snippetRunes = 500

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
