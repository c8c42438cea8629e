package chat

import "time"

const (
	RoleHuman = "human"
	RoleAI    = "ai"

	// Greeting is shown after a file is embedded. It is never stored in history.
	Greeting = "I'm ready! Ask away!"
)

// DisplayMessage is one entry of the visible conversation.
type DisplayMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentInsight struct {
	ChunkCount int      `json:"chunk_count"`
	Apps       []string `json:"apps,omitempty"`
}

type Source struct {
	DocumentID string          `json:"document_id"`
	Path       string          `json:"path"`
	Snippet    string          `json:"snippet"`
	Score      float64         `json:"score"`
	Insight    DocumentInsight `json:"insight"`
}

// EmbedResult describes a file that is ready to be questioned.
type EmbedResult struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Chunks     int    `json:"chunks"`
	Greeting   string `json:"greeting"`
}
