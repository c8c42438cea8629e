package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/config"
	"github.com/fabfab/fullstack-gpt/database"
	"github.com/fabfab/fullstack-gpt/embeddings"
	"github.com/fabfab/fullstack-gpt/ingestion"
	"github.com/fabfab/fullstack-gpt/llm"
	"github.com/fabfab/fullstack-gpt/quiz"
)

var rootCmd = &cobra.Command{
	Use:   "fullstack-gpt",
	Short: "ChefGPT, DocumentGPT and QuizGPT",
	Long:  "LLM apps over your own files: recipe search, chat with a document, and quizzes from files or Wikipedia.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the clients every command builds from config.
type app struct {
	cfg      config.Config
	logger   *log.Logger
	embedder embeddings.Embedder
	llm      llm.Client
	graph    neo4j.DriverWithContext
}

func newApp(ctx context.Context, withGraph bool) (*app, error) {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, embedder: embedder, llm: llmClient}
	if withGraph && cfg.GraphEnabled() {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Printf("neo4j unavailable, document graph disabled: %v", err)
		} else {
			a.graph = driver
		}
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.graph != nil {
		a.graph.Close(ctx)
	}
}

func (a *app) chatService() *chat.Service {
	svc := chat.NewService(chat.Options{
		CacheDir:         a.cfg.CacheDir,
		Splitter:         splitter(a.cfg.DocumentSplitter),
		RetrievalK:       a.cfg.RetrievalK,
		MemoryTokenLimit: a.cfg.MemoryTokenLimit,
		EmbeddingModel:   a.cfg.Embeddings.Model,
	}, a.embedder, a.llm, a.logger)
	if a.graph != nil {
		svc.WithGraph(a.graph)
	}
	return svc
}

func (a *app) quizService() *quiz.Service {
	wiki := quiz.NewWikipediaClient(quiz.WikipediaOptions{Lang: a.cfg.WikipediaLang})
	svc := quiz.NewService(a.llm, wiki, a.cfg.CacheDir, splitter(a.cfg.QuizSplitter), a.logger)
	if a.graph != nil {
		svc.WithGraph(a.graph)
	}
	return svc
}

func splitter(c config.SplitterConfig) ingestion.Splitter {
	return ingestion.Splitter{Separator: c.Separator, ChunkSize: c.ChunkSize, ChunkOverlap: c.ChunkOverlap}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
