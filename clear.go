package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/config"
	"github.com/fabfab/fullstack-gpt/ingestion"
)

// cacheDirs are the cache entries clear removes.
var cacheDirs = []string{ingestion.DocumentDir, ingestion.QuizDir, "embeddings", "chat_memory", chatLogFile}

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete uploaded files, embedding caches and saved memory",
		Run:   runClear,
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	cmd.Flags().Bool("graph", false, "Also remove documents and chunks from Neo4j")
	rootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, _ []string) {
	confirmed, _ := cmd.Flags().GetBool("yes")
	withGraph, _ := cmd.Flags().GetBool("graph")

	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}

	if !confirmed {
		fmt.Printf("This will permanently delete uploads, embedding caches and %s. Continue? [y/N]: ", chat.MemoryPath(cfg.CacheDir))
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			fmt.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			fmt.Println("clear aborted")
			return
		}
	}

	if err := clearCache(cfg); err != nil {
		exitErr("clear cache", err)
	}
	fmt.Printf("cleared %s\n", cfg.CacheDir)

	if withGraph && cfg.GraphEnabled() {
		ctx := context.Background()
		a, err := newApp(ctx, true)
		if err != nil {
			exitErr("setup", err)
		}
		defer a.close(ctx)
		if a.graph == nil {
			exitErr("clear graph", fmt.Errorf("neo4j is not reachable"))
		}
		if err := purgeGraph(ctx, a.graph); err != nil {
			exitErr("clear graph", err)
		}
		fmt.Println("Neo4j documents and chunks cleared")
	}
}

func clearCache(cfg config.Config) error {
	for _, dir := range cacheDirs {
		if err := os.RemoveAll(cfg.Path(dir)); err != nil {
			return err
		}
	}
	return nil
}

func purgeGraph(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (d:Document) DETACH DELETE d",
		"MATCH (c:Chunk) DETACH DELETE c",
		"MATCH (a:App) DETACH DELETE a",
	}
	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}
