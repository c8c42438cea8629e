package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Search the recipe index by ingredient",
		Run:   runRecipes,
	}
	cmd.Flags().StringP("ingredient", "i", "", "Ingredient to search for")
	cmd.Flags().IntP("limit", "k", retrieval.DefaultK, "Number of recipes to return")
	cmd.MarkFlagRequired("ingredient")
	rootCmd.AddCommand(cmd)
}

func runRecipes(cmd *cobra.Command, _ []string) {
	ingredient, _ := cmd.Flags().GetString("ingredient")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, false)
	if err != nil {
		exitErr("setup", err)
	}

	store, closeStore, err := retrieval.OpenRecipeStore(ctx, a.cfg, a.embedder, a.logger)
	if err != nil {
		exitErr("open recipe index", err)
	}
	defer closeStore()

	docs, err := store.SimilaritySearch(ctx, ingredient, limit)
	if err != nil {
		exitErr("search recipes", err)
	}

	for i, d := range docs {
		fmt.Printf("%d. %s\n\n", i+1, d.PageContent)
	}
}
