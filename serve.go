package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/api"
	"github.com/fabfab/fullstack-gpt/retrieval"
	"github.com/fabfab/fullstack-gpt/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the apps over HTTP",
		Run:   runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default: LISTEN_ADDR or :8000)")
	rootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, _ []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, true)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.close(context.Background())

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.cfg.ListenAddr = addr
	}

	recipes, closeRecipes, err := retrieval.OpenRecipeStore(ctx, a.cfg, a.embedder, a.logger)
	if err != nil {
		a.logger.Printf("recipe index unavailable, /recipes disabled: %v", err)
		recipes = nil
	} else {
		defer closeRecipes()
	}

	chatSvc := a.chatService()
	srv := api.New(a.cfg, api.Deps{
		Sessions: session.NewManager(chatSvc),
		Chat:     chatSvc,
		Quiz:     a.quizService(),
		Recipes:  recipes,
	}, a.logger)

	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		httpServer.Shutdown(shutdownCtx)
	}()

	a.logger.Printf("listening on %s", a.cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		exitErr("serve", err)
	}
}
