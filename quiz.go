package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/quiz"
	"github.com/fabfab/fullstack-gpt/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Take a quiz generated from a file or a Wikipedia article",
		Run:   runQuiz,
	}
	cmd.Flags().StringP("file", "f", "", "Document to build the quiz from")
	cmd.Flags().StringP("topic", "t", "", "Wikipedia search term")
	cmd.MarkFlagsMutuallyExclusive("file", "topic")
	cmd.MarkFlagsOneRequired("file", "topic")
	rootCmd.AddCommand(cmd)
}

func runQuiz(cmd *cobra.Command, _ []string) {
	path, _ := cmd.Flags().GetString("file")
	topic, _ := cmd.Flags().GetString("topic")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, path != "")
	if err != nil {
		exitErr("setup", err)
	}
	defer a.close(context.Background())

	svc := a.quizService()
	sess := quiz.NewSession()

	var docs []retrieval.Document
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			exitErr("read file", err)
		}
		docs, err = svc.FromFile(ctx, sess, filepath.Base(path), data)
		if err != nil {
			exitErr("load file", err)
		}
		topic = filepath.Base(path)
	} else {
		docs, err = svc.FromTopic(ctx, sess, topic)
		if err != nil {
			exitErr("search wikipedia", err)
		}
	}

	if len(docs) == 0 {
		fmt.Println("Nothing to quiz on.")
		return
	}

	q, err := svc.Run(ctx, sess, docs, topic)
	if err != nil {
		exitErr("generate quiz", err)
	}

	in := bufio.NewScanner(os.Stdin)
	selections := make([]*string, len(q.Questions))
	for i, question := range q.Questions {
		fmt.Printf("\n%d. %s\n", i+1, question.Question)
		for j, answer := range question.Answers {
			fmt.Printf("   %d) %s\n", j+1, answer.Answer)
		}
		fmt.Print("Your answer (blank to skip): ")
		if !in.Scan() {
			break
		}
		if n, err := strconv.Atoi(strings.TrimSpace(in.Text())); err == nil && n >= 1 && n <= len(question.Answers) {
			selections[i] = &question.Answers[n-1].Answer
		}
	}

	result := quiz.GradeAll(q, selections)
	fmt.Println()
	for i, v := range result.Verdicts {
		fmt.Printf("%d. %s\n", i+1, v)
	}
	fmt.Printf("\nScore: %d/%d\n", result.Score, result.Total)
	if result.Total > 0 && result.Score == result.Total {
		fmt.Println("Perfect score!")
	}
}
