package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fabfab/fullstack-gpt/chat"
	"github.com/fabfab/fullstack-gpt/tui"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a document in the terminal",
		Run:   runChat,
	}
	cmd.Flags().StringP("file", "f", "", "Document to upload (.txt, .md, .pdf, .docx, .csv)")
	cmd.Flags().Bool("restore", false, "Restore the saved conversation memory")
	cmd.MarkFlagRequired("file")
	rootCmd.AddCommand(cmd)
}

const chatLogFile = "chat.log"

// logToFile points logger at path while the TUI owns the terminal. The
// returned func restores the previous output.
func logToFile(logger *log.Logger, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	prev := logger.Writer()
	logger.SetOutput(f)
	return func() {
		logger.SetOutput(prev)
		f.Close()
	}, nil
}

func runChat(cmd *cobra.Command, _ []string) {
	path, _ := cmd.Flags().GetString("file")
	restore, _ := cmd.Flags().GetBool("restore")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, true)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.close(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		exitErr("read file", err)
	}

	svc := a.chatService()
	sess := svc.NewSession()

	result, err := svc.Embed(ctx, sess, filepath.Base(path), data)
	if err != nil {
		exitErr("embed file", err)
	}
	greeting := result.Greeting

	if restore {
		n, err := svc.RestoreMemory(sess)
		if err != nil {
			exitErr("restore memory", err)
		}
		a.logger.Printf("restored %d messages from %s", n, chat.MemoryPath(a.cfg.CacheDir))
	}

	closeLog, err := logToFile(a.logger, a.cfg.Path(chatLogFile))
	if err != nil {
		exitErr("open chat log", err)
	}
	defer closeLog()

	title := "DocumentGPT · " + result.Name
	model := tui.New(tui.SessionPort{Service: svc, Session: sess}, title, greeting)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		exitErr("run tui", err)
	}
}
