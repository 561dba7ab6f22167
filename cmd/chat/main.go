package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/bootstrap"
	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/pkg/logger"
	"github.com/thutuc-assistant/rag-chat/backend/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		variantPath string
		topK        int
	)
	flag.StringVar(&variantPath, "config", "", "YAML variant file overriding the RAG settings")
	flag.IntVar(&topK, "topk", 0, fmt.Sprintf("chunks retrieved per question (%d-%d, default from RAG_TOP_K)", chat.MinTopK, chat.MaxTopK))
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if variantPath != "" {
		if err := config.ApplyVariantFile(variantPath, &cfg.RAG); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load variant: %v\n", err)
			os.Exit(1)
		}
	}
	if topK == 0 {
		topK = cfg.RAG.TopK
	}

	log := logger.NewFileOnly(cfg.Log.FilePath)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize services: %v\n", err)
		os.Exit(1)
	}

	session, err := container.Chat.CreateSession(ctx, topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start session: %v\n", err)
		os.Exit(1)
	}

	// A nil *rag.Pipeline must not reach the model as a non-nil interface.
	var runner tui.TurnRunner
	if container.Pipeline != nil {
		runner = container.Pipeline
	}

	m := tui.New(ctx, container.Chat, runner, container.Info, session)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Error("terminal client exited with error", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
