package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/bootstrap"
	"github.com/thutuc-assistant/rag-chat/backend/internal/config"
	"github.com/thutuc-assistant/rag-chat/backend/internal/pkg/logger"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/retrieval"
)

func main() {
	_ = godotenv.Load()

	var (
		dataFile    string
		variantPath string
		concurrency int
	)
	flag.StringVar(&dataFile, "data", "", "JSON file of procedure chunks (default RAG_DATA_FILE)")
	flag.StringVar(&variantPath, "config", "", "YAML variant file overriding the RAG settings")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "parallel embedding requests")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New("", false).Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Log.FilePath, cfg.Log.Production)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if variantPath != "" {
		if err := config.ApplyVariantFile(variantPath, &cfg.RAG); err != nil {
			log.Fatal("failed to load variant", zap.Error(err))
		}
	}
	if dataFile == "" {
		dataFile = cfg.RAG.DataFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(cfg.RAG, log)
	if err != nil {
		log.Fatal("failed to open vector index", zap.Error(err))
	}

	f, err := os.Open(dataFile)
	if err != nil {
		log.Fatal("failed to open data file", zap.String("path", dataFile), zap.Error(err))
	}
	docs, err := retrieval.LoadDocuments(f)
	f.Close()
	if err != nil {
		log.Fatal("failed to parse data file", zap.String("path", dataFile), zap.Error(err))
	}
	for i := range docs {
		if docs[i].SourceFile == "" {
			docs[i].SourceFile = filepath.Base(dataFile)
		}
	}

	log.Info("indexing procedures",
		zap.String("path", dataFile),
		zap.Int("documents", len(docs)),
		zap.String("collection", store.Name()),
		zap.Int("concurrency", concurrency),
	)
	if err := store.Index(ctx, docs, concurrency); err != nil {
		log.Fatal("indexing failed", zap.Error(err))
	}
	log.Info("ingestion finished", zap.Int("chunks", store.Count()))
}
