// Command ragchat is a line-oriented chat REPL over the retrieval engine.
// Questions are answered from the configured Qdrant collection; slash
// commands cover ingestion, status, and collection management.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/embed"
	"github.com/taskflow-ai/ragengine/engine/ingest"
	"github.com/taskflow-ai/ragengine/engine/llm"
	"github.com/taskflow-ai/ragengine/engine/rag"
	"github.com/taskflow-ai/ragengine/engine/semantic"
	"github.com/taskflow-ai/ragengine/internal/config"
)

const usage = `commands:
  /ingest <path>   ingest a document
  /status          backend health
  /clear           drop and recreate the collection
  /quit            exit
anything else is a question`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var verbose bool
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to YAML config")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		log.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	provider := embed.Select(ctx, log,
		embed.NewServiceClient(cfg.Embedding.BaseURL, embed.ServiceOpts{
			Timeout:           cfg.EmbeddingTimeout(),
			RequestsPerSecond: cfg.Embedding.RatePerSec,
		}),
	)

	generator := llm.NewClient(llm.Config{
		APIKey:  cfg.ChatAPIKey(),
		BaseURL: cfg.Chat.BaseURL,
		Model:   cfg.Chat.Model,
		Timeout: cfg.ChatTimeout(),
	})

	var reranker rag.Reranker
	if cfg.Reranker.Enabled {
		client := rag.NewRerankerClient(cfg.Reranker.BaseURL, cfg.RerankerTimeout())
		if err := client.Probe(ctx); err != nil {
			log.Warn("reranker unavailable, falling back to overlap scoring", "err", err)
		} else {
			reranker = client
		}
	}

	svc := rag.New(rag.Deps{
		Provider:  provider,
		Store:     store,
		Generator: generator,
		Reranker:  reranker,
		Chunker:   ingest.NewChunker(cfg.Chunking.SizeTokens, cfg.Chunking.OverlapTokens),
		Logger:    log,
	}, rag.Options{
		Defaults: retrieveDefaults(cfg),
	})

	fmt.Println("ragchat ready. /help for commands.")
	repl(ctx, svc, cfg)
}

func retrieveDefaults(cfg *config.Config) domain.RetrieveOptions {
	return domain.RetrieveOptions{
		TopK:                 cfg.Retrieval.TopK,
		InitialK:             cfg.Retrieval.InitialK,
		MaxQueries:           cfg.Retrieval.MaxQueries,
		EnableQueryRewriting: cfg.Retrieval.QueryRewriting,
		EnableCompression:    cfg.Retrieval.Compression,
	}
}

func repl(ctx context.Context, svc *rag.Service, cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() || ctx.Err() != nil {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return
		case line == "/help":
			fmt.Println(usage)
		case line == "/status":
			printStatus(ctx, svc)
		case line == "/clear":
			if err := svc.ClearCollection(ctx); err != nil {
				fmt.Printf("clear failed: %v\n", err)
			} else {
				fmt.Printf("collection %s recreated\n", cfg.Qdrant.Collection)
			}
		case strings.HasPrefix(line, "/ingest "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/ingest "))
			res := svc.IngestDocument(ctx, path, filepath.Base(path))
			if res.Success {
				fmt.Printf("ingested %s: %d chunks\n", filepath.Base(path), res.ChunkCount)
			} else {
				fmt.Printf("ingest failed: %s\n", res.Err)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Println(usage)
		default:
			answer(ctx, svc, cfg, line)
		}
	}
}

func answer(ctx context.Context, svc *rag.Service, cfg *config.Config, question string) {
	res := svc.Retrieve(ctx, question, retrieveDefaults(cfg))

	fmt.Println()
	fmt.Println(res.Answer)
	if len(res.Sources) > 0 {
		fmt.Println("\nsources:")
		for i, s := range res.Sources {
			fmt.Printf("  [%d] %s (chunk %d, page %d)\n", i+1, s.SourceFilename, s.Index, s.Page)
		}
	}
	fmt.Printf("\n(%d ms", res.ExecutionTimeMs)
	if len(res.RewrittenQueries) > 1 {
		fmt.Printf(", %d query variants", len(res.RewrittenQueries))
	}
	if res.CompressionApplied {
		fmt.Print(", compressed")
	}
	fmt.Println(")")
}

func printStatus(ctx context.Context, svc *rag.Service) {
	st := svc.Status(ctx)
	fmt.Printf("vector store:       %s\n", upDown(st.VectorStoreReachable))
	fmt.Printf("ingest:             %s\n", upDown(st.IngestReady))
	fmt.Printf("embedding provider: %s\n", upDown(st.EmbeddingProviderAvailable))
	fmt.Printf("reranker:           %s\n", upDown(st.RerankerAvailable))
}

func upDown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}
