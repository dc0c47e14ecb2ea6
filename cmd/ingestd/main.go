// Command ingestd watches a directory for dropped documents and runs them
// through the ingestion pipeline into Qdrant. It also consumes file-drop
// messages from NATS when a server is configured, and serves Prometheus
// metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/taskflow-ai/ragengine/engine/embed"
	"github.com/taskflow-ai/ragengine/engine/ingest"
	"github.com/taskflow-ai/ragengine/engine/semantic"
	"github.com/taskflow-ai/ragengine/internal/config"
	"github.com/taskflow-ai/ragengine/pkg/metrics"
	"github.com/taskflow-ai/ragengine/pkg/natsutil"
)

var met = metrics.New()

var (
	mDocsTotal   = met.Counter("ragengine_ingest_docs_total", "Documents ingested")
	mDocsFailed  = met.Counter("ragengine_ingest_docs_failed_total", "Documents that failed ingestion")
	mChunksTotal = met.Counter("ragengine_ingest_chunks_total", "Chunks written to the vector store")
	mQueueDepth  = met.Gauge("ragengine_ingest_queue_depth", "Files waiting to process")
	mLastScan    = met.Gauge("ragengine_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mPipelineDur = met.Histogram("ragengine_ingest_pipeline_duration_seconds", "Per-document pipeline time", nil)
	mDLQTotal    = met.Counter("ragengine_ingest_dlq_total", "Messages moved to the dead letter queue")
)

var ingestExts = map[string]bool{".pdf": true, ".txt": true, ".md": true}

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to YAML config")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if cfg.MetricsPort > 0 {
		met.ServeAsync(cfg.MetricsPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		log.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("connected to Qdrant", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)

	provider := embed.Select(ctx, log,
		embed.NewServiceClient(cfg.Embedding.BaseURL, embed.ServiceOpts{
			Timeout:           cfg.EmbeddingTimeout(),
			RequestsPerSecond: cfg.Embedding.RatePerSec,
		}),
	)

	pipeline := ingest.NewPipeline(ingest.Deps{
		Embedder:     provider,
		Store:        store,
		Chunker:      ingest.NewChunker(cfg.Chunking.SizeTokens, cfg.Chunking.OverlapTokens),
		EmbedWorkers: cfg.Ingest.Workers,
		Logger:       log,
	})

	// Optional NATS consumer: other services announce dropped files instead
	// of writing into the watched directory.
	if cfg.Ingest.NATSURL != "" {
		nc, err := nats.Connect(cfg.Ingest.NATSURL)
		if err != nil {
			log.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()

		sub, err := ingest.StartConsumer(nc, pipeline, log)
		if err != nil {
			log.Error("nats subscribe failed", "err", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()

		dlqSub, err := natsutil.Subscribe(nc, ingest.DLQSubject, func(_ context.Context, m ingest.DLQMessage) {
			mDLQTotal.Inc()
			log.Error("document abandoned after retries",
				"filename", m.File.Filename, "retries", m.Retries, "err", m.Error)
		})
		if err != nil {
			log.Error("dlq subscribe failed", "err", err)
			os.Exit(1)
		}
		defer dlqSub.Unsubscribe()

		log.Info("consuming file drops from NATS", "url", cfg.Ingest.NATSURL, "subject", ingest.FileSubject)
	}

	if err := os.MkdirAll(cfg.Ingest.DataDir, 0o755); err != nil {
		log.Error("data dir create failed", "dir", cfg.Ingest.DataDir, "err", err)
		os.Exit(1)
	}

	stateFile := filepath.Join(cfg.Ingest.DataDir, ".ingest-state.json")
	processed := loadState(stateFile)

	log.Info("watching for documents", "dir", cfg.Ingest.DataDir, "interval", cfg.ScanInterval())

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(cfg.Ingest.DataDir)
		if err != nil {
			log.Error("readdir failed", "err", err)
			return
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			name := e.Name()
			if e.IsDir() || name[0] == '.' || !ingestExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%s:%d", name, info.Size())
			if processed[key] {
				continue
			}

			mQueueDepth.Inc()
			start := time.Now()
			res := pipeline.Run(ctx, filepath.Join(cfg.Ingest.DataDir, name), name)
			mPipelineDur.Since(start)
			mQueueDepth.Dec()

			if res.Success {
				mDocsTotal.Inc()
				mChunksTotal.Add(int64(res.ChunkCount))
				processed[key] = true
				saveState(stateFile, processed)
			} else {
				// Left unmarked so the next scan retries it.
				mDocsFailed.Inc()
				log.Warn("document failed, will retry next scan", "file", name, "err", res.Err)
			}
		}
	}

	scan()

	ticker := time.NewTicker(cfg.ScanInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
