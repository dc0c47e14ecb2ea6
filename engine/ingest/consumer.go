package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/taskflow-ai/ragengine/pkg/natsutil"
)

const (
	// FileSubject carries file-drop notifications for ingestion.
	FileSubject = "ragengine.ingest.file"
	// DLQSubject receives messages that failed MaxRetries times.
	DLQSubject = "ragengine.ingest.dlq"
	// MaxRetries before a message moves to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// FileDropped announces a document ready for ingestion.
type FileDropped struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// DLQMessage wraps a failed FileDropped with its final error.
type DLQMessage struct {
	File    FileDropped `json:"file"`
	Error   string      `json:"error"`
	Retries int         `json:"retries"`
}

// StartConsumer subscribes the pipeline to file-drop messages with retry and
// DLQ support. Each message is one document; failures re-publish with an
// incremented retry count until MaxRetries, then land on the DLQ.
func StartConsumer(nc *nats.Conn, pipeline *Pipeline, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(FileSubject, func(msg *nats.Msg) {
		var file FileDropped
		if err := json.Unmarshal(msg.Data, &file); err != nil {
			log.Error("ingest: unmarshal file-drop failed", "err", err)
			return
		}

		ctx := context.Background()
		result := pipeline.Run(ctx, file.Path, file.Filename)
		if result.Success {
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}
		retries++

		if retries >= MaxRetries {
			dlq := DLQMessage{File: file, Error: result.Err, Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
				log.Error("ingest: DLQ publish failed", "err", err)
			}
			log.Warn("ingest: moved to DLQ", "filename", file.Filename, "retries", retries)
			return
		}

		retry := nats.NewMsg(FileSubject)
		retry.Data = msg.Data
		retry.Header = nats.Header{}
		retry.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
		if err := nc.PublishMsg(retry); err != nil {
			log.Error("ingest: retry publish failed", "err", err)
		}
	})
}
