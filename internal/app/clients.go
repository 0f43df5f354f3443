package app

import (
	"fmt"

	"github.com/studify/video-pipeline/internal/clients/media"
	"github.com/studify/video-pipeline/internal/clients/speech"
	"github.com/studify/video-pipeline/internal/clients/taskqueue"
	"github.com/studify/video-pipeline/internal/platform/gcp"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type Clients struct {
	TaskQueue taskqueue.Client
	Media     media.Transformer
	Speech    speech.Transcriber
	GcpBucket gcp.BucketService
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	queue, err := taskqueue.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init task queue client: %w", err)
	}

	transformer, err := media.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init media transform client: %w", err)
	}

	transcriber, err := speech.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init speech client: %w", err)
	}

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		_ = transcriber.Close()
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	return Clients{
		TaskQueue: queue,
		Media:     transformer,
		Speech:    transcriber,
		GcpBucket: bucket,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Speech != nil {
		_ = c.Speech.Close()
	}
}
