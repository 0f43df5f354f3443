package app

import (
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/pipeline"
	"github.com/studify/video-pipeline/internal/platform/logger"
	"github.com/studify/video-pipeline/internal/services"
)

type Services struct {
	Machine  *pipeline.Machine
	Runner   *pipeline.Runner
	Pipeline services.PipelineService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients) Services {
	log.Info("Wiring services...")

	machine := pipeline.NewMachine(db, repos.ProcessingJob, repos.ProcessingStep, log)

	runner := pipeline.NewRunner(
		db,
		log,
		machine,
		repos.Attachment,
		repos.TranscriptSegment,
		repos.EmbeddingQueue,
		clients.TaskQueue,
		clients.Media,
		clients.Speech,
		clients.GcpBucket,
		pipeline.RunnerConfig{
			PublicBaseURL:  cfg.PublicBaseURL,
			EnqueueRetries: cfg.EnqueueRetries,
			StepTimeout:    cfg.StepTimeout,
			Segmenter:      pipeline.DefaultSegmenterConfig(),
		},
	)

	pipelineService := services.NewPipelineService(
		db,
		log,
		machine,
		repos.ProcessingJob,
		repos.ProcessingStep,
		repos.Attachment,
		clients.TaskQueue,
		services.PipelineServiceConfig{
			PublicBaseURL:  cfg.PublicBaseURL,
			MaxRetries:     cfg.MaxRetries,
			EnqueueRetries: cfg.EnqueueRetries,
		},
	)

	return Services{
		Machine:  machine,
		Runner:   runner,
		Pipeline: pipelineService,
	}
}
