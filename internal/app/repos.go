package app

import (
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/data/repos/content"
	"github.com/studify/video-pipeline/internal/data/repos/jobs"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type Repos struct {
	ProcessingJob  jobs.ProcessingJobRepo
	ProcessingStep jobs.ProcessingStepRepo

	Attachment        content.AttachmentRepo
	TranscriptSegment content.TranscriptSegmentRepo
	EmbeddingQueue    content.EmbeddingQueueRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		ProcessingJob:     jobs.NewProcessingJobRepo(db, log),
		ProcessingStep:    jobs.NewProcessingStepRepo(db, log),
		Attachment:        content.NewAttachmentRepo(db, log),
		TranscriptSegment: content.NewTranscriptSegmentRepo(db, log),
		EmbeddingQueue:    content.NewEmbeddingQueueRepo(db, log),
	}
}
