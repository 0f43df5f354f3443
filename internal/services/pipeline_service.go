package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/clients/taskqueue"
	contentrepo "github.com/studify/video-pipeline/internal/data/repos/content"
	jobsrepo "github.com/studify/video-pipeline/internal/data/repos/jobs"
	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/pipeline"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotVideo        = errors.New("attachment is not a video")
	ErrActiveJobExists = errors.New("attachment already has an active processing job")
)

// JobStatus is the polling read model: the job row plus its step rows.
type JobStatus struct {
	Job   *domain.ProcessingJob   `json:"job"`
	Steps []*domain.ProcessingStep `json:"steps"`
}

type PipelineService interface {
	StartJob(ctx context.Context, attachmentID uuid.UUID, userID uuid.UUID) (*JobStatus, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*JobStatus, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*JobStatus, error)
	ListQueues(ctx context.Context) ([]taskqueue.Queue, error)
}

type PipelineServiceConfig struct {
	PublicBaseURL  string
	MaxRetries     int
	EnqueueRetries int
}

type pipelineService struct {
	db          *gorm.DB
	log         *logger.Logger
	machine     *pipeline.Machine
	jobs        jobsrepo.ProcessingJobRepo
	steps       jobsrepo.ProcessingStepRepo
	attachments contentrepo.AttachmentRepo
	queue       taskqueue.Client
	cfg         PipelineServiceConfig
}

func NewPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	machine *pipeline.Machine,
	jobs jobsrepo.ProcessingJobRepo,
	steps jobsrepo.ProcessingStepRepo,
	attachments contentrepo.AttachmentRepo,
	queue taskqueue.Client,
	cfg PipelineServiceConfig,
) PipelineService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.EnqueueRetries <= 0 {
		cfg.EnqueueRetries = 3
	}
	return &pipelineService{
		db:          db,
		log:         baseLog.With("service", "PipelineService"),
		machine:     machine,
		jobs:        jobs,
		steps:       steps,
		attachments: attachments,
		queue:       queue,
		cfg:         cfg,
	}
}

// StartJob creates the job and its four step rows, then kicks off the
// pipeline by enqueuing the compress step on the caller's queue. If the
// enqueue fails the job is failed immediately; there is nothing to retry
// against a job that never entered the queue.
func (s *pipelineService) StartJob(ctx context.Context, attachmentID uuid.UUID, userID uuid.UUID) (*JobStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}

	att, err := s.attachments.GetByID(dbc, attachmentID)
	if err != nil {
		return nil, err
	}
	if att == nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if att.Kind != domain.AttachmentKindVideo {
		return nil, fmt.Errorf("attachment %s has kind %q: %w", attachmentID, att.Kind, ErrNotVideo)
	}

	if active, err := s.jobs.GetActiveByAttachment(dbc, attachmentID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, fmt.Errorf("job %s: %w", active.ID, ErrActiveJobExists)
	}

	var job *domain.ProcessingJob
	var stepRows []*domain.ProcessingStep
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		var cErr error
		job, cErr = s.jobs.Create(txc, &domain.ProcessingJob{
			AttachmentID: attachmentID,
			OwnerUserID:  userID,
			Status:       domain.JobStatusPending,
			CurrentStep:  pipeline.StepCompress.String(),
			Progress:     0,
			MaxRetries:   s.cfg.MaxRetries,
		})
		if cErr != nil {
			return cErr
		}
		for _, st := range pipeline.AllSteps() {
			stepRows = append(stepRows, &domain.ProcessingStep{
				JobID:    job.ID,
				StepName: st.String(),
				Status:   domain.StepStatusPending,
			})
		}
		stepRows, cErr = s.steps.CreateBatch(txc, stepRows)
		return cErr
	})
	if err != nil {
		return nil, err
	}

	queueName := taskqueue.QueueNameForUser(userID)
	target := s.cfg.PublicBaseURL + "/api/pipeline/steps/" + pipeline.StepCompress.String()
	payload := pipeline.StepPayload{
		JobID:        job.ID,
		AttachmentID: attachmentID,
		UserID:       userID,
		Timestamp:    time.Now().Unix(),
	}

	messageID, qErr := func() (string, error) {
		if err := s.queue.EnsureQueue(ctx, queueName, 1); err != nil {
			return "", err
		}
		return s.queue.Enqueue(ctx, queueName, target, payload, taskqueue.EnqueueOptions{
			Retries: s.cfg.EnqueueRetries,
		})
	}()
	if qErr != nil {
		failMsg := fmt.Sprintf("failed to queue compression job: %v", qErr)
		if uErr := s.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_message": failMsg,
			"last_error_at": time.Now(),
		}); uErr != nil {
			s.log.Error("failed to mark unqueued job failed", "job_id", job.ID.String(), "error", uErr)
		}
		return nil, fmt.Errorf("%s", failMsg)
	}

	if err := s.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":           domain.JobStatusProcessing,
		"queue_message_id": messageID,
	}); err != nil {
		return nil, err
	}

	s.log.Info("processing job started",
		"job_id", job.ID.String(),
		"attachment_id", attachmentID.String(),
		"user_id", userID.String(),
		"queue", queueName,
	)
	return s.GetJob(ctx, job.ID)
}

func (s *pipelineService) GetJob(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	steps, err := s.steps.ListByJob(dbc, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Job: job, Steps: steps}, nil
}

func (s *pipelineService) CancelJob(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	applied, err := s.machine.Cancel(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Either unknown or already terminal; let the caller see which.
		status, gErr := s.GetJob(ctx, jobID)
		if gErr != nil {
			return nil, gErr
		}
		return status, fmt.Errorf("job %s is already %s", jobID, status.Job.Status)
	}
	return s.GetJob(ctx, jobID)
}

func (s *pipelineService) ListQueues(ctx context.Context) ([]taskqueue.Queue, error) {
	return s.queue.ListQueues(ctx)
}
