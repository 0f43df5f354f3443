package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/clients/media"
	"github.com/studify/video-pipeline/internal/clients/speech"
	"github.com/studify/video-pipeline/internal/clients/taskqueue"
	contentrepo "github.com/studify/video-pipeline/internal/data/repos/content"
	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/observability"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/gcp"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

// StepPayload is the queue message body every step receives.
type StepPayload struct {
	JobID        uuid.UUID `json:"job_id" binding:"required"`
	AttachmentID uuid.UUID `json:"attachment_id" binding:"required"`
	UserID       uuid.UUID `json:"user_id" binding:"required"`
	Timestamp    int64     `json:"timestamp,omitempty"`
}

type StepResult struct {
	Step     Step           `json:"step"`
	Status   string         `json:"status"`
	NextStep string         `json:"next_step,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
}

// StepFailedError wraps a provider or persistence failure after it has been
// recorded through the state machine. The handler answers 500 so the queue
// redelivers while retry budget remains.
type StepFailedError struct {
	Step     Step
	Terminal bool
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}
func (e *StepFailedError) Unwrap() error { return e.Err }

// ChainError means the step itself succeeded but the next step could not
// be queued. It is attributed to the next step's name so the job record
// shows where the pipeline actually stopped.
type ChainError struct {
	From Step
	Next Step
	Err  error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("failed to queue next processing step %s: %v", e.Next, e.Err)
}
func (e *ChainError) Unwrap() error { return e.Err }

type RunnerConfig struct {
	// Base URL the queue service calls back on, e.g. https://api.example.com.
	PublicBaseURL string
	// Redelivery budget requested per queued message.
	EnqueueRetries int
	// Wall clock bound for one provider call.
	StepTimeout time.Duration
	Segmenter   SegmenterConfig
}

// Runner executes one step per webhook delivery. It is stateless; every
// invariant is enforced through the Machine and the database.
type Runner struct {
	log         *logger.Logger
	db          *gorm.DB
	machine     *Machine
	attachments contentrepo.AttachmentRepo
	segments    contentrepo.TranscriptSegmentRepo
	embeddings  contentrepo.EmbeddingQueueRepo
	queue       taskqueue.Client
	media       media.Transformer
	speech      speech.Transcriber
	bucket      gcp.BucketService
	cfg         RunnerConfig
}

func NewRunner(
	db *gorm.DB,
	baseLog *logger.Logger,
	machine *Machine,
	attachments contentrepo.AttachmentRepo,
	segments contentrepo.TranscriptSegmentRepo,
	embeddings contentrepo.EmbeddingQueueRepo,
	queue taskqueue.Client,
	transformer media.Transformer,
	transcriber speech.Transcriber,
	bucket gcp.BucketService,
	cfg RunnerConfig,
) *Runner {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15 * time.Minute
	}
	if cfg.EnqueueRetries <= 0 {
		cfg.EnqueueRetries = 3
	}
	if cfg.Segmenter.TargetSegmentSeconds <= 0 {
		cfg.Segmenter = DefaultSegmenterConfig()
	}
	return &Runner{
		log:         baseLog.With("component", "PipelineRunner"),
		db:          db,
		machine:     machine,
		attachments: attachments,
		segments:    segments,
		embeddings:  embeddings,
		queue:       queue,
		media:       transformer,
		speech:      transcriber,
		bucket:      bucket,
		cfg:         cfg,
	}
}

func (r *Runner) RunStep(ctx context.Context, step Step, payload StepPayload) (res *StepResult, err error) {
	ctx, span := observability.StartStepSpan(ctx, step.String(), payload.JobID.String(), payload.AttachmentID.String())
	defer func() {
		outcome := "error"
		if res != nil {
			outcome = res.Status
		}
		observability.EndStepSpan(span, outcome, err)
	}()

	dbc := dbctx.Context{Ctx: ctx}

	job, err := r.machine.BeginStep(dbc, payload.JobID, step)
	if err == ErrStepAlreadyCompleted {
		return r.resumeAfterCompletion(ctx, dbc, step, payload, job)
	}
	if err != nil {
		return nil, err
	}

	att, err := r.attachments.GetByID(dbc, payload.AttachmentID)
	if err != nil {
		return nil, err
	}
	if att == nil {
		return nil, r.failStep(dbc, payload.JobID, step, fmt.Errorf("attachment %s not found", payload.AttachmentID))
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()

	var output map[string]any
	switch step {
	case StepCompress:
		output, err = r.runCompress(stepCtx, dbc, att)
	case StepAudioConvert:
		output, err = r.runAudioConvert(stepCtx, dbc, payload.JobID, att)
	case StepTranscribe:
		output, err = r.runTranscribe(stepCtx, dbc, payload.JobID, att)
	case StepEnqueueEmbeddings:
		output, err = r.runEnqueueEmbeddings(stepCtx, dbc, payload.JobID, att)
	default:
		err = fmt.Errorf("unhandled step %q", step)
	}
	if err != nil {
		return nil, r.failStep(dbc, payload.JobID, step, err)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, r.failStep(dbc, payload.JobID, step, fmt.Errorf("encode output: %w", err))
	}
	if err := r.machine.CompleteStep(dbc, payload.JobID, step, datatypes.JSON(raw)); err != nil {
		return nil, r.failStep(dbc, payload.JobID, step, err)
	}

	next, hasNext := step.Next()
	if !hasNext {
		if err := r.machine.CompleteJob(dbc, payload.JobID); err != nil {
			return nil, err
		}
		return &StepResult{Step: step, Status: "completed", Output: output}, nil
	}

	if err := r.chainNext(ctx, dbc, step, next, payload); err != nil {
		return nil, err
	}
	return &StepResult{Step: step, Status: "completed", NextStep: next.String(), Output: output}, nil
}

// resumeAfterCompletion handles redelivery of a step whose work is already
// recorded. When the job pointer never moved past the step, the earlier
// delivery completed the step but failed to hand off (enqueue or job
// completion), so the hand-off is re-attempted here; chaining is idempotent
// and the redelivery is the retry vehicle. Otherwise it is a plain
// duplicate and is acknowledged without side effects.
func (r *Runner) resumeAfterCompletion(ctx context.Context, dbc dbctx.Context, step Step, payload StepPayload, job *domain.ProcessingJob) (*StepResult, error) {
	if job == nil || job.CurrentStep != step.String() {
		r.log.Info("duplicate delivery skipped",
			"job_id", payload.JobID.String(),
			"step", step.String(),
		)
		return &StepResult{Step: step, Status: "already_completed"}, nil
	}

	next, hasNext := step.Next()
	if !hasNext {
		if err := r.machine.CompleteJob(dbc, payload.JobID); err != nil {
			return nil, err
		}
		return &StepResult{Step: step, Status: "already_completed"}, nil
	}

	r.log.Warn("re-queueing next step after interrupted hand-off",
		"job_id", payload.JobID.String(),
		"step", step.String(),
		"next", next.String(),
	)
	if err := r.chainNext(ctx, dbc, step, next, payload); err != nil {
		return nil, err
	}
	return &StepResult{Step: step, Status: "already_completed", NextStep: next.String()}, nil
}

// chainNext enqueues the next step on the caller's per-user queue and moves
// the job pointer. A queue failure leaves this step completed but fails the
// job under the next step's name.
func (r *Runner) chainNext(ctx context.Context, dbc dbctx.Context, from Step, next Step, payload StepPayload) error {
	queueName := taskqueue.QueueNameForUser(payload.UserID)
	target := r.cfg.PublicBaseURL + "/api/pipeline/steps/" + next.String()

	enqueue := func() (string, error) {
		if err := r.queue.EnsureQueue(ctx, queueName, 1); err != nil {
			return "", err
		}
		return r.queue.Enqueue(ctx, queueName, target, StepPayload{
			JobID:        payload.JobID,
			AttachmentID: payload.AttachmentID,
			UserID:       payload.UserID,
			Timestamp:    time.Now().Unix(),
		}, taskqueue.EnqueueOptions{Retries: r.cfg.EnqueueRetries})
	}

	messageID, err := enqueue()
	if err != nil {
		chainErr := &ChainError{From: from, Next: next, Err: err}
		if _, fErr := r.machine.HandleStepFailure(dbc, payload.JobID, next, chainErr.Error(), nil); fErr != nil {
			r.log.Error("recording chain failure failed",
				"job_id", payload.JobID.String(),
				"step", next.String(),
				"error", fErr,
			)
		}
		return chainErr
	}

	return r.machine.AdvanceTo(dbc, payload.JobID, from, next, messageID)
}

func (r *Runner) runCompress(ctx context.Context, dbc dbctx.Context, att *domain.Attachment) (map[string]any, error) {
	source := att.OriginalURL
	if att.StorageKey != "" && r.bucket != nil {
		// The upload lives in our bucket; confirm the object is really
		// there and take its size before paying for a compression run.
		attrs, err := r.bucket.GetObjectAttrs(ctx, att.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("source object %s: %w", att.StorageKey, err)
		}
		updates := map[string]interface{}{}
		if source == "" {
			source = r.bucket.GetPublicURL(att.StorageKey)
			updates["original_url"] = source
		}
		if attrs.Size > 0 && attrs.Size != att.OriginalSize {
			att.OriginalSize = attrs.Size
			updates["original_size"] = attrs.Size
		}
		if len(updates) > 0 {
			if err := r.attachments.UpdateFields(dbc, att.ID, updates); err != nil {
				return nil, err
			}
		}
	}
	if source == "" {
		return nil, fmt.Errorf("no source video for attachment %s", att.ID)
	}

	res, err := r.media.CompressVideo(ctx, media.CompressRequest{
		SourceURL:    source,
		OutputPrefix: "video/" + att.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	if err := r.persistArtifacts(dbc, att.ID, map[string]interface{}{
		"compressed_url":  res.CompressedURL,
		"compressed_size": res.CompressedSize,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"compressed_url":  res.CompressedURL,
		"compressed_size": res.CompressedSize,
		"original_size":   att.OriginalSize,
	}, nil
}

func (r *Runner) runAudioConvert(ctx context.Context, dbc dbctx.Context, jobID uuid.UUID, att *domain.Attachment) (map[string]any, error) {
	videoURL, err := r.resolveArtifact(dbc, jobID, StepAudioConvert, att.CompressedURL, "compressed_url", att.ID)
	if err != nil {
		return nil, err
	}

	res, err := r.media.ExtractAudio(ctx, media.ExtractAudioRequest{
		VideoURL:     videoURL,
		Format:       "mp3",
		OutputPrefix: "audio/" + att.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	if err := r.persistArtifacts(dbc, att.ID, map[string]interface{}{
		"audio_url":  res.AudioURL,
		"audio_size": res.AudioSize,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"audio_url":            res.AudioURL,
		"audio_size":           res.AudioSize,
		"compressed_video_url": videoURL,
	}, nil
}

func (r *Runner) runTranscribe(ctx context.Context, dbc dbctx.Context, jobID uuid.UUID, att *domain.Attachment) (map[string]any, error) {
	audioURL, err := r.resolveArtifact(dbc, jobID, StepTranscribe, att.AudioURL, "audio_url", att.ID)
	if err != nil {
		return nil, err
	}

	res, err := r.speech.Transcribe(ctx, speech.Request{
		AudioURL: audioURL,
		MimeType: "audio/mpeg",
	})
	if err != nil {
		return nil, err
	}
	if res.Text == "" {
		return nil, fmt.Errorf("empty transcript for attachment %s", att.ID)
	}

	if err := r.persistArtifacts(dbc, att.ID, map[string]interface{}{
		"transcript_text":     res.Text,
		"transcript_language": res.Language,
		"duration_seconds":    res.DurationSeconds,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"transcript_text":  res.Text,
		"language":         res.Language,
		"duration_seconds": res.DurationSeconds,
		"word_count":       res.WordCount,
	}, nil
}

const embeddingInsertChunk = 100

func (r *Runner) runEnqueueEmbeddings(ctx context.Context, dbc dbctx.Context, jobID uuid.UUID, att *domain.Attachment) (map[string]any, error) {
	text := att.TranscriptText
	if text == "" {
		recovered, err := r.recoverFromPreviousStep(dbc, jobID, StepEnqueueEmbeddings, "transcript_text")
		if err != nil {
			return nil, err
		}
		text = recovered
	}
	if text == "" {
		return nil, fmt.Errorf("no transcript for attachment %s", att.ID)
	}

	drafts := SegmentTranscript(text, att.DurationSeconds, r.cfg.Segmenter)
	if len(drafts) == 0 {
		return nil, fmt.Errorf("segmentation produced no segments for attachment %s", att.ID)
	}

	rows := make([]*domain.TranscriptSegment, 0, len(drafts))
	for _, d := range drafts {
		rows = append(rows, &domain.TranscriptSegment{
			AttachmentID: att.ID,
			Index:        d.Index,
			StartSec:     d.StartSec,
			EndSec:       d.EndSec,
			Text:         d.Text,
			WordCount:    d.WordCount,
			ContentHash:  ContentHash(d.Text),
		})
	}
	saved, err := r.segments.ReplaceForAttachment(dbc, att.ID, rows)
	if err != nil {
		return nil, err
	}

	if err := r.machine.BumpProgress(dbc, jobID, 80); err != nil {
		return nil, err
	}

	items := make([]*domain.EmbeddingQueueItem, 0, len(saved))
	for _, seg := range saved {
		items = append(items, &domain.EmbeddingQueueItem{
			AttachmentID: att.ID,
			SegmentID:    seg.ID,
			ContentText:  seg.Text,
			ContentHash:  seg.ContentHash,
			Status:       domain.EmbeddingStatusQueued,
		})
	}

	// Long lectures produce hundreds of rows; insert chunks concurrently.
	// The content-hash conflict clause keeps redelivery harmless.
	var enqueued int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	counts := make([]int64, (len(items)+embeddingInsertChunk-1)/embeddingInsertChunk)
	for i := 0; i < len(items); i += embeddingInsertChunk {
		chunkIdx := i / embeddingInsertChunk
		chunk := items[i:min(i+embeddingInsertChunk, len(items))]
		g.Go(func() error {
			n, err := r.embeddings.EnqueueBatch(dbctx.Context{Ctx: gctx}, chunk)
			if err != nil {
				return err
			}
			counts[chunkIdx] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range counts {
		enqueued += n
	}

	if err := r.machine.BumpProgress(dbc, jobID, 90); err != nil {
		return nil, err
	}

	return map[string]any{
		"segment_count":  len(saved),
		"enqueued_count": enqueued,
	}, nil
}

// resolveArtifact returns the step's canonical input, recovering it from
// the previous step's recorded output when the attachment column is empty.
// The recovered value is written back so later reads see it.
func (r *Runner) resolveArtifact(dbc dbctx.Context, jobID uuid.UUID, step Step, canonical string, outputKey string, attachmentID uuid.UUID) (string, error) {
	if canonical != "" {
		return canonical, nil
	}
	recovered, err := r.recoverFromPreviousStep(dbc, jobID, step, outputKey)
	if err != nil {
		return "", err
	}
	if recovered == "" {
		return "", fmt.Errorf("missing %s for attachment %s and no recoverable output", outputKey, attachmentID)
	}
	r.log.Warn("recovered artifact from previous step output",
		"job_id", jobID.String(),
		"step", step.String(),
		"key", outputKey,
	)
	if err := r.attachments.UpdateFields(dbc, attachmentID, map[string]interface{}{
		outputKey: recovered,
	}); err != nil {
		return "", err
	}
	return recovered, nil
}

func (r *Runner) recoverFromPreviousStep(dbc dbctx.Context, jobID uuid.UUID, step Step, outputKey string) (string, error) {
	prev, ok := step.Prev()
	if !ok {
		return "", nil
	}
	prevRow, err := r.machine.steps.GetByJobAndName(dbc, jobID, prev.String())
	if err != nil {
		return "", err
	}
	if prevRow == nil || len(prevRow.OutputData) == 0 {
		return "", nil
	}
	var out map[string]any
	if err := json.Unmarshal(prevRow.OutputData, &out); err != nil {
		return "", fmt.Errorf("decode %s output: %w", prev, err)
	}
	if v, ok := out[outputKey].(string); ok {
		return v, nil
	}
	return "", nil
}

// persistArtifacts writes artifact columns before the step is marked
// complete, so a crash in between leaves a recoverable attachment rather
// than a lost artifact.
func (r *Runner) persistArtifacts(dbc dbctx.Context, attachmentID uuid.UUID, updates map[string]interface{}) error {
	return r.attachments.UpdateFields(dbc, attachmentID, updates)
}

func (r *Runner) failStep(dbc dbctx.Context, jobID uuid.UUID, step Step, cause error) error {
	terminal, err := r.machine.HandleStepFailure(dbc, jobID, step, cause.Error(), nil)
	if err != nil {
		r.log.Error("recording step failure failed",
			"job_id", jobID.String(),
			"step", step.String(),
			"error", err,
		)
	}
	return &StepFailedError{Step: step, Terminal: terminal, Err: cause}
}
