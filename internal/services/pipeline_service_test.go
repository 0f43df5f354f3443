package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/clients/taskqueue"
	contentrepo "github.com/studify/video-pipeline/internal/data/repos/content"
	jobsrepo "github.com/studify/video-pipeline/internal/data/repos/jobs"
	"github.com/studify/video-pipeline/internal/data/repos/testutil"
	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/pipeline"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
)

// fakeQueue records calls instead of talking to the queue service.
type fakeQueue struct {
	ensured     map[string]int
	enqueued    []string
	failEnqueue error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ensured: map[string]int{}}
}

func (f *fakeQueue) EnsureQueue(ctx context.Context, name string, parallelism int) error {
	f.ensured[name] = parallelism
	return nil
}

func (f *fakeQueue) Enqueue(ctx context.Context, queue string, targetURL string, payload any, opts taskqueue.EnqueueOptions) (string, error) {
	if f.failEnqueue != nil {
		return "", f.failEnqueue
	}
	f.enqueued = append(f.enqueued, targetURL)
	return fmt.Sprintf("msg_%d", len(f.enqueued)), nil
}

func (f *fakeQueue) GetQueue(ctx context.Context, name string) (*taskqueue.Queue, error) {
	return nil, nil
}

func (f *fakeQueue) ListQueues(ctx context.Context) ([]taskqueue.Queue, error) {
	out := make([]taskqueue.Queue, 0, len(f.ensured))
	for name, p := range f.ensured {
		out = append(out, taskqueue.Queue{Name: name, Parallelism: p})
	}
	return out, nil
}

func (f *fakeQueue) DeleteQueue(ctx context.Context, name string) error { return nil }

type serviceEnv struct {
	db      *gorm.DB
	svc     PipelineService
	queue   *fakeQueue
	atts    contentrepo.AttachmentRepo
	owner   uuid.UUID
	baseURL string
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	jobs := jobsrepo.NewProcessingJobRepo(db, log)
	steps := jobsrepo.NewProcessingStepRepo(db, log)
	atts := contentrepo.NewAttachmentRepo(db, log)
	machine := pipeline.NewMachine(db, jobs, steps, log)
	queue := newFakeQueue()
	owner := uuid.New()

	t.Cleanup(func() {
		db.Exec(`DELETE FROM video_processing_step WHERE job_id IN (SELECT id FROM video_processing_job WHERE owner_user_id = ?)`, owner)
		db.Exec(`DELETE FROM video_processing_job WHERE owner_user_id = ?`, owner)
		db.Exec(`DELETE FROM course_attachment WHERE owner_user_id = ?`, owner)
	})

	return &serviceEnv{
		db: db,
		svc: NewPipelineService(db, log, machine, jobs, steps, atts, queue, PipelineServiceConfig{
			PublicBaseURL: "https://api.example.com",
			MaxRetries:    3,
		}),
		queue:   queue,
		atts:    atts,
		owner:   owner,
		baseURL: "https://api.example.com",
	}
}

func (e *serviceEnv) seedAttachment(t *testing.T, kind string) *domain.Attachment {
	t.Helper()
	att, err := e.atts.Create(dbctx.Context{Ctx: context.Background()}, &domain.Attachment{
		OwnerUserID: e.owner,
		Kind:        kind,
		FileName:    "lecture.mp4",
		OriginalURL: "https://cdn.example.com/lecture.mp4",
	})
	if err != nil {
		t.Fatalf("seed attachment: %v", err)
	}
	return att
}

func TestStartJob(t *testing.T) {
	env := newServiceEnv(t)
	att := env.seedAttachment(t, domain.AttachmentKindVideo)
	ctx := context.Background()

	status, err := env.svc.StartJob(ctx, att.ID, env.owner)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if status.Job.Status != domain.JobStatusProcessing {
		t.Fatalf("job status: got %q", status.Job.Status)
	}
	if status.Job.CurrentStep != pipeline.StepCompress.String() {
		t.Fatalf("current step: got %q", status.Job.CurrentStep)
	}
	if status.Job.QueueMessageID == "" {
		t.Fatalf("queue message id not recorded")
	}
	if len(status.Steps) != 4 {
		t.Fatalf("expected 4 step rows, got %d", len(status.Steps))
	}
	for _, st := range status.Steps {
		if st.Status != domain.StepStatusPending {
			t.Fatalf("step %s status: %q", st.StepName, st.Status)
		}
	}

	queueName := taskqueue.QueueNameForUser(env.owner)
	if env.queue.ensured[queueName] != 1 {
		t.Fatalf("queue %q must be ensured with parallelism 1, got %d", queueName, env.queue.ensured[queueName])
	}
	wantTarget := env.baseURL + "/api/pipeline/steps/compress"
	if len(env.queue.enqueued) != 1 || env.queue.enqueued[0] != wantTarget {
		t.Fatalf("enqueue target: %v", env.queue.enqueued)
	}
}

func TestStartJobValidation(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	if _, err := env.svc.StartJob(ctx, uuid.New(), env.owner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing attachment: got %v", err)
	}

	pdf := env.seedAttachment(t, "document")
	if _, err := env.svc.StartJob(ctx, pdf.ID, env.owner); !errors.Is(err, ErrNotVideo) {
		t.Fatalf("non-video attachment: got %v", err)
	}
}

func TestStartJobRejectsConcurrentJob(t *testing.T) {
	env := newServiceEnv(t)
	att := env.seedAttachment(t, domain.AttachmentKindVideo)
	ctx := context.Background()

	if _, err := env.svc.StartJob(ctx, att.ID, env.owner); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := env.svc.StartJob(ctx, att.ID, env.owner); !errors.Is(err, ErrActiveJobExists) {
		t.Fatalf("second start: got %v", err)
	}
}

func TestStartJobEnqueueFailureFailsJob(t *testing.T) {
	env := newServiceEnv(t)
	env.queue.failEnqueue = errors.New("queue unreachable")
	att := env.seedAttachment(t, domain.AttachmentKindVideo)
	ctx := context.Background()

	_, err := env.svc.StartJob(ctx, att.ID, env.owner)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "failed to queue compression job") {
		t.Fatalf("error message: %v", err)
	}

	// The stillborn job must be terminal so the attachment is not wedged.
	var job domain.ProcessingJob
	if err := env.db.Where("attachment_id = ?", att.ID).First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status: got %q", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "failed to queue compression job") {
		t.Fatalf("job error message: %q", job.ErrorMessage)
	}

	// And a retry of StartJob is allowed afterwards.
	env.queue.failEnqueue = nil
	if _, err := env.svc.StartJob(ctx, att.ID, env.owner); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	env := newServiceEnv(t)
	att := env.seedAttachment(t, domain.AttachmentKindVideo)
	ctx := context.Background()

	status, err := env.svc.StartJob(ctx, att.ID, env.owner)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cancelled, err := env.svc.CancelJob(ctx, status.Job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Job.Status != domain.JobStatusCancelled {
		t.Fatalf("status: got %q", cancelled.Job.Status)
	}

	// Cancelling again surfaces the terminal state as an error.
	if _, err := env.svc.CancelJob(ctx, status.Job.ID); err == nil {
		t.Fatalf("expected error cancelling a cancelled job")
	}

	if _, err := env.svc.CancelJob(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown job: got %v", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	env := newServiceEnv(t)
	if _, err := env.svc.GetJob(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}
