package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/studify/video-pipeline/internal/data/repos/jobs"
	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

var (
	// ErrUnknownJob means the delivery references a job row that does not
	// exist. The delivery is acknowledged so the queue stops redelivering.
	ErrUnknownJob = errors.New("unknown processing job")
	// ErrJobHalted means the job reached a terminal or cancelled state and
	// must not run further steps.
	ErrJobHalted = errors.New("job is no longer runnable")
	// ErrStepAlreadyCompleted means this delivery is a duplicate of a step
	// that already finished.
	ErrStepAlreadyCompleted = errors.New("step already completed")
)

var terminalJobStatuses = []string{
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
	domain.JobStatusCancelled,
}

// Machine owns every job/step status transition. Handlers and services
// never write status columns directly; ordering and idempotency guarantees
// all live here.
type Machine struct {
	db    *gorm.DB
	jobs  jobsrepo.ProcessingJobRepo
	steps jobsrepo.ProcessingStepRepo
	log   *logger.Logger
}

func NewMachine(db *gorm.DB, jobs jobsrepo.ProcessingJobRepo, steps jobsrepo.ProcessingStepRepo, baseLog *logger.Logger) *Machine {
	return &Machine{
		db:    db,
		jobs:  jobs,
		steps: steps,
		log:   baseLog.With("component", "PipelineMachine"),
	}
}

// BeginStep claims a step for this delivery: step row goes to processing,
// the job to processing with the step's progress floor. The guarded update
// makes "one active step per job" an explicit check rather than a property
// inherited from queue parallelism.
func (m *Machine) BeginStep(dbc dbctx.Context, jobID uuid.UUID, step Step) (*domain.ProcessingJob, error) {
	job, err := m.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrUnknownJob
	}
	switch job.Status {
	case domain.JobStatusCancelled, domain.JobStatusCompleted, domain.JobStatusFailed:
		return job, ErrJobHalted
	}

	stepRow, err := m.steps.GetByJobAndName(dbc, jobID, step.String())
	if err != nil {
		return nil, err
	}
	if stepRow != nil && stepRow.Status == domain.StepStatusCompleted {
		return job, ErrStepAlreadyCompleted
	}

	now := time.Now()
	err = m.transact(dbc, func(txc dbctx.Context) error {
		if stepRow == nil {
			// Step rows are created at job start; tolerate a legacy job
			// without them.
			_, cErr := m.steps.CreateBatch(txc, []*domain.ProcessingStep{{
				JobID:    jobID,
				StepName: step.String(),
				Status:   domain.StepStatusPending,
			}})
			if cErr != nil {
				return cErr
			}
		}
		if _, sErr := m.steps.UpdateFieldsByJobAndNameUnlessStatus(txc, jobID, step.String(),
			[]string{domain.StepStatusCompleted},
			map[string]interface{}{
				"status":     domain.StepStatusProcessing,
				"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			}); sErr != nil {
			return sErr
		}
		applied, jErr := m.jobs.UpdateFieldsUnlessStatus(txc, jobID, terminalJobStatuses,
			map[string]interface{}{
				"status":       domain.JobStatusProcessing,
				"current_step": step.String(),
				"progress":     gorm.Expr("GREATEST(progress, ?)", step.Progress()),
				"started_at":   gorm.Expr("COALESCE(started_at, ?)", now),
			})
		if jErr != nil {
			return jErr
		}
		if !applied {
			return ErrJobHalted
		}
		return nil
	})
	if err != nil {
		return job, err
	}

	m.log.Info("step started",
		"job_id", jobID.String(),
		"step", step.String(),
		"progress", step.Progress(),
	)
	return job, nil
}

// CompleteStep records a step's output. It deliberately does not advance
// current_step or progress; that happens only once the next step has been
// queued. Calling it again with the same data is a no-op.
func (m *Machine) CompleteStep(dbc dbctx.Context, jobID uuid.UUID, step Step, output datatypes.JSON) error {
	now := time.Now()
	_, err := m.steps.UpdateFieldsByJobAndNameUnlessStatus(dbc, jobID, step.String(),
		[]string{domain.StepStatusCompleted},
		map[string]interface{}{
			"status":        domain.StepStatusCompleted,
			"completed_at":  now,
			"output_data":   output,
			"error_message": "",
		})
	if err != nil {
		return fmt.Errorf("complete step %s: %w", step, err)
	}
	return nil
}

// HandleStepFailure is the single place the retry decision is made. The
// step is marked failed with its error; the job goes to retrying while
// retry budget remains and to terminal failed once it is spent. Returns
// whether the failure was terminal.
func (m *Machine) HandleStepFailure(dbc dbctx.Context, jobID uuid.UUID, step Step, errMsg string, details datatypes.JSON) (bool, error) {
	now := time.Now()
	terminal := false

	err := m.transact(dbc, func(txc dbctx.Context) error {
		if _, sErr := m.steps.UpdateFieldsByJobAndNameUnlessStatus(txc, jobID, step.String(),
			[]string{domain.StepStatusCompleted},
			map[string]interface{}{
				"status":        domain.StepStatusFailed,
				"error_message": errMsg,
				"error_details": details,
				"retry_count":   gorm.Expr("retry_count + 1"),
			}); sErr != nil {
			return sErr
		}

		job, jErr := m.jobs.GetByID(txc, jobID)
		if jErr != nil {
			return jErr
		}
		if job == nil {
			return ErrUnknownJob
		}
		if job.Status == domain.JobStatusCancelled {
			return ErrJobHalted
		}

		newCount := job.RetryCount + 1
		updates := map[string]interface{}{
			"retry_count":   newCount,
			"error_message": errMsg,
			"last_error_at": now,
		}
		if newCount >= job.MaxRetries {
			terminal = true
			updates["status"] = domain.JobStatusFailed
			updates["completed_at"] = now
		} else {
			updates["status"] = domain.JobStatusRetrying
		}
		_, uErr := m.jobs.UpdateFieldsUnlessStatus(txc, jobID,
			[]string{domain.JobStatusCancelled, domain.JobStatusCompleted}, updates)
		return uErr
	})
	if err != nil {
		return false, err
	}

	m.log.Warn("step failed",
		"job_id", jobID.String(),
		"step", step.String(),
		"terminal", terminal,
		"error", errMsg,
	)
	return terminal, nil
}

// AdvanceTo moves the job pointer to the next step after its message has
// been queued. Progress only ever ratchets upward.
func (m *Machine) AdvanceTo(dbc dbctx.Context, jobID uuid.UUID, from Step, next Step, queueMessageID string) error {
	_, err := m.jobs.UpdateFieldsUnlessStatus(dbc, jobID, terminalJobStatuses,
		map[string]interface{}{
			"status":           domain.JobStatusProcessing,
			"current_step":     next.String(),
			"progress":         gorm.Expr("GREATEST(progress, ?)", from.DoneProgress()),
			"queue_message_id": queueMessageID,
		})
	if err != nil {
		return fmt.Errorf("advance %s -> %s: %w", from, next, err)
	}
	return nil
}

// BumpProgress raises job progress to at least p without touching status.
func (m *Machine) BumpProgress(dbc dbctx.Context, jobID uuid.UUID, p int) error {
	_, err := m.jobs.UpdateFieldsUnlessStatus(dbc, jobID, terminalJobStatuses,
		map[string]interface{}{
			"progress": gorm.Expr("GREATEST(progress, ?)", p),
		})
	return err
}

// CompleteJob closes out the job after the final step.
func (m *Machine) CompleteJob(dbc dbctx.Context, jobID uuid.UUID) error {
	now := time.Now()
	applied, err := m.jobs.UpdateFieldsUnlessStatus(dbc, jobID,
		[]string{domain.JobStatusCancelled},
		map[string]interface{}{
			"status":        domain.JobStatusCompleted,
			"progress":      100,
			"completed_at":  now,
			"error_message": "",
		})
	if err != nil {
		return err
	}
	if applied {
		m.log.Info("job completed", "job_id", jobID.String())
	}
	return nil
}

// Cancel is the out-of-band stop. Running steps are not interrupted; the
// next BeginStep refuses and the queue's delivery is acknowledged.
func (m *Machine) Cancel(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	now := time.Now()
	applied, err := m.jobs.UpdateFieldsUnlessStatus(dbc, jobID, terminalJobStatuses,
		map[string]interface{}{
			"status":       domain.JobStatusCancelled,
			"completed_at": now,
		})
	if err != nil {
		return false, err
	}
	if applied {
		m.log.Info("job cancelled", "job_id", jobID.String())
	}
	return applied, nil
}

func (m *Machine) transact(dbc dbctx.Context, fn func(dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return m.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	})
}
