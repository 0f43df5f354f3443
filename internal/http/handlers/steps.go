package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studify/video-pipeline/internal/http/response"
	"github.com/studify/video-pipeline/internal/pipeline"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

// StepHandler receives the signed webhook deliveries that drive the
// pipeline. Responses are addressed to the queue service: 2xx acknowledges
// the message, 5xx asks for redelivery, 4xx means the message itself is
// bad and must not be retried.
type StepHandler struct {
	log    *logger.Logger
	runner *pipeline.Runner
}

func NewStepHandler(baseLog *logger.Logger, runner *pipeline.Runner) *StepHandler {
	return &StepHandler{
		log:    baseLog.With("handler", "StepHandler"),
		runner: runner,
	}
}

// POST /api/pipeline/steps/:step
func (h *StepHandler) RunStep(c *gin.Context) {
	step, err := pipeline.ParseStep(c.Param("step"))
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "unknown_step", err)
		return
	}

	// Strict validation before any database write: a malformed message
	// must be rejected without side effects so the queue drops it.
	var payload pipeline.StepPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}
	if payload.JobID == uuid.Nil || payload.AttachmentID == uuid.Nil || payload.UserID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload",
			errors.New("job_id, attachment_id and user_id are required"))
		return
	}

	result, err := h.runner.RunStep(c.Request.Context(), step, payload)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrUnknownJob):
			// The job row is gone; acknowledge so the queue stops
			// redelivering an orphaned message.
			response.RespondOK(c, gin.H{"step": step.String(), "status": "skipped", "reason": "unknown job"})
		case errors.Is(err, pipeline.ErrJobHalted):
			response.RespondOK(c, gin.H{"step": step.String(), "status": "skipped", "reason": "job halted"})
		default:
			response.RespondError(c, http.StatusInternalServerError, "step_failed", err)
		}
		return
	}

	response.RespondOK(c, result)
}
