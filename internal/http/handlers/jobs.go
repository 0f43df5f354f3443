package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studify/video-pipeline/internal/http/response"
	"github.com/studify/video-pipeline/internal/services"
)

type PipelineJobHandler struct {
	pipeline services.PipelineService
}

func NewPipelineJobHandler(pipeline services.PipelineService) *PipelineJobHandler {
	return &PipelineJobHandler{pipeline: pipeline}
}

type startJobRequest struct {
	AttachmentID uuid.UUID `json:"attachment_id" binding:"required"`
	UserID       uuid.UUID `json:"user_id" binding:"required"`
}

// POST /api/pipeline/jobs
func (h *PipelineJobHandler) StartJob(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	status, err := h.pipeline.StartJob(c.Request.Context(), req.AttachmentID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			response.RespondError(c, http.StatusNotFound, "attachment_not_found", err)
		case errors.Is(err, services.ErrNotVideo):
			response.RespondError(c, http.StatusBadRequest, "not_a_video", err)
		case errors.Is(err, services.ErrActiveJobExists):
			response.RespondError(c, http.StatusConflict, "job_already_active", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "start_job_failed", err)
		}
		return
	}
	response.RespondAccepted(c, status)
}

// GET /api/pipeline/jobs/:id
func (h *PipelineJobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	status, err := h.pipeline.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	response.RespondOK(c, status)
}

// POST /api/pipeline/jobs/:id/cancel
func (h *PipelineJobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	status, err := h.pipeline.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		if status != nil {
			response.RespondError(c, http.StatusConflict, "cancel_job_failed", err)
			return
		}
		if errors.Is(err, services.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, status)
}

// GET /api/pipeline/queues
func (h *PipelineJobHandler) ListQueues(c *gin.Context) {
	queues, err := h.pipeline.ListQueues(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_queues_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"queues": queues})
}
