package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusRetrying   = "retrying"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"

	StepStatusPending    = "pending"
	StepStatusProcessing = "processing"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
)

// ProcessingJob is the durable record of one video's trip through the
// pipeline. It is the single source of truth the UI polls; nothing is
// pushed to clients.
type ProcessingJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AttachmentID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"attachment_id"`
	OwnerUserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	CurrentStep    string         `gorm:"column:current_step;not null" json:"current_step"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	QueueMessageID string         `gorm:"column:queue_message_id" json:"queue_message_id,omitempty"`
	ErrorMessage   string         `gorm:"column:error_message" json:"error_message,omitempty"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProcessingJob) TableName() string { return "video_processing_job" }

// ProcessingStep is one stage of a job. OutputData carries everything the
// next stage needs so that a lost attachment column can be recovered from
// the previous step's record.
type ProcessingStep struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_step_job_name,unique" json:"job_id"`
	StepName     string         `gorm:"column:step_name;not null;index:idx_step_job_name,unique" json:"step_name"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	RetryCount   int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorDetails datatypes.JSON `gorm:"column:error_details;type:jsonb" json:"error_details,omitempty"`
	OutputData   datatypes.JSON `gorm:"column:output_data;type:jsonb" json:"output_data,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProcessingStep) TableName() string { return "video_processing_step" }
