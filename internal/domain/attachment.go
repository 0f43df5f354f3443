package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const AttachmentKindVideo = "video"

// Attachment is a course file. The pipeline only ever touches video
// attachments; each stage fills in the artifact columns it produced.
type Attachment struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Kind               string         `gorm:"column:kind;not null;index" json:"kind"`
	FileName           string         `gorm:"column:file_name" json:"file_name,omitempty"`
	StorageKey         string         `gorm:"column:storage_key" json:"storage_key,omitempty"`
	OriginalURL        string         `gorm:"column:original_url" json:"original_url,omitempty"`
	OriginalSize       int64          `gorm:"column:original_size" json:"original_size,omitempty"`
	CompressedURL      string         `gorm:"column:compressed_url" json:"compressed_url,omitempty"`
	CompressedSize     int64          `gorm:"column:compressed_size" json:"compressed_size,omitempty"`
	AudioURL           string         `gorm:"column:audio_url" json:"audio_url,omitempty"`
	AudioSize          int64          `gorm:"column:audio_size" json:"audio_size,omitempty"`
	TranscriptText     string         `gorm:"column:transcript_text;type:text" json:"transcript_text,omitempty"`
	TranscriptLanguage string         `gorm:"column:transcript_language" json:"transcript_language,omitempty"`
	DurationSeconds    float64        `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Attachment) TableName() string { return "course_attachment" }
