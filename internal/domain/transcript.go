package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EmbeddingStatusQueued     = "queued"
	EmbeddingStatusProcessing = "processing"
	EmbeddingStatusCompleted  = "completed"
	EmbeddingStatusFailed     = "failed"
)

// TranscriptSegment is one time-bounded slice of a video transcript.
type TranscriptSegment struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AttachmentID uuid.UUID `gorm:"type:uuid;not null;index" json:"attachment_id"`
	Index        int       `gorm:"column:segment_index;not null" json:"index"`
	StartSec     float64   `gorm:"column:start_sec;not null" json:"start_sec"`
	EndSec       float64   `gorm:"column:end_sec;not null" json:"end_sec"`
	Text         string    `gorm:"column:text;type:text;not null" json:"text"`
	WordCount    int       `gorm:"column:word_count;not null" json:"word_count"`
	ContentHash  string    `gorm:"column:content_hash;not null;index" json:"content_hash"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (TranscriptSegment) TableName() string { return "transcript_segment" }

// EmbeddingQueueItem is handed off to the embedding workers. The
// (attachment, content hash) pair dedupes re-enqueued segments per
// attachment; two videos with identical transcripts each get their own
// rows. Embedding generation itself happens outside this service.
type EmbeddingQueueItem struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AttachmentID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uq_embedding_queue_attachment_hash" json:"attachment_id"`
	SegmentID    uuid.UUID  `gorm:"type:uuid;not null" json:"segment_id"`
	ContentText  string     `gorm:"column:content_text;type:text;not null" json:"content_text"`
	ContentHash  string     `gorm:"column:content_hash;not null;uniqueIndex:uq_embedding_queue_attachment_hash" json:"content_hash"`
	Priority     int        `gorm:"column:priority;not null;default:0" json:"priority"`
	Status       string     `gorm:"column:status;not null;index" json:"status"`
	ProcessedAt  *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (EmbeddingQueueItem) TableName() string { return "embedding_queue" }
