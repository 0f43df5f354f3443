package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type TranscriptSegmentRepo interface {
	ReplaceForAttachment(dbc dbctx.Context, attachmentID uuid.UUID, segments []*domain.TranscriptSegment) ([]*domain.TranscriptSegment, error)
	ListByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]*domain.TranscriptSegment, error)
}

type transcriptSegmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptSegmentRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptSegmentRepo {
	return &transcriptSegmentRepo{
		db:  db,
		log: baseLog.With("repo", "TranscriptSegmentRepo"),
	}
}

// ReplaceForAttachment drops any segments left by an earlier delivery of the
// same step and inserts the new set, so redelivery cannot double-produce rows.
func (r *transcriptSegmentRepo) ReplaceForAttachment(dbc dbctx.Context, attachmentID uuid.UUID, segments []*domain.TranscriptSegment) ([]*domain.TranscriptSegment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if attachmentID == uuid.Nil {
		return []*domain.TranscriptSegment{}, nil
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("attachment_id = ?", attachmentID).
			Delete(&domain.TranscriptSegment{}).Error; err != nil {
			return err
		}
		if len(segments) == 0 {
			return nil
		}
		return txx.Create(&segments).Error
	})
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *transcriptSegmentRepo) ListByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]*domain.TranscriptSegment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.TranscriptSegment
	if attachmentID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("attachment_id = ?", attachmentID).
		Order("segment_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type EmbeddingQueueRepo interface {
	EnqueueBatch(dbc dbctx.Context, items []*domain.EmbeddingQueueItem) (int64, error)
	CountByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) (int64, error)
}

type embeddingQueueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingQueueRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingQueueRepo {
	return &embeddingQueueRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingQueueRepo"),
	}
}

// EnqueueBatch inserts queue items, deduped per attachment on content
// hash. A conflicting row is repointed at the caller's segment id, since
// ReplaceForAttachment re-creates segments with fresh ids on redelivery.
// Returns the number of rows written.
func (r *embeddingQueueRepo) EnqueueBatch(dbc dbctx.Context, items []*domain.EmbeddingQueueItem) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attachment_id"}, {Name: "content_hash"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"segment_id": gorm.Expr("excluded.segment_id"),
				"updated_at": gorm.Expr("now()"),
			}),
		}).
		Create(&items)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *embeddingQueueRepo) CountByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if attachmentID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.EmbeddingQueueItem{}).
		Where("attachment_id = ?", attachmentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
