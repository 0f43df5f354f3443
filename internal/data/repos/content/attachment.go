package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type AttachmentRepo interface {
	Create(dbc dbctx.Context, att *domain.Attachment) (*domain.Attachment, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type attachmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttachmentRepo(db *gorm.DB, baseLog *logger.Logger) AttachmentRepo {
	return &attachmentRepo{
		db:  db,
		log: baseLog.With("repo", "AttachmentRepo"),
	}
}

func (r *attachmentRepo) Create(dbc dbctx.Context, att *domain.Attachment) (*domain.Attachment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if att == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(att).Error; err != nil {
		return nil, err
	}
	return att, nil
}

func (r *attachmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Attachment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var att domain.Attachment
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&att).Error
	if err != nil {
		return nil, err
	}
	if att.ID == uuid.Nil {
		return nil, nil
	}
	return &att, nil
}

func (r *attachmentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.Attachment{}).
		Where("id = ?", id).
		Updates(updates).Error
}
