package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type ProcessingStepRepo interface {
	CreateBatch(dbc dbctx.Context, steps []*domain.ProcessingStep) ([]*domain.ProcessingStep, error)
	GetByJobAndName(dbc dbctx.Context, jobID uuid.UUID, stepName string) (*domain.ProcessingStep, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.ProcessingStep, error)
	UpdateFieldsByJobAndName(dbc dbctx.Context, jobID uuid.UUID, stepName string, updates map[string]interface{}) error
	UpdateFieldsByJobAndNameUnlessStatus(dbc dbctx.Context, jobID uuid.UUID, stepName string, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
}

type processingStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingStepRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingStepRepo {
	return &processingStepRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingStepRepo"),
	}
}

func (r *processingStepRepo) CreateBatch(dbc dbctx.Context, steps []*domain.ProcessingStep) ([]*domain.ProcessingStep, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(steps) == 0 {
		return []*domain.ProcessingStep{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *processingStepRepo) GetByJobAndName(dbc dbctx.Context, jobID uuid.UUID, stepName string) (*domain.ProcessingStep, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil || stepName == "" {
		return nil, nil
	}
	var step domain.ProcessingStep
	err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ? AND step_name = ?", jobID, stepName).
		Limit(1).
		Find(&step).Error
	if err != nil {
		return nil, err
	}
	if step.ID == uuid.Nil {
		return nil, nil
	}
	return &step, nil
}

func (r *processingStepRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.ProcessingStep, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.ProcessingStep
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *processingStepRepo) UpdateFieldsByJobAndName(dbc dbctx.Context, jobID uuid.UUID, stepName string, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil || stepName == "" {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.ProcessingStep{}).
		Where("job_id = ? AND step_name = ?", jobID, stepName).
		Updates(updates).Error
}

func (r *processingStepRepo) UpdateFieldsByJobAndNameUnlessStatus(dbc dbctx.Context, jobID uuid.UUID, stepName string, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil || stepName == "" {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&domain.ProcessingStep{}).
		Where("job_id = ? AND step_name = ?", jobID, stepName)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
