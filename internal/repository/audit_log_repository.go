package repository

import (
	"github.com/examly/hallpass/internal/model"
	"gorm.io/gorm"
)

type AuditLogRepository interface {
	Create(entry *model.AuditLog) error
	FindAllByTransfer(transferID uint) ([]model.AuditLog, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Create(entry *model.AuditLog) error {
	return r.db.Create(entry).Error
}

func (r *auditLogRepository) FindAllByTransfer(transferID uint) ([]model.AuditLog, error) {
	var entries []model.AuditLog
	err := r.db.Where("transfer_id = ?", transferID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}
