package repo

import (
	"context"

	"gorm.io/gorm"

	"meshipam/internal/models"
)

// AuditStore — только append и чтение. Update/Delete по журналу
// аудита не существует в принципе.
type AuditStore struct{ db *gorm.DB }

func NewAuditStore(db *gorm.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Append(ctx context.Context, e *models.AuditLogEntry) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *AuditStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	var out []models.AuditLogEntry
	q := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *AuditStore) ListByAction(ctx context.Context, action string, limit int) ([]models.AuditLogEntry, error) {
	var out []models.AuditLogEntry
	q := s.db.WithContext(ctx).Where("action = ?", action).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
