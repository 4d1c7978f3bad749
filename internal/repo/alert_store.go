package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meshipam/internal/models"
)

var ErrAlertNotFound = errors.New("alert not found")

type AlertStore struct{ db *gorm.DB }

func NewAlertStore(db *gorm.DB) *AlertStore { return &AlertStore{db: db} }

func (s *AlertStore) Create(ctx context.Context, a *models.Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *AlertStore) GetByID(ctx context.Context, id uint) (*models.Alert, error) {
	var a models.Alert
	err := s.db.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	return &a, err
}

func (s *AlertStore) List(ctx context.Context, status string, limit int) ([]models.Alert, error) {
	var out []models.Alert
	q := s.db.WithContext(ctx).Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// HasPending — есть ли уже незакрытое оповещение такого типа по этому
// оборудованию (дедупликация условных оповещений).
func (s *AlertStore) HasPending(ctx context.Context, alertType string, equipmentID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("type = ? AND equipment_id = ? AND status = ?",
			alertType, equipmentID, models.AlertStatusPending).
		Count(&n).Error
	return n > 0, err
}

func (s *AlertStore) Resolve(ctx context.Context, id uint, resolvedBy string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, models.AlertStatusPending).
		Updates(map[string]any{
			"status":      models.AlertStatusResolved,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ResolvePendingFor закрывает все PENDING оповещения данного типа по
// оборудованию (неявное разрешение при уходе причины).
func (s *AlertStore) ResolvePendingFor(ctx context.Context, alertType string, equipmentID uint, resolvedBy string, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("type = ? AND equipment_id = ? AND status = ?",
			alertType, equipmentID, models.AlertStatusPending).
		Updates(map[string]any{
			"status":      models.AlertStatusResolved,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	return res.RowsAffected, res.Error
}

// DetachEquipment отвязывает оповещения от удаляемого оборудования,
// не удаляя сами оповещения.
func (s *AlertStore) DetachEquipment(ctx context.Context, equipmentID uint) error {
	return s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("equipment_id = ?", equipmentID).
		Update("equipment_id", nil).Error
}
