package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meshipam/internal/models"
)

type IPStore struct{ db *gorm.DB }

func NewIPStore(db *gorm.DB) *IPStore { return &IPStore{db: db} }

// GetByAddress возвращает (nil, nil), если адреса ещё нет в журнале.
func (s *IPStore) GetByAddress(ctx context.Context, address string) (*models.IPAddress, error) {
	var ip models.IPAddress
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&ip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ip, err
}

func (s *IPStore) GetByID(ctx context.Context, id uint) (*models.IPAddress, error) {
	var ip models.IPAddress
	err := s.db.WithContext(ctx).First(&ip, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ip, err
}

func (s *IPStore) Create(ctx context.Context, ip *models.IPAddress) error {
	return s.db.WithContext(ctx).Create(ip).Error
}

func (s *IPStore) Save(ctx context.Context, ip *models.IPAddress) error {
	return s.db.WithContext(ctx).Save(ip).Error
}

func (s *IPStore) UpdateStatus(ctx context.Context, id uint, status string) error {
	return s.db.WithContext(ctx).Model(&models.IPAddress{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *IPStore) List(ctx context.Context) ([]models.IPAddress, error) {
	var out []models.IPAddress
	err := s.db.WithContext(ctx).Order("address").Find(&out).Error
	return out, err
}

func (s *IPStore) ListByStatus(ctx context.Context, status string) ([]models.IPAddress, error) {
	var out []models.IPAddress
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("address").Find(&out).Error
	return out, err
}

// -------- привязки --------

func (s *IPStore) CreateAssignment(ctx context.Context, a *models.IPAssignment) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// ActiveForIP — активные привязки адреса по возрастанию assigned_at
// (первый элемент — самый ранний держатель).
func (s *IPStore) ActiveForIP(ctx context.Context, ipID uint) ([]models.IPAssignment, error) {
	var out []models.IPAssignment
	err := s.db.WithContext(ctx).
		Where("ip_address_id = ? AND is_active = ?", ipID, true).
		Order("assigned_at").
		Find(&out).Error
	return out, err
}

func (s *IPStore) ActiveForEquipment(ctx context.Context, equipmentID uint) ([]models.IPAssignment, error) {
	var out []models.IPAssignment
	err := s.db.WithContext(ctx).
		Where("equipment_id = ? AND is_active = ?", equipmentID, true).
		Order("assigned_at").
		Find(&out).Error
	return out, err
}

func (s *IPStore) ListActive(ctx context.Context) ([]models.IPAssignment, error) {
	var out []models.IPAssignment
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("assigned_at").
		Find(&out).Error
	return out, err
}

// ActiveByID возвращает (nil, nil), если активной привязки с таким id нет.
func (s *IPStore) ActiveByID(ctx context.Context, id uint) (*models.IPAssignment, error) {
	var a models.IPAssignment
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

func (s *IPStore) ActiveByPair(ctx context.Context, ipID, equipmentID uint) (*models.IPAssignment, error) {
	var a models.IPAssignment
	err := s.db.WithContext(ctx).
		Where("ip_address_id = ? AND equipment_id = ? AND is_active = ?", ipID, equipmentID, true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

// Deactivate гасит привязку на месте: is_active=false, released_at=now.
// Сама запись остаётся — история не удаляется.
func (s *IPStore) Deactivate(ctx context.Context, id uint, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.IPAssignment{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":   false,
			"released_at": now,
		}).Error
}

func (s *IPStore) ListAssignments(ctx context.Context, limit int) ([]models.IPAssignment, error) {
	var out []models.IPAssignment
	q := s.db.WithContext(ctx).Order("assigned_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
