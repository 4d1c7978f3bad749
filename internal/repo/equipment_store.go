package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meshipam/internal/models"
)

type EquipmentStore struct{ db *gorm.DB }

func NewEquipmentStore(db *gorm.DB) *EquipmentStore { return &EquipmentStore{db: db} }

func (s *EquipmentStore) Create(ctx context.Context, e *models.Equipment) error {
	return s.db.WithContext(ctx).Create(e).Error
}

// GetByID возвращает (nil, nil), если оборудования нет.
func (s *EquipmentStore) GetByID(ctx context.Context, id uint) (*models.Equipment, error) {
	var e models.Equipment
	err := s.db.WithContext(ctx).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &e, err
}

func (s *EquipmentStore) GetByUUID(ctx context.Context, uuid string) (*models.Equipment, error) {
	var e models.Equipment
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &e, err
}

func (s *EquipmentStore) GetByMAC(ctx context.Context, mac string) (*models.Equipment, error) {
	var e models.Equipment
	err := s.db.WithContext(ctx).Where("mac_address = ?", mac).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &e, err
}

func (s *EquipmentStore) List(ctx context.Context) ([]models.Equipment, error) {
	var out []models.Equipment
	err := s.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

func (s *EquipmentStore) Save(ctx context.Context, e *models.Equipment) error {
	return s.db.WithContext(ctx).Save(e).Error
}

func (s *EquipmentStore) UpdateStatus(ctx context.Context, id uint, status string, lastSeen *time.Time) error {
	fields := map[string]any{"status": status}
	if lastSeen != nil {
		fields["last_seen"] = *lastSeen
	}
	return s.db.WithContext(ctx).Model(&models.Equipment{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// Delete удаляет строку оборудования. Каскад (привязки, IP, оповещения,
// аудит) — забота registry.Service, не стора.
func (s *EquipmentStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Equipment{}, id).Error
}

// Exists — проверка после удаления: строки не должно остаться.
func (s *EquipmentStore) Exists(ctx context.Context, id uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Equipment{}).
		Where("id = ?", id).
		Count(&n).Error
	return n > 0, err
}

// ProbeTarget — оборудование с активным адресом, кандидат на пробу.
type ProbeTarget struct {
	EquipmentID uint
	Address     string
}

// ActiveTargets выбирает всё оборудование, у которого есть хотя бы одна
// активная привязка, вместе с адресом (первым по assigned_at).
func (s *EquipmentStore) ActiveTargets(ctx context.Context) ([]ProbeTarget, error) {
	var rows []ProbeTarget
	err := s.db.WithContext(ctx).
		Table("ip_assignments").
		Select("ip_assignments.equipment_id AS equipment_id, ip_addresses.address AS address").
		Joins("JOIN ip_addresses ON ip_addresses.id = ip_assignments.ip_address_id").
		Where("ip_assignments.is_active = ?", true).
		Order("ip_assignments.assigned_at").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	// на оборудование может приходиться несколько привязок — пробуем первую
	seen := make(map[uint]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if seen[r.EquipmentID] {
			continue
		}
		seen[r.EquipmentID] = true
		out = append(out, r)
	}
	return out, nil
}

// IdleIDs выбирает оборудование без единой активной привязки. Звонить
// ему некуда, но цикл обязан его навестить: машина статусов принудит
// OFFLINE тем, кто остался ONLINE после снятия последнего адреса.
func (s *EquipmentStore) IdleIDs(ctx context.Context) ([]uint, error) {
	sub := s.db.Table("ip_assignments").
		Select("equipment_id").
		Where("is_active = ?", true)
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.Equipment{}).
		Where("id NOT IN (?)", sub).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
