package ledger

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"gorm.io/gorm"

	"meshipam/internal/alerts"
	"meshipam/internal/audit"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

// Defaults — значения для IP-записи, создаваемой на лету при assign.
type Defaults struct {
	Subnet  string
	Gateway string
	DNS     string
}

// Service — журнал распределения адресов. Все мутации идут в одной
// транзакции под per-IP замком: проверка «адрес свободен» и запись
// привязки неразделимы, так что именно эта проверка — авторитетный
// источник ConflictError.
type Service struct {
	db       *gorm.DB
	alerts   *alerts.Engine
	audit    *audit.Recorder
	defaults Defaults
	locks    *keyLock
	now      func() time.Time
}

func NewService(db *gorm.DB, engine *alerts.Engine, rec *audit.Recorder, d Defaults) *Service {
	return &Service{
		db:       db,
		alerts:   engine,
		audit:    rec,
		defaults: d,
		locks:    newKeyLock(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type AssignInput struct {
	Address     string
	EquipmentID uint
	ActorID     string
	Notes       string
}

// Assign выдаёт адрес оборудованию. Если адреса ещё нет в журнале —
// заводит запись с дефолтными subnet/gateway/dns.
func (s *Service) Assign(ctx context.Context, in AssignInput) (*models.IPAssignment, error) {
	addr := strings.TrimSpace(in.Address)
	if err := validateIPv4(addr); err != nil {
		return nil, err
	}
	if in.EquipmentID == 0 {
		return nil, &models.ValidationError{Field: "equipment_id", Reason: "required"}
	}

	s.locks.lock(addr)
	defer s.locks.unlock(addr)

	now := s.now()
	var (
		created *models.IPAssignment
		ipRec   *models.IPAddress
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ips := repo.NewIPStore(tx)
		eqs := repo.NewEquipmentStore(tx)

		eq, err := eqs.GetByID(ctx, in.EquipmentID)
		if err != nil {
			return err
		}
		if eq == nil {
			return fmt.Errorf("equipment %d: %w", in.EquipmentID, models.ErrNotFound)
		}

		ip, err := ips.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		if ip == nil {
			ip = &models.IPAddress{
				Address: addr,
				Subnet:  s.defaults.Subnet,
				Gateway: s.defaults.Gateway,
				DNS:     s.defaults.DNS,
				Status:  models.IPStatusAvailable,
			}
			if err := ips.Create(ctx, ip); err != nil {
				return err
			}
		}

		active, err := ips.ActiveForIP(ctx, ip.ID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			holder := active[0]
			ce := &models.ConflictError{
				Address:      addr,
				AssignmentID: holder.ID,
				EquipmentID:  holder.EquipmentID,
				AssignedAt:   holder.AssignedAt,
			}
			if he, err := eqs.GetByID(ctx, holder.EquipmentID); err == nil && he != nil {
				ce.EquipmentName = he.Name
				ce.Location = he.Location
			}
			return ce
		}

		a := &models.IPAssignment{
			IPAddressID: ip.ID,
			EquipmentID: eq.ID,
			ActorID:     in.ActorID,
			IsActive:    true,
			AssignedAt:  now,
			Notes:       in.Notes,
		}
		if err := ips.CreateAssignment(ctx, a); err != nil {
			return err
		}
		if err := ips.UpdateStatus(ctx, ip.ID, models.IPStatusAssigned); err != nil {
			return err
		}
		if eq.Status == models.EquipmentStatusOffline {
			if err := eqs.UpdateStatus(ctx, eq.ID, models.EquipmentStatusOnline, &now); err != nil {
				return err
			}
		}
		created = a
		ipRec = ip
		return nil
	})
	if err != nil {
		return nil, err
	}

	// побочные каналы — после коммита
	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditIPAssigned,
		EntityType:  models.EntityAssignment,
		EntityID:    fmt.Sprint(created.ID),
		ActorID:     in.ActorID,
		EquipmentID: &created.EquipmentID,
		IPAddressID: &created.IPAddressID,
		Details:     map[string]any{"address": addr},
	})
	s.alerts.Raise(ctx, alerts.RaiseInput{
		Type:        models.AlertIPAssigned,
		Message:     fmt.Sprintf("ip %s assigned to equipment %d", addr, created.EquipmentID),
		EquipmentID: &created.EquipmentID,
		IPAddressID: &ipRec.ID,
	})
	return created, nil
}

// ReleaseSelector — один из трёх способов указать привязку:
// id привязки, пара (ip, equipment) или голый адрес.
type ReleaseSelector struct {
	AssignmentID uint
	IPAddressID  uint
	EquipmentID  uint
	Address      string
	ActorID      string
}

type ReleaseResult struct {
	AssignmentID    uint      `json:"assignment_id"`
	Address         string    `json:"address"`
	EquipmentID     uint      `json:"equipment_id"`
	ReleasedAt      time.Time `json:"released_at"`
	RemainingActive int       `json:"remaining_active"`
	IPStatus        string    `json:"ip_status"`
}

// Release гасит активную привязку. Отсутствие совпадения — ErrNotFound,
// никогда не тихий no-op: повторный release того же адреса упадёт.
func (s *Service) Release(ctx context.Context, sel ReleaseSelector) (*ReleaseResult, error) {
	// сперва находим адрес, чтобы взять per-IP замок
	addr, err := s.resolveAddress(ctx, sel)
	if err != nil {
		return nil, err
	}

	s.locks.lock(addr)
	defer s.locks.unlock(addr)

	now := s.now()
	var res *ReleaseResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ips := repo.NewIPStore(tx)

		ip, err := ips.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		if ip == nil {
			return fmt.Errorf("ip %s: %w", addr, models.ErrNotFound)
		}

		a, err := s.findActive(ctx, ips, sel, ip.ID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("active assignment for %s: %w", addr, models.ErrNotFound)
		}

		if err := ips.Deactivate(ctx, a.ID, now); err != nil {
			return err
		}

		// статус пересчитываем: AVAILABLE только если активных больше нет.
		// Если остались — это проявившийся конфликт, статус не трогаем.
		remaining, err := ips.ActiveForIP(ctx, ip.ID)
		if err != nil {
			return err
		}
		status := ip.Status
		if len(remaining) == 0 {
			status = models.IPStatusAvailable
			if ip.IsReserved {
				status = models.IPStatusReserved
			}
			if err := ips.UpdateStatus(ctx, ip.ID, status); err != nil {
				return err
			}
		}
		res = &ReleaseResult{
			AssignmentID:    a.ID,
			Address:         addr,
			EquipmentID:     a.EquipmentID,
			ReleasedAt:      now,
			RemainingActive: len(remaining),
			IPStatus:        status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ipID uint
	if ip, err := repo.NewIPStore(s.db).GetByAddress(ctx, addr); err == nil && ip != nil {
		ipID = ip.ID
	}
	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditIPUnassigned,
		EntityType:  models.EntityAssignment,
		EntityID:    fmt.Sprint(res.AssignmentID),
		ActorID:     sel.ActorID,
		EquipmentID: &res.EquipmentID,
		IPAddressID: &ipID,
		Details:     map[string]any{"address": addr, "remaining_active": res.RemainingActive},
	})
	s.alerts.Raise(ctx, alerts.RaiseInput{
		Type:        models.AlertIPUnassigned,
		Message:     fmt.Sprintf("ip %s released from equipment %d", addr, res.EquipmentID),
		EquipmentID: &res.EquipmentID,
		IPAddressID: &ipID,
	})
	return res, nil
}

func (s *Service) resolveAddress(ctx context.Context, sel ReleaseSelector) (string, error) {
	ips := repo.NewIPStore(s.db)
	switch {
	case sel.Address != "":
		addr := strings.TrimSpace(sel.Address)
		if err := validateIPv4(addr); err != nil {
			return "", err
		}
		return addr, nil
	case sel.AssignmentID != 0:
		a, err := ips.ActiveByID(ctx, sel.AssignmentID)
		if err != nil {
			return "", err
		}
		if a == nil {
			return "", fmt.Errorf("assignment %d: %w", sel.AssignmentID, models.ErrNotFound)
		}
		ip, err := ips.GetByID(ctx, a.IPAddressID)
		if err != nil {
			return "", err
		}
		if ip == nil {
			return "", fmt.Errorf("ip record %d: %w", a.IPAddressID, models.ErrNotFound)
		}
		return ip.Address, nil
	case sel.IPAddressID != 0 && sel.EquipmentID != 0:
		ip, err := ips.GetByID(ctx, sel.IPAddressID)
		if err != nil {
			return "", err
		}
		if ip == nil {
			return "", fmt.Errorf("ip record %d: %w", sel.IPAddressID, models.ErrNotFound)
		}
		return ip.Address, nil
	default:
		return "", &models.ValidationError{Field: "selector", Reason: "assignment_id, (ip_address_id, equipment_id) or address required"}
	}
}

// findActive повторяет поиск внутри транзакции — авторитетно.
func (s *Service) findActive(ctx context.Context, ips *repo.IPStore, sel ReleaseSelector, ipID uint) (*models.IPAssignment, error) {
	switch {
	case sel.AssignmentID != 0:
		return ips.ActiveByID(ctx, sel.AssignmentID)
	case sel.IPAddressID != 0 && sel.EquipmentID != 0:
		return ips.ActiveByPair(ctx, sel.IPAddressID, sel.EquipmentID)
	default:
		active, err := ips.ActiveForIP(ctx, ipID)
		if err != nil || len(active) == 0 {
			return nil, err
		}
		return &active[0], nil
	}
}

// validateIPv4 требует dotted-quad (IPv4, без зоны и не 4-in-6).
func validateIPv4(s string) error {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() || strings.Contains(s, ":") {
		return &models.ValidationError{Field: "address", Reason: "must be a dotted-quad IPv4 address"}
	}
	return nil
}
