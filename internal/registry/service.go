package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"meshipam/internal/alerts"
	"meshipam/internal/audit"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

// Порог слабого сигнала.
const weakSignalThreshold = 50

// ErrDeleteVerification — после каскадного удаления строка оборудования
// всё ещё на месте.
var ErrDeleteVerification = errors.New("equipment row still present after delete")

// Service — реестр оборудования и его машина статусов. Статус меняют
// только пробер и явный административный override.
type Service struct {
	db     *gorm.DB
	alerts *alerts.Engine
	audit  *audit.Recorder
	now    func() time.Time
}

func NewService(db *gorm.DB, engine *alerts.Engine, rec *audit.Recorder) *Service {
	return &Service{db: db, alerts: engine, audit: rec, now: func() time.Time { return time.Now().UTC() }}
}

type CreateInput struct {
	Name     string
	Type     string
	MAC      string
	Location string
	NodeID   string
	ActorID  string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Equipment, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "required"}
	}
	var mac *string
	if m := strings.TrimSpace(in.MAC); m != "" {
		hw, err := net.ParseMAC(m)
		if err != nil {
			return nil, &models.ValidationError{Field: "mac_address", Reason: "malformed"}
		}
		norm := hw.String()
		eqs := repo.NewEquipmentStore(s.db)
		if ex, err := eqs.GetByMAC(ctx, norm); err != nil {
			return nil, err
		} else if ex != nil {
			return nil, &models.ValidationError{Field: "mac_address", Reason: "already registered"}
		}
		mac = &norm
	}

	e := &models.Equipment{
		UUID:     uuid.NewString(),
		Name:     in.Name,
		Type:     in.Type,
		Status:   models.EquipmentStatusUnknown,
		MAC:      mac,
		Location: in.Location,
		NodeID:   in.NodeID,
	}
	if err := repo.NewEquipmentStore(s.db).Create(ctx, e); err != nil {
		return nil, err
	}

	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditEquipmentCreated,
		EntityType:  models.EntityEquipment,
		EntityID:    fmt.Sprint(e.ID),
		ActorID:     in.ActorID,
		EquipmentID: &e.ID,
		Details:     map[string]any{"name": e.Name, "type": e.Type},
	})
	s.alerts.Raise(ctx, alerts.RaiseInput{
		Type:        models.AlertEquipmentAdded,
		Message:     fmt.Sprintf("equipment %q registered", e.Name),
		EquipmentID: &e.ID,
	})
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Equipment, error) {
	e, err := repo.NewEquipmentStore(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("equipment %d: %w", id, models.ErrNotFound)
	}
	return e, nil
}

func (s *Service) List(ctx context.Context) ([]models.Equipment, error) {
	return repo.NewEquipmentStore(s.db).List(ctx)
}

type UpdateInput struct {
	Name     *string
	Type     *string
	Location *string
	NodeID   *string
	ActorID  string
}

func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*models.Equipment, error) {
	eqs := repo.NewEquipmentStore(s.db)
	e, err := eqs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("equipment %d: %w", id, models.ErrNotFound)
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		e.Name = *in.Name
	}
	if in.Type != nil {
		e.Type = *in.Type
	}
	if in.Location != nil {
		e.Location = *in.Location
	}
	if in.NodeID != nil {
		e.NodeID = *in.NodeID
	}
	if err := eqs.Save(ctx, e); err != nil {
		return nil, err
	}

	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditEquipmentUpdated,
		EntityType:  models.EntityEquipment,
		EntityID:    fmt.Sprint(e.ID),
		ActorID:     in.ActorID,
		EquipmentID: &e.ID,
	})
	s.alerts.Raise(ctx, alerts.RaiseInput{
		Type:        models.AlertEquipmentUpdated,
		Message:     fmt.Sprintf("equipment %q updated", e.Name),
		EquipmentID: &e.ID,
	})
	return e, nil
}

// SetStatus — административный override (в т.ч. MAINTENANCE).
// MAINTENANCE держится только до следующего цикла пробера, который
// заново выведет ONLINE/OFFLINE — это осознанное упрощение.
func (s *Service) SetStatus(ctx context.Context, id uint, status, actorID string) error {
	switch status {
	case models.EquipmentStatusOnline, models.EquipmentStatusOffline,
		models.EquipmentStatusMaintenance, models.EquipmentStatusUnknown:
	default:
		return &models.ValidationError{Field: "status", Reason: "unknown status"}
	}
	eqs := repo.NewEquipmentStore(s.db)
	e, err := eqs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("equipment %d: %w", id, models.ErrNotFound)
	}
	old := e.Status
	if err := eqs.UpdateStatus(ctx, id, status, nil); err != nil {
		return err
	}
	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditEquipmentStatusChanged,
		EntityType:  models.EntityEquipment,
		EntityID:    fmt.Sprint(id),
		ActorID:     actorID,
		EquipmentID: &id,
		Details:     map[string]any{"old": old, "new": status, "override": true},
	})
	return nil
}

// ProbeOutcome — результат одной пробы для машины статусов.
type ProbeOutcome struct {
	Address   string
	Reachable bool
	Latency   time.Duration
	Err       string
}

// ProbeResult — итог применения пробы.
type ProbeResult struct {
	EquipmentID  uint          `json:"equipment_id"`
	Address      string        `json:"address,omitempty"`
	OldStatus    string        `json:"old_status"`
	NewStatus    string        `json:"new_status"`
	Reachable    bool          `json:"reachable"`
	Latency      time.Duration `json:"latency_ns"`
	MeshStrength int           `json:"mesh_strength"`
	Err          string        `json:"error,omitempty"`
}

// ApplyProbe прогоняет результат пробы через машину статусов:
//   - нет активной привязки ⇒ принудительно OFFLINE, что бы ни сказала проба;
//   - достижимо ⇒ ONLINE, last_seen=now, mesh_strength по задержке;
//   - недостижимо/ошибка ⇒ OFFLINE, mesh_strength не трогаем.
func (s *Service) ApplyProbe(ctx context.Context, equipmentID uint, out ProbeOutcome) (*ProbeResult, error) {
	eqs := repo.NewEquipmentStore(s.db)
	ips := repo.NewIPStore(s.db)

	e, err := eqs.GetByID(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("equipment %d: %w", equipmentID, models.ErrNotFound)
	}

	active, err := ips.ActiveForEquipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	old := e.Status
	res := &ProbeResult{
		EquipmentID: equipmentID,
		Address:     out.Address,
		OldStatus:   old,
		Reachable:   out.Reachable,
		Latency:     out.Latency,
		Err:         out.Err,
	}

	switch {
	case len(active) == 0:
		// инвариант: без активного адреса оборудование OFFLINE
		e.Status = models.EquipmentStatusOffline
	case out.Reachable:
		e.Status = models.EquipmentStatusOnline
		e.LastSeen = &now
		e.MeshStrength = strengthFromLatency(out.Latency)
	default:
		e.Status = models.EquipmentStatusOffline
	}
	res.NewStatus = e.Status
	res.MeshStrength = e.MeshStrength

	if err := eqs.Save(ctx, e); err != nil {
		return nil, err
	}

	if old != e.Status {
		s.audit.Append(ctx, audit.Entry{
			Action:      models.AuditEquipmentStatusChanged,
			EntityType:  models.EntityEquipment,
			EntityID:    fmt.Sprint(e.ID),
			ActorID:     "prober",
			EquipmentID: &e.ID,
			Details: map[string]any{
				"old":        old,
				"new":        e.Status,
				"address":    out.Address,
				"latency_ms": out.Latency.Milliseconds(),
			},
		})
		switch e.Status {
		case models.EquipmentStatusOffline:
			s.alerts.Raise(ctx, alerts.RaiseInput{
				Type:        models.AlertEquipmentOffline,
				Message:     fmt.Sprintf("equipment %q is unreachable", e.Name),
				EquipmentID: &e.ID,
				Details:     map[string]any{"address": out.Address, "error": out.Err},
			})
		case models.EquipmentStatusOnline:
			s.alerts.AutoResolve(ctx, models.AlertEquipmentOffline, e.ID)
		}
	}

	if e.Status == models.EquipmentStatusOnline && e.MeshStrength < weakSignalThreshold {
		s.alerts.Raise(ctx, alerts.RaiseInput{
			Type:        models.AlertMeshWeakSignal,
			Message:     fmt.Sprintf("equipment %q mesh strength %d below %d", e.Name, e.MeshStrength, weakSignalThreshold),
			EquipmentID: &e.ID,
			Details:     map[string]any{"mesh_strength": e.MeshStrength},
		})
	}
	return res, nil
}

type HeartbeatInput struct {
	EquipmentID  uint
	MeshStrength int
	DataRate     float64
	Location     string
	Timestamp    time.Time
}

// Heartbeat — push-сигнал живости от самого оборудования: ONLINE,
// last_seen из отметки, mesh_strength как сообщили.
func (s *Service) Heartbeat(ctx context.Context, in HeartbeatInput) error {
	if in.MeshStrength < 0 || in.MeshStrength > 100 {
		return &models.ValidationError{Field: "mesh_strength", Reason: "must be in 0..100"}
	}
	eqs := repo.NewEquipmentStore(s.db)
	e, err := eqs.GetByID(ctx, in.EquipmentID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("equipment %d: %w", in.EquipmentID, models.ErrNotFound)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	old := e.Status
	e.Status = models.EquipmentStatusOnline
	e.LastSeen = &ts
	e.MeshStrength = in.MeshStrength
	if in.Location != "" {
		e.Location = in.Location
	}
	if err := eqs.Save(ctx, e); err != nil {
		return err
	}

	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditEquipmentHeartbeat,
		EntityType:  models.EntityEquipment,
		EntityID:    fmt.Sprint(e.ID),
		ActorID:     "equipment",
		EquipmentID: &e.ID,
		Details: map[string]any{
			"mesh_strength": in.MeshStrength,
			"data_rate":     in.DataRate,
			"timestamp":     ts.Format(time.RFC3339),
		},
	})
	if old != models.EquipmentStatusOnline {
		s.alerts.AutoResolve(ctx, models.AlertEquipmentOffline, e.ID)
	}
	return nil
}

// Delete — каскадная очистка: снимок активных привязок → аудит (пока
// сущность ещё существует) → деактивация привязок → освобождение
// адресов → отвязка оповещений (не удаление) → удаление строки →
// проверка, что строки нет.
func (s *Service) Delete(ctx context.Context, id uint, actorID string) error {
	eqs := repo.NewEquipmentStore(s.db)
	e, err := eqs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("equipment %d: %w", id, models.ErrNotFound)
	}

	active, err := repo.NewIPStore(s.db).ActiveForEquipment(ctx, id)
	if err != nil {
		return err
	}

	// аудит до удаления — ссылка ещё валидна
	s.audit.Append(ctx, audit.Entry{
		Action:      models.AuditEquipmentDeleted,
		EntityType:  models.EntityEquipment,
		EntityID:    fmt.Sprint(id),
		ActorID:     actorID,
		EquipmentID: &id,
		Details:     map[string]any{"name": e.Name, "active_assignments": len(active)},
	})

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ips := repo.NewIPStore(tx)
		txEqs := repo.NewEquipmentStore(tx)
		als := repo.NewAlertStore(tx)

		for _, a := range active {
			if err := ips.Deactivate(ctx, a.ID, now); err != nil {
				return err
			}
			remaining, err := ips.ActiveForIP(ctx, a.IPAddressID)
			if err != nil {
				return err
			}
			if len(remaining) == 0 {
				ip, err := ips.GetByID(ctx, a.IPAddressID)
				if err != nil {
					return err
				}
				status := models.IPStatusAvailable
				if ip != nil && ip.IsReserved {
					// резерв переживает снятие привязки
					status = models.IPStatusReserved
				}
				if err := ips.UpdateStatus(ctx, a.IPAddressID, status); err != nil {
					return err
				}
			}
		}
		if err := als.DetachEquipment(ctx, id); err != nil {
			return err
		}
		return txEqs.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	still, err := eqs.Exists(ctx, id)
	if err != nil {
		return err
	}
	if still {
		return ErrDeleteVerification
	}

	s.alerts.Raise(ctx, alerts.RaiseInput{
		Type:    models.AlertEquipmentDeleted,
		Message: fmt.Sprintf("equipment %q deleted", e.Name),
	})
	return nil
}

// strengthFromLatency: чем выше задержка, тем слабее сигнал, пол 0.
func strengthFromLatency(d time.Duration) int {
	ms := int(d.Milliseconds())
	s := 100 - ms
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
