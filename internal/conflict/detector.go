package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"meshipam/internal/audit"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

// Веса штрафов для health score: конфликт дороже сироты.
const (
	conflictPenalty = 15
	orphanPenalty   = 5
)

// Holder — держатель адреса в отчёте.
type Holder struct {
	AssignmentID  uint      `json:"assignment_id"`
	EquipmentID   uint      `json:"equipment_id"`
	EquipmentName string    `json:"equipment_name"`
	Location      string    `json:"location,omitempty"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// IPConflict — адрес с >1 активной привязкой; держатели по возрастанию
// assigned_at.
type IPConflict struct {
	Address string   `json:"address"`
	Holders []Holder `json:"holders"`
}

// DuplicateEquipment — оборудование с несколькими активными адресами.
// Само по себе не нарушение, но повод посмотреть.
type DuplicateEquipment struct {
	EquipmentID   uint     `json:"equipment_id"`
	EquipmentName string   `json:"equipment_name"`
	Addresses     []string `json:"addresses"`
}

// OrphanedIP — адрес со статусом ASSIGNED без единой активной привязки.
type OrphanedIP struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

type Report struct {
	Conflicts          []IPConflict         `json:"conflicts"`
	DuplicateEquipment []DuplicateEquipment `json:"duplicate_equipment"`
	OrphanedIPs        []OrphanedIP         `json:"orphaned_ips"`
	HealthScore        int                  `json:"health_score"` // 0..100
	ScannedAt          time.Time            `json:"scanned_at"`
}

// Detector — проход сверки по производному состоянию журнала.
// Горячий путь дрейф не предотвращает идеально — чинит его детектор.
type Detector struct {
	db    *gorm.DB
	audit *audit.Recorder
	now   func() time.Time
}

func NewDetector(db *gorm.DB, rec *audit.Recorder) *Detector {
	return &Detector{db: db, audit: rec, now: func() time.Time { return time.Now().UTC() }}
}

// Scan собирает отчёт: настоящие конфликты, дубли по оборудованию,
// осиротевшие адреса и сводный health score.
func (d *Detector) Scan(ctx context.Context) (*Report, error) {
	ips := repo.NewIPStore(d.db)
	eqs := repo.NewEquipmentStore(d.db)

	active, err := ips.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	byIP := make(map[uint][]models.IPAssignment)
	byEq := make(map[uint][]uint) // equipment -> ip ids
	for _, a := range active {
		byIP[a.IPAddressID] = append(byIP[a.IPAddressID], a)
		byEq[a.EquipmentID] = append(byEq[a.EquipmentID], a.IPAddressID)
	}

	ipName := make(map[uint]string)
	eqMeta := make(map[uint]*models.Equipment)
	lookupIP := func(id uint) string {
		if n, ok := ipName[id]; ok {
			return n
		}
		ip, err := ips.GetByID(ctx, id)
		n := fmt.Sprintf("ip#%d", id)
		if err == nil && ip != nil {
			n = ip.Address
		}
		ipName[id] = n
		return n
	}
	lookupEq := func(id uint) *models.Equipment {
		if e, ok := eqMeta[id]; ok {
			return e
		}
		e, _ := eqs.GetByID(ctx, id)
		eqMeta[id] = e
		return e
	}

	rep := &Report{
		Conflicts:          []IPConflict{},
		DuplicateEquipment: []DuplicateEquipment{},
		OrphanedIPs:        []OrphanedIP{},
		ScannedAt:          d.now(),
	}

	for ipID, list := range byIP {
		if len(list) < 2 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].AssignedAt.Before(list[j].AssignedAt) })
		c := IPConflict{Address: lookupIP(ipID)}
		for _, a := range list {
			h := Holder{AssignmentID: a.ID, EquipmentID: a.EquipmentID, AssignedAt: a.AssignedAt}
			if e := lookupEq(a.EquipmentID); e != nil {
				h.EquipmentName = e.Name
				h.Location = e.Location
			}
			c.Holders = append(c.Holders, h)
		}
		rep.Conflicts = append(rep.Conflicts, c)
	}
	sort.Slice(rep.Conflicts, func(i, j int) bool { return rep.Conflicts[i].Address < rep.Conflicts[j].Address })

	for eqID, ipIDs := range byEq {
		if len(ipIDs) < 2 {
			continue
		}
		de := DuplicateEquipment{EquipmentID: eqID}
		if e := lookupEq(eqID); e != nil {
			de.EquipmentName = e.Name
		}
		for _, id := range ipIDs {
			de.Addresses = append(de.Addresses, lookupIP(id))
		}
		sort.Strings(de.Addresses)
		rep.DuplicateEquipment = append(rep.DuplicateEquipment, de)
	}
	sort.Slice(rep.DuplicateEquipment, func(i, j int) bool {
		return rep.DuplicateEquipment[i].EquipmentID < rep.DuplicateEquipment[j].EquipmentID
	})

	assigned, err := ips.ListByStatus(ctx, models.IPStatusAssigned)
	if err != nil {
		return nil, err
	}
	for _, ip := range assigned {
		if len(byIP[ip.ID]) == 0 {
			rep.OrphanedIPs = append(rep.OrphanedIPs, OrphanedIP{Address: ip.Address, Status: ip.Status})
		}
	}

	score := 100 - conflictPenalty*len(rep.Conflicts) - orphanPenalty*len(rep.OrphanedIPs)
	if score < 0 {
		score = 0
	}
	rep.HealthScore = score
	return rep, nil
}

// Resolve гасит все активные привязки адреса кроме keepID; на каждую
// погашенную пишется отдельная запись аудита с указанием, кто оставлен.
func (d *Detector) Resolve(ctx context.Context, address string, keepID uint, actorID string) error {
	now := d.now()
	var (
		ipID      uint
		dropped   []models.IPAssignment
		keptFound bool
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ips := repo.NewIPStore(tx)
		ip, err := ips.GetByAddress(ctx, address)
		if err != nil {
			return err
		}
		if ip == nil {
			return fmt.Errorf("ip %s: %w", address, models.ErrNotFound)
		}
		ipID = ip.ID

		active, err := ips.ActiveForIP(ctx, ip.ID)
		if err != nil {
			return err
		}
		for _, a := range active {
			if a.ID == keepID {
				keptFound = true
			}
		}
		if !keptFound {
			return fmt.Errorf("assignment %d not active for %s: %w", keepID, address, models.ErrNotFound)
		}
		for _, a := range active {
			if a.ID == keepID {
				continue
			}
			if err := ips.Deactivate(ctx, a.ID, now); err != nil {
				return err
			}
			dropped = append(dropped, a)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range dropped {
		a := a
		d.audit.Append(ctx, audit.Entry{
			Action:      models.AuditIPConflictResolved,
			EntityType:  models.EntityAssignment,
			EntityID:    fmt.Sprint(a.ID),
			ActorID:     actorID,
			EquipmentID: &a.EquipmentID,
			IPAddressID: &ipID,
			Details: map[string]any{
				"address":         address,
				"kept_assignment": keepID,
			},
		})
	}
	return nil
}

// AutoResolve — политика по умолчанию: оставить самого раннего держателя.
func (d *Detector) AutoResolve(ctx context.Context, address string, actorID string) (keepID uint, err error) {
	ips := repo.NewIPStore(d.db)
	ip, err := ips.GetByAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	if ip == nil {
		return 0, fmt.Errorf("ip %s: %w", address, models.ErrNotFound)
	}
	active, err := ips.ActiveForIP(ctx, ip.ID)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, fmt.Errorf("no active assignments for %s: %w", address, models.ErrNotFound)
	}
	keepID = active[0].ID // отсортировано по assigned_at
	return keepID, d.Resolve(ctx, address, keepID, actorID)
}

// FixOrphaned возвращает осиротевший адрес в AVAILABLE.
func (d *Detector) FixOrphaned(ctx context.Context, address string, actorID string) error {
	ips := repo.NewIPStore(d.db)
	ip, err := ips.GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	if ip == nil {
		return fmt.Errorf("ip %s: %w", address, models.ErrNotFound)
	}
	if err := ips.UpdateStatus(ctx, ip.ID, models.IPStatusAvailable); err != nil {
		return err
	}
	d.audit.Append(ctx, audit.Entry{
		Action:      models.AuditIPOrphanFixed,
		EntityType:  models.EntityIPAddress,
		EntityID:    fmt.Sprint(ip.ID),
		ActorID:     actorID,
		IPAddressID: &ip.ID,
		Details:     map[string]any{"address": address},
	})
	return nil
}
