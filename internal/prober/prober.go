package prober

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"meshipam/internal/logs"
	"meshipam/internal/models"
	"meshipam/internal/registry"
	"meshipam/internal/repo"
)

// Prober гоняет пробы живости по оборудованию с активными адресами.
// Внутри пакета проб — параллельно, пакеты — последовательно: так
// ограничено число одновременных исходящих проверок.
type Prober struct {
	db        *gorm.DB
	registry  *registry.Service
	pinger    Pinger
	batchSize int
}

func New(db *gorm.DB, reg *registry.Service, pinger Pinger, batchSize int) *Prober {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Prober{db: db, registry: reg, pinger: pinger, batchSize: batchSize}
}

// Cycle — один проход: выбрать цели, прозвонить пакетами, прогнать
// каждый результат через машину статусов. Оборудование без активной
// привязки тоже попадает в проход — с пустым исходом, чтобы машина
// статусов принудила OFFLINE. Ошибка одной пробы не прерывает цикл
// для остальных.
func (p *Prober) Cycle(ctx context.Context) []registry.ProbeResult {
	eqs := repo.NewEquipmentStore(p.db)
	targets, err := eqs.ActiveTargets(ctx)
	if err != nil {
		logs.Logger.Errorf("prober: select targets: %v", err)
		return nil
	}
	idle, err := eqs.IdleIDs(ctx)
	if err != nil {
		logs.Logger.Errorf("prober: select idle equipment: %v", err)
		return nil
	}
	for _, id := range idle {
		targets = append(targets, repo.ProbeTarget{EquipmentID: id})
	}
	if len(targets) == 0 {
		return nil
	}

	results := make([]registry.ProbeResult, 0, len(targets))
	var mu sync.Mutex

	for start := 0; start < len(targets); start += p.batchSize {
		end := start + p.batchSize
		if end > len(targets) {
			end = len(targets)
		}
		var wg sync.WaitGroup
		for _, t := range targets[start:end] {
			wg.Add(1)
			go func(t repo.ProbeTarget) {
				defer wg.Done()
				res, err := p.probeTarget(ctx, t)
				if err != nil {
					logs.Logger.Warnf("prober: apply probe for equipment %d: %v", t.EquipmentID, err)
					return
				}
				mu.Lock()
				results = append(results, *res)
				mu.Unlock()
			}(t)
		}
		wg.Wait()
	}
	return results
}

// probeTarget звонит по адресу (пустой адрес — нечего звонить, пустой
// исход) и отдаёт результат машины статусов вместе с её ошибкой.
func (p *Prober) probeTarget(ctx context.Context, t repo.ProbeTarget) (*registry.ProbeResult, error) {
	out := registry.ProbeOutcome{Address: t.Address}
	if t.Address != "" {
		latency, err := p.pinger.Ping(ctx, t.Address)
		if err != nil {
			// недостижимость — не исключение, а отрицательный сигнал
			out.Err = err.Error()
		} else {
			out.Reachable = true
			out.Latency = latency
		}
	}
	return p.registry.ApplyProbe(ctx, t.EquipmentID, out)
}

// ProbeOne — синхронная проба одного устройства вне расписания,
// та же логика переходов.
func (p *Prober) ProbeOne(ctx context.Context, equipmentID uint) (*registry.ProbeResult, error) {
	eq, err := repo.NewEquipmentStore(p.db).GetByID(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if eq == nil {
		return nil, fmt.Errorf("equipment %d: %w", equipmentID, models.ErrNotFound)
	}

	active, err := repo.NewIPStore(p.db).ActiveForEquipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		// без адреса и звонить некуда — машина статусов принудит OFFLINE
		return p.probeTarget(ctx, repo.ProbeTarget{EquipmentID: equipmentID})
	}

	ip, err := repo.NewIPStore(p.db).GetByID(ctx, active[0].IPAddressID)
	if err != nil {
		return nil, err
	}
	if ip == nil {
		return nil, fmt.Errorf("ip record %d: %w", active[0].IPAddressID, models.ErrNotFound)
	}
	return p.probeTarget(ctx, repo.ProbeTarget{EquipmentID: equipmentID, Address: ip.Address})
}
