package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/datatypes"

	"meshipam/internal/logs"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

// Типы, по которым держим не больше одного PENDING на оборудование:
// пока условие сохраняется между циклами, повторный Raise — no-op.
var dedupTypes = map[string]bool{
	models.AlertEquipmentOffline: true,
	models.AlertMeshWeakSignal:   true,
}

// RaiseInput — вход для создания оповещения.
type RaiseInput struct {
	Type        string
	Severity    string // пусто — берём дефолт таксономии
	Message     string
	EquipmentID *uint
	IPAddressID *uint
	Details     map[string]any
}

// Engine — движок оповещений. Создание всегда best-effort: отправляется
// после основной мутации, собственные сбои логируются и отбрасываются,
// основную операцию не валит никогда.
type Engine struct {
	store *repo.AlertStore
	now   func() time.Time

	queue chan RaiseInput // nil — синхронный режим (тесты)
	stop  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine создаёт движок. queueSize=0 — синхронный режим без воркера.
func NewEngine(store *repo.AlertStore, queueSize int) *Engine {
	e := &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		stop:  make(chan struct{}),
	}
	if queueSize > 0 {
		e.queue = make(chan RaiseInput, queueSize)
	}
	return e
}

// Start запускает фонового воркера. Повторный Start — no-op.
func (e *Engine) Start() {
	if e.queue == nil {
		return
	}
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.worker()
	})
}

// Close останавливает воркера, дописав то, что уже в очереди.
func (e *Engine) Close() {
	if e.queue == nil {
		return
	}
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case in := <-e.queue:
			e.create(context.Background(), in)
		case <-e.stop:
			// добиваем хвост очереди
			for {
				select {
				case in := <-e.queue:
					e.create(context.Background(), in)
				default:
					return
				}
			}
		}
	}
}

// Raise ставит оповещение в очередь (или пишет сразу в синхронном
// режиме). Переполненная очередь — лог и дроп, без блокировки.
func (e *Engine) Raise(ctx context.Context, in RaiseInput) {
	if e.queue == nil {
		e.create(ctx, in)
		return
	}
	select {
	case e.queue <- in:
	default:
		logs.Logger.Warnf("alerts: queue full, dropping %s", in.Type)
	}
}

func (e *Engine) create(ctx context.Context, in RaiseInput) {
	if dedupTypes[in.Type] && in.EquipmentID != nil {
		ok, err := e.store.HasPending(ctx, in.Type, *in.EquipmentID)
		if err != nil {
			logs.Logger.Warnf("alerts: dedup check %s: %v", in.Type, err)
			return
		}
		if ok {
			return // уже висит PENDING того же типа
		}
	}

	sev := in.Severity
	if sev == "" {
		if d, ok := models.DefaultSeverity[in.Type]; ok {
			sev = d
		} else {
			sev = models.SeverityInfo
		}
	}
	var details datatypes.JSON
	if in.Details != nil {
		if b, err := json.Marshal(in.Details); err == nil {
			details = datatypes.JSON(b)
		}
	}
	a := &models.Alert{
		Type:        in.Type,
		Severity:    sev,
		Status:      models.AlertStatusPending,
		Message:     in.Message,
		EquipmentID: in.EquipmentID,
		IPAddressID: in.IPAddressID,
		Details:     details,
	}
	if err := e.store.Create(ctx, a); err != nil {
		logs.Logger.Warnf("alerts: create %s failed: %v", in.Type, err)
	}
}

// CreateSync — синхронное создание для внешнего API (возвращает результат).
func (e *Engine) CreateSync(ctx context.Context, in RaiseInput) (*models.Alert, error) {
	sev := in.Severity
	if sev == "" {
		if d, ok := models.DefaultSeverity[in.Type]; ok {
			sev = d
		} else {
			sev = models.SeverityInfo
		}
	}
	var details datatypes.JSON
	if in.Details != nil {
		if b, err := json.Marshal(in.Details); err == nil {
			details = datatypes.JSON(b)
		}
	}
	a := &models.Alert{
		Type:        in.Type,
		Severity:    sev,
		Status:      models.AlertStatusPending,
		Message:     in.Message,
		EquipmentID: in.EquipmentID,
		IPAddressID: in.IPAddressID,
		Details:     details,
	}
	if err := e.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) List(ctx context.Context, status string, limit int) ([]models.Alert, error) {
	return e.store.List(ctx, status, limit)
}

// Resolve — явное закрытие администратором.
func (e *Engine) Resolve(ctx context.Context, id uint, resolvedBy string) error {
	return e.store.Resolve(ctx, id, resolvedBy, e.now())
}

// AutoResolve закрывает PENDING оповещения типа для оборудования, когда
// причина ушла (например, вернулся ONLINE).
func (e *Engine) AutoResolve(ctx context.Context, alertType string, equipmentID uint) {
	n, err := e.store.ResolvePendingFor(ctx, alertType, equipmentID, "system", e.now())
	if err != nil {
		logs.Logger.Warnf("alerts: auto-resolve %s for equipment %d: %v", alertType, equipmentID, err)
		return
	}
	if n > 0 {
		logs.Logger.Debugf("alerts: auto-resolved %d %s for equipment %d", n, alertType, equipmentID)
	}
}
