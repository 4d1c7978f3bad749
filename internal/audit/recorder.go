package audit

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"meshipam/internal/logs"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

// Entry — вход для записи аудита.
type Entry struct {
	Action      string
	EntityType  string
	EntityID    string
	ActorID     string
	EquipmentID *uint
	IPAddressID *uint
	Details     map[string]any
}

// Recorder пишет журнал аудита. Запись синхронная (для удалений порядок
// важен: сначала аудит, потом delete), но сбой записи не валит основную
// операцию — логируем и едем дальше.
type Recorder struct {
	store *repo.AuditStore
	now   func() time.Time
}

func NewRecorder(store *repo.AuditStore) *Recorder {
	return &Recorder{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Recorder) Append(ctx context.Context, in Entry) {
	var details datatypes.JSON
	if in.Details != nil {
		b, err := json.Marshal(in.Details)
		if err != nil {
			logs.Logger.Warnf("audit: marshal details for %s: %v", in.Action, err)
		} else {
			details = datatypes.JSON(b)
		}
	}
	e := &models.AuditLogEntry{
		CreatedAt:   r.now(),
		Action:      in.Action,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		ActorID:     in.ActorID,
		EquipmentID: in.EquipmentID,
		IPAddressID: in.IPAddressID,
		Details:     details,
	}
	if err := r.store.Append(ctx, e); err != nil {
		// побочный канал: логируем и отбрасываем
		logs.Logger.Warnf("audit: append %s %s/%s failed: %v",
			in.Action, in.EntityType, in.EntityID, err)
	}
}
