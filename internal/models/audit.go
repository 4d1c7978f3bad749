package models

import (
	"time"

	"gorm.io/datatypes"
)

// Действия аудита.
const (
	AuditIPAssigned             = "IP_ASSIGNED"
	AuditIPUnassigned           = "IP_UNASSIGNED"
	AuditIPConflictResolved     = "IP_CONFLICT_RESOLVED"
	AuditIPOrphanFixed          = "IP_ORPHAN_FIXED"
	AuditEquipmentCreated       = "EQUIPMENT_CREATED"
	AuditEquipmentUpdated       = "EQUIPMENT_UPDATED"
	AuditEquipmentDeleted       = "EQUIPMENT_DELETED"
	AuditEquipmentStatusChanged = "EQUIPMENT_STATUS_CHANGED"
	AuditEquipmentHeartbeat     = "EQUIPMENT_HEARTBEAT"
)

// Типы сущностей в журнале аудита.
const (
	EntityEquipment  = "equipment"
	EntityIPAddress  = "ip_address"
	EntityAssignment = "ip_assignment"
	EntityAlert      = "alert"
)

// AuditLogEntry — неизменяемая запись о действии. Только append:
// записи никогда не обновляются и не удаляются.
type AuditLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Action      string         `gorm:"size:64;index;not null" json:"action"`
	EntityType  string         `gorm:"size:32;index" json:"entity_type"`
	EntityID    string         `gorm:"size:64" json:"entity_id"`
	ActorID     string         `gorm:"column:user_id;size:64" json:"user_id"`
	EquipmentID *uint          `gorm:"index" json:"equipment_id,omitempty"`
	IPAddressID *uint          `gorm:"index" json:"ip_address_id,omitempty"`
	Details     datatypes.JSON `json:"details,omitempty"`
}

func (AuditLogEntry) TableName() string { return "audit_log" }
