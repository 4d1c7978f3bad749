package models

import (
	"time"

	"gorm.io/datatypes"
)

// Жизненный цикл оповещения.
const (
	AlertStatusPending  = "PENDING"
	AlertStatusResolved = "RESOLVED"
)

// Уровни серьёзности.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Типы оповещений.
const (
	AlertEquipmentAdded       = "EQUIPMENT_ADDED"
	AlertEquipmentUpdated     = "EQUIPMENT_UPDATED"
	AlertEquipmentDeleted     = "EQUIPMENT_DELETED"
	AlertEquipmentOffline     = "EQUIPMENT_OFFLINE"
	AlertIPAddressAdded       = "IP_ADDRESS_ADDED"
	AlertIPAddressUpdated     = "IP_ADDRESS_UPDATED"
	AlertIPAddressDeleted     = "IP_ADDRESS_DELETED"
	AlertIPAssigned           = "IP_ASSIGNED"
	AlertIPUnassigned         = "IP_UNASSIGNED"
	AlertIPConflict           = "IP_CONFLICT"
	AlertUserCreated          = "USER_CREATED"
	AlertUserUpdated          = "USER_UPDATED"
	AlertUserDeleted          = "USER_DELETED"
	AlertConfigChanged        = "CONFIG_CHANGED"
	AlertNetworkDisconnection = "NETWORK_DISCONNECTION"
	AlertMeshWeakSignal       = "MESH_WEAK_SIGNAL"
	AlertMaintenanceRequired  = "MAINTENANCE_REQUIRED"
	AlertSecurityBreach       = "SECURITY_BREACH"
	AlertSystemError          = "SYSTEM_ERROR"
)

// DefaultSeverity — серьёзность по умолчанию для каждого типа.
var DefaultSeverity = map[string]string{
	AlertEquipmentAdded:       SeverityInfo,
	AlertEquipmentUpdated:     SeverityWarning,
	AlertEquipmentDeleted:     SeverityWarning,
	AlertEquipmentOffline:     SeverityError,
	AlertIPAddressAdded:       SeverityInfo,
	AlertIPAddressUpdated:     SeverityWarning,
	AlertIPAddressDeleted:     SeverityWarning,
	AlertIPAssigned:           SeverityInfo,
	AlertIPUnassigned:         SeverityInfo,
	AlertIPConflict:           SeverityCritical,
	AlertUserCreated:          SeverityWarning,
	AlertUserUpdated:          SeverityWarning,
	AlertUserDeleted:          SeverityWarning,
	AlertConfigChanged:        SeverityWarning,
	AlertNetworkDisconnection: SeverityCritical,
	AlertMeshWeakSignal:       SeverityWarning,
	AlertMaintenanceRequired:  SeverityWarning,
	AlertSecurityBreach:       SeverityCritical,
	AlertSystemError:          SeverityError,
}

// Alert — уведомление о событии в подсистеме. Побочный канал:
// его создание никогда не валит основную операцию.
type Alert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type        string         `gorm:"size:64;index;not null" json:"type"`
	Severity    string         `gorm:"size:32" json:"severity"`
	Status      string         `gorm:"size:32;index" json:"status"`
	Message     string         `gorm:"size:1024" json:"message"`
	EquipmentID *uint          `gorm:"index" json:"equipment_id,omitempty"`
	IPAddressID *uint          `gorm:"index" json:"ip_address_id,omitempty"`
	Details     datatypes.JSON `json:"details,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `gorm:"size:64" json:"resolved_by,omitempty"`
}

func (Alert) TableName() string { return "alerts" }
