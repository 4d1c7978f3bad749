package models

import "time"

// Статусы оборудования. MAINTENANCE ставится только администратором и
// держится до следующего цикла пробера (пробер его не сохраняет — это
// осознанное упрощение, не баг).
const (
	EquipmentStatusOnline      = "ONLINE"
	EquipmentStatusOffline     = "OFFLINE"
	EquipmentStatusMaintenance = "MAINTENANCE"
	EquipmentStatusUnknown     = "UNKNOWN"
)

// Equipment — физическое устройство в mesh-сети.
type Equipment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UUID         string     `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	Type         string     `gorm:"size:64" json:"type"`
	Status       string     `gorm:"size:32;index" json:"status"`
	MAC          *string    `gorm:"column:mac_address;uniqueIndex;size:64" json:"mac_address,omitempty"` // NULL не конфликтует
	Location     string     `gorm:"size:255" json:"location"`
	MeshStrength int        `json:"mesh_strength"` // 0..100
	NodeID       string     `gorm:"size:64" json:"node_id"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

func (Equipment) TableName() string { return "equipment" }
