package models

import "time"

// Статусы IP-адреса. Поле производное: ASSIGNED ⇔ есть активная привязка
// (кроме кратковременного дрейфа, который чинит детектор конфликтов).
const (
	IPStatusAvailable = "AVAILABLE"
	IPStatusAssigned  = "ASSIGNED"
	IPStatusReserved  = "RESERVED"
)

// IPAddress — учётная запись адреса в журнале распределения.
type IPAddress struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Address    string `gorm:"uniqueIndex;size:45;not null" json:"address"`
	Subnet     string `gorm:"size:64" json:"subnet"`
	Gateway    string `gorm:"size:45" json:"gateway"`
	DNS        string `gorm:"size:255" json:"dns"`
	Status     string `gorm:"size:32;index" json:"status"`
	IsReserved bool   `json:"is_reserved"`
	Notes      string `gorm:"size:1024" json:"notes"`
}

func (IPAddress) TableName() string { return "ip_addresses" }

// IPAssignment — привязка адреса к оборудованию. Записи никогда не
// удаляются: при освобождении выставляется released_at, история
// сохраняется целиком.
type IPAssignment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IPAddressID uint       `gorm:"index;not null" json:"ip_address_id"`
	EquipmentID uint       `gorm:"index;not null" json:"equipment_id"`
	ActorID     string     `gorm:"column:user_id;size:64" json:"user_id"`
	IsActive    bool       `gorm:"index" json:"is_active"`
	AssignedAt  time.Time  `json:"assigned_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	Notes       string     `gorm:"size:1024" json:"notes"`
}

func (IPAssignment) TableName() string { return "ip_assignments" }
