package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound — сущность (оборудование/IP/привязка) не найдена.
// Никогда не превращается в тихий успех.
var ErrNotFound = errors.New("not found")

// ValidationError — вход отклонён до любой мутации.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError — адрес уже занят активной привязкой. Несёт данные
// текущего держателя, чтобы вызывающий мог решить про force-release.
type ConflictError struct {
	Address       string
	AssignmentID  uint
	EquipmentID   uint
	EquipmentName string
	Location      string
	AssignedAt    time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ip %s already assigned to %q (assignment %d, since %s)",
		e.Address, e.EquipmentName, e.AssignmentID, e.AssignedAt.Format(time.RFC3339))
}
