package models

import (
	"time"
)

// PendingOperation ist eine Dateioperation, die nicht sofort ausgeführt werden
// konnte (z.B. ein gesperrtes Referenzbild) und vom Cleanup-Dienst erneut
// versucht wird.
type PendingOperation struct {
	ID            uint      `gorm:"primaryKey"`
	OperationType string    `gorm:"index;not null"` // siehe POType*
	ResourceType  string    `gorm:"index;not null"` // siehe PORes*
	ResourceName  string    `gorm:"not null"`       // z.B. Pfad des Referenzbilds
	ResourceID    int64     // Optional: ID des zugehörigen Gesichts
	CreatedAt     time.Time `gorm:"index"`
	LastAttempt   time.Time // Zeitpunkt des letzten Versuchs
	Retries       int       `gorm:"default:0"` // Anzahl der bisherigen Versuche
	MaxRetries    int       `gorm:"default:5"` // Maximale Anzahl Versuche
	LastError     string    // Letzte Fehlermeldung
	Status        string    `gorm:"index;default:'pending'"` // siehe POStatus*
}

// PendingOperationTypes definiert die möglichen Operationstypen
const (
	POTypeDeleteImage = "delete_image"
)

// PendingOperationStatus definiert die möglichen Status
const (
	POStatusPending   = "pending"
	POStatusFailed    = "failed"
	POStatusCompleted = "completed"
)

// PendingOperationResourceTypes definiert die möglichen Ressourcentypen
const (
	POResReferenceImage = "reference_image"
)
