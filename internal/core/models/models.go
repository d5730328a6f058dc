package models

import (
	"time"

	"gorm.io/datatypes"
)

// Face ist ein eingelerntes Referenzgesicht
type Face struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"index;not null"`    // Anzeigename der Person
	ImagePath string    `gorm:"not null"`          // Pfad zum gespeicherten Referenzbild
	Embedding []byte    `gorm:"type:blob;not null"` // 128 Byte Gesichtssignatur
	CreatedAt time.Time `gorm:"index"`
}

// RecognitionEvent protokolliert das Endergebnis eines analysierten Frames
type RecognitionEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"index;not null" json:"session_id"`
	Seq       uint64         `json:"seq"`                                // Laufende Nummer des Frames in der Sitzung
	State     string         `gorm:"index;not null" json:"state"`        // "recognized", "failed", "idle"
	Name      string         `gorm:"index" json:"name,omitempty"`        // erkannter Name (nur bei "recognized")
	Score     float64        `json:"score"`                              // Ähnlichkeit des besten Treffers
	Reason    string         `json:"reason,omitempty"`                   // Grund für nicht erkannte Frames
	Region    datatypes.JSON `gorm:"type:json" json:"region,omitempty"`  // JSON-Objekt mit x_min, y_min, x_max, y_max
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// Statistics fasst Galerie und Erkennungsverlauf zusammen
type Statistics struct {
	TotalFaces       int64              `json:"total_faces"`
	DistinctNames    int64              `json:"distinct_names"`
	TotalEvents      int64              `json:"total_events"`
	RecognizedEvents int64              `json:"recognized_events"`
	FailedEvents     int64              `json:"failed_events"`
	LatestEvent      *time.Time         `json:"latest_event,omitempty"`
	RecentEvents     []RecognitionEvent `json:"recent_events,omitempty"`
}
