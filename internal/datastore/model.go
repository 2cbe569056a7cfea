package datastore

import (
	"time"

	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// DetectionEvent is one persisted detection. Rows are immutable once stored.
type DetectionEvent struct {
	ID              uint      `gorm:"primaryKey"`
	Birds           int       `gorm:"column:birds;not null"`
	OccurredAt      time.Time `gorm:"not null;index:idx_detection_events_date_time,priority:2"`
	DurationSeconds float64   `gorm:"not null;default:0"`
	ObservationDate string    `gorm:"type:varchar(10);not null;index:idx_detection_events_date_time,priority:1"`
	CreatedAt       time.Time
}

// TableName pins the table name independent of gorm's naming strategy.
func (DetectionEvent) TableName() string {
	return "detection_events"
}

// ToProtocol converts the row to its client representation.
func (e *DetectionEvent) ToProtocol() protocol.Event {
	return protocol.Event{
		ID:              e.ID,
		Count:           e.Birds,
		OccurredAt:      e.OccurredAt.UTC(),
		DurationSeconds: e.DurationSeconds,
		ObservationDate: e.ObservationDate,
	}
}

// EventsToProtocol converts a slice of rows, preserving order.
func EventsToProtocol(events []DetectionEvent) []protocol.Event {
	out := make([]protocol.Event, len(events))
	for i := range events {
		out[i] = events[i].ToProtocol()
	}
	return out
}

// Totals is a detection count and a bird sum.
type Totals struct {
	Detections int64
	Birds      int64
}

// Summary is the all-time totals and the totals of one date, read together.
type Summary struct {
	All Totals
	Day Totals
}
