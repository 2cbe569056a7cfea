// Package ingest reads the upstream detector feed, turns every message into
// a typed event and dispatches it: frames and live counts go straight to the
// hub, detections are persisted first and then announced.
package ingest

import (
	"time"
)

// Kind is the canonical name of an upstream event.
type Kind string

const (
	KindFrame           Kind = "frame"
	KindLiveCount       Kind = "liveCount"
	KindDetectionLogged Kind = "detectionLogged"
)

// eventNames maps every accepted upstream name, legacy names included, to its kind.
var eventNames = map[string]Kind{
	"frame":           KindFrame,
	"video_frame":     KindFrame,
	"liveCount":       KindLiveCount,
	"deteksi":         KindLiveCount,
	"detectionLogged": KindDetectionLogged,
	"log":             KindDetectionLogged,
}

// KindOf resolves an upstream event name.
func KindOf(name string) (Kind, bool) {
	kind, ok := eventNames[name]
	return kind, ok
}

// Event is one decoded upstream message.
type Event interface {
	Kind() Kind
}

// Frame is a base64 encoded video frame. It is never persisted.
type Frame struct {
	ImageBase64 string
}

// LiveCount is the detector's current number of birds in view.
type LiveCount struct {
	Count      int
	ObservedAt time.Time
}

// DetectionLogged is a detection the producer wants recorded.
type DetectionLogged struct {
	Count           int
	DurationSeconds float64
	OccurredAt      time.Time
}

func (Frame) Kind() Kind           { return KindFrame }
func (LiveCount) Kind() Kind       { return KindLiveCount }
func (DetectionLogged) Kind() Kind { return KindDetectionLogged }

// Message is a raw upstream message before decoding.
type Message struct {
	Name    string
	Payload []byte
	Arrival time.Time
}
