// Package protocol defines the JSON shapes shared by the subscriber websocket
// and the HTTP query interface. Both surfaces encode these structs, so the
// same query yields byte-identical payloads on either path.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType names a subscriber channel message.
type MessageType string

// Server to subscriber messages
const (
	TypeInitialSnapshot      MessageType = "initialSnapshot"
	TypeRefreshedSnapshot    MessageType = "refreshedSnapshot"
	TypeSnapshotResult       MessageType = "snapshotResult"
	TypeStatsUpdate          MessageType = "statsUpdate"
	TypeLiveCountUpdate      MessageType = "liveCountUpdate"
	TypeFrameUpdate          MessageType = "frameUpdate"
	TypeDetectionLogged      MessageType = "detectionLogged"
	TypeAvailableDatesResult MessageType = "availableDatesResult"
	TypeUpstreamStatus       MessageType = "upstreamStatus"
	TypeError                MessageType = "error"
)

// Subscriber to server requests
const (
	TypeRequestSnapshot       MessageType = "requestSnapshot"
	TypeRequestAvailableDates MessageType = "requestAvailableDates"
)

// Error codes carried in ErrorMessage.Code and HTTP ErrorResponse.Code.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

// Event is a persisted detection as seen by clients.
type Event struct {
	ID              uint      `json:"id"`
	Count           int       `json:"count"`
	OccurredAt      time.Time `json:"occurred_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ObservationDate string    `json:"observation_date"`
}

// Stats are the aggregate counters. Today is evaluated at query time.
type Stats struct {
	TotalDetections int64 `json:"total_detections"`
	TotalBirds      int64 `json:"total_birds"`
	TodayDetections int64 `json:"today_detections"`
	TodayBirds      int64 `json:"today_birds"`
}

// Snapshot is the full view of one date plus global stats.
type Snapshot struct {
	Date    string  `json:"date"`
	History []Event `json:"history"`
	Stats   Stats   `json:"stats"`
}

// History is a date-scoped, newest-first event list.
type History struct {
	Date   string  `json:"date"`
	Events []Event `json:"events"`
}

// AvailableDates lists observation dates, newest first.
type AvailableDates struct {
	Dates []string `json:"dates"`
}

// StatsUpdate carries refreshed counters to subscribers not viewing the affected date.
type StatsUpdate struct {
	Stats Stats `json:"stats"`
}

// LiveCountUpdate is the producer's current in-frame count.
type LiveCountUpdate struct {
	Count      int       `json:"count"`
	ObservedAt time.Time `json:"observed_at"`
}

// FrameUpdate is one image frame. Seq increases monotonically per process.
type FrameUpdate struct {
	ImageBase64 string `json:"image_base64"`
	Seq         uint64 `json:"seq"`
}

// DetectionLogged announces a newly stored event.
type DetectionLogged struct {
	Event Event `json:"event"`
}

// UpstreamStatus reports producer connectivity.
type UpstreamStatus struct {
	Connected bool      `json:"connected"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

// ErrorMessage is a per-request failure sent to one subscriber.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SnapshotRequest is the payload of requestSnapshot.
type SnapshotRequest struct {
	Date string `json:"date"`
}

// Envelope frames every subscriber channel message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a typed message into its envelope bytes.
func Encode(msgType MessageType, payload any) ([]byte, error) {
	if payload == nil {
		return json.Marshal(Envelope{Type: msgType})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

// Decode parses an envelope, leaving Data for the caller to unmarshal by type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// Normalize replaces nil slices so empty results encode as [] rather than null.
func (s Snapshot) Normalize() Snapshot {
	if s.History == nil {
		s.History = []Event{}
	}
	return s
}

// Normalize replaces nil slices so empty results encode as [] rather than null.
func (h History) Normalize() History {
	if h.Events == nil {
		h.Events = []Event{}
	}
	return h
}

// Normalize replaces nil slices so empty results encode as [] rather than null.
func (a AvailableDates) Normalize() AvailableDates {
	if a.Dates == nil {
		a.Dates = []string{}
	}
	return a
}
