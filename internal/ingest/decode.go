package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tphakala/birdnet-relay/internal/clock"
	"github.com/tphakala/birdnet-relay/internal/errors"
)

// envelope is the websocket upstream framing.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type framePayload struct {
	ImageBytesBase64 string `json:"imageBytesBase64"`
}

type liveCountPayload struct {
	Count      *int   `json:"count"`
	Jumlah     *int   `json:"jumlah"`
	ObservedAt string `json:"observedAt"`
	Waktu      string `json:"waktu"`
}

type detectionPayload struct {
	Count           *int     `json:"count"`
	Jumlah          *int     `json:"jumlah"`
	DurationSeconds *float64 `json:"durationSeconds"`
	LamaTerdeteksi  *float64 `json:"lama_terdeteksi"`
	OccurredAt      string   `json:"occurredAt"`
	Waktu           string   `json:"waktu"`
}

// ParseEnvelope splits an {"event": name, "data": payload} message.
func ParseEnvelope(raw []byte) (name string, payload []byte, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, invalid("", "malformed envelope: %v", err)
	}
	if env.Event == "" {
		return "", nil, invalid("", "envelope has no event name")
	}
	return env.Event, env.Data, nil
}

// Decode turns a raw message into a typed event. Every failure is a
// validation error; the caller drops the message and keeps the connection.
func Decode(msg Message, clk *clock.Clock) (Event, error) {
	kind, ok := KindOf(msg.Name)
	if !ok {
		return nil, invalid(msg.Name, "unknown event %q", msg.Name)
	}

	switch kind {
	case KindFrame:
		return decodeFrame(msg.Payload)
	case KindLiveCount:
		return decodeLiveCount(msg, clk)
	default:
		return decodeDetection(msg, clk)
	}
}

// decodeFrame accepts a JSON string, an object carrying imageBytesBase64, or
// a raw binary image which is encoded here.
func decodeFrame(payload []byte) (Event, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Frame{}, nil
	}
	if !json.Valid(trimmed) {
		return Frame{ImageBase64: base64.StdEncoding.EncodeToString(payload)}, nil
	}

	if trimmed[0] == '"' {
		var image string
		if err := json.Unmarshal(trimmed, &image); err != nil {
			return nil, invalid(string(KindFrame), "malformed frame: %v", err)
		}
		return Frame{ImageBase64: image}, nil
	}

	var p framePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, invalid(string(KindFrame), "malformed frame: %v", err)
	}
	return Frame{ImageBase64: p.ImageBytesBase64}, nil
}

func decodeLiveCount(msg Message, clk *clock.Clock) (Event, error) {
	var p liveCountPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, invalid(string(KindLiveCount), "malformed live count: %v", err)
	}

	count := firstOf(p.Count, p.Jumlah)
	if count == nil {
		return nil, invalid(string(KindLiveCount), "live count has no count")
	}
	if *count < 0 {
		return nil, invalid(string(KindLiveCount), "live count %d is negative", *count)
	}

	observedAt := msg.Arrival
	if raw := firstString(p.ObservedAt, p.Waktu); raw != "" {
		t, err := clk.ParseTimestamp(raw, msg.Arrival)
		if err != nil {
			return nil, err
		}
		observedAt = t
	}
	return LiveCount{Count: *count, ObservedAt: observedAt.UTC()}, nil
}

func decodeDetection(msg Message, clk *clock.Clock) (Event, error) {
	var p detectionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, invalid(string(KindDetectionLogged), "malformed detection: %v", err)
	}

	count := firstOf(p.Count, p.Jumlah)
	if count == nil {
		return nil, invalid(string(KindDetectionLogged), "detection has no count")
	}
	if *count < 0 {
		return nil, invalid(string(KindDetectionLogged), "detection count %d is negative", *count)
	}

	var duration float64
	if d := firstOf(p.DurationSeconds, p.LamaTerdeteksi); d != nil {
		duration = *d
	}
	if duration < 0 {
		return nil, invalid(string(KindDetectionLogged), "detection duration %g is negative", duration)
	}

	raw := firstString(p.OccurredAt, p.Waktu)
	if raw == "" {
		return nil, invalid(string(KindDetectionLogged), "detection has no timestamp")
	}
	occurredAt, err := clk.ParseTimestamp(raw, msg.Arrival)
	if err != nil {
		return nil, err
	}

	return DetectionLogged{Count: *count, DurationSeconds: duration, OccurredAt: occurredAt}, nil
}

func firstOf[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func invalid(event, format string, args ...any) error {
	return errors.New(fmt.Errorf(format, args...)).
		Component("ingest").
		Category(errors.CategoryValidation).
		Context("event", event).
		Build()
}
