// Package envelope implements the typed message envelope layered over the
// raw transport: a JSON object carrying a type tag, an opaque payload, and a
// timestamp.
package envelope

import (
	"encoding/json"
	"time"
)

// PingType is the envelope type sent by the keepalive timer.
const PingType = "ping"

// Envelope is the generic typed message exchanged over a connection.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New creates an envelope with the given type and payload, stamped now.
// The payload must be JSON-marshalable.
func New(typ string, data any) (Envelope, error) {
	env := Envelope{
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

// Ping returns a keepalive envelope.
func Ping() Envelope {
	env, _ := New(PingType, nil)
	return env
}

// Encode renders the envelope to its JSON wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// probe mirrors the wire form with the timestamp optional, so messages
// without one can still be promoted.
type probe struct {
	Type      *string         `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp"`
}

// Decode attempts to promote a raw text payload to an envelope. Only JSON
// objects carrying a string "type" key qualify; everything else stays a raw
// message. A missing timestamp defaults to the arrival time.
func Decode(data []byte, arrival time.Time) (Envelope, bool) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return Envelope{}, false
	}
	if p.Type == nil {
		return Envelope{}, false
	}

	env := Envelope{
		Type: *p.Type,
		Data: p.Data,
	}
	if p.Timestamp != nil {
		env.Timestamp = *p.Timestamp
	} else {
		env.Timestamp = arrival
	}
	return env, true
}
