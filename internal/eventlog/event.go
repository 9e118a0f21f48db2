// internal/eventlog/event.go
//
// Event envelope and typed payloads (spec.md §3 "Lifecycle Event", §6 wire
// format). Modeled as a tagged sum type keyed by `type`, matching
// workflow/definition.go's separation of a generic config map from typed
// accessors — here the discriminator is the `type` field and typed payloads
// are parsed on demand by Event.As*() accessors (spec.md §9 "Polymorphic
// event payloads").

package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates the recognized event types. Unknown types fail validation
// (spec.md §4.1/§4.2).
type Type string

const (
	TypeCreate     Type = "create"
	TypeClaim      Type = "claim"
	TypeRelease    Type = "release"
	TypeBlock      Type = "block"
	TypeUnblock    Type = "unblock"
	TypeComplete   Type = "complete"
	TypeCheckpoint Type = "checkpoint"
	TypeDelegation Type = "delegation"
)

// KnownTypes lists every type accepted by applyEvent, in wire order.
var KnownTypes = []Type{
	TypeCreate, TypeClaim, TypeRelease, TypeBlock, TypeUnblock,
	TypeComplete, TypeCheckpoint, TypeDelegation,
}

// IsKnown reports whether t is one of KnownTypes.
func (t Type) IsKnown() bool {
	for _, known := range KnownTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Event is the on-disk envelope: one JSON object per line in the event log.
type Event struct {
	Type      Type            `json:"type"`
	WUID      string          `json:"wuId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"-"`

	// raw fields are captured so MarshalJSON can re-emit a flat object
	// (spec.md §6 shows claim/lane/title as top-level keys, not nested under
	// "payload").
	raw map[string]json.RawMessage
}

// CreatePayload backs `create` and `claim` events.
type CreatePayload struct {
	Lane  string `json:"lane"`
	Title string `json:"title"`
}

// ReleasePayload backs `release` events.
type ReleasePayload struct {
	Reason string `json:"reason"`
}

// BlockPayload backs `block` events.
type BlockPayload struct {
	Reason string `json:"reason"`
}

// CompletePayload backs `complete` events (currently no fields beyond the
// envelope; kept as a named type for symmetry and forward-compatibility).
type CompletePayload struct{}

// CheckpointPayload backs `checkpoint` events.
type CheckpointPayload struct {
	Note     string `json:"note,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Progress string `json:"progress,omitempty"`
}

// DelegationPayload backs `delegation` events.
type DelegationPayload struct {
	ParentWUID string `json:"parentWuId"`
	SpawnID    string `json:"spawnId"`
}

// New builds an Event, marshaling payload into the flat envelope fields.
func New(typ Type, wuID string, ts time.Time, payload any) (Event, error) {
	if !typ.IsKnown() {
		return Event{}, fmt.Errorf("eventlog: unknown event type %q", typ)
	}
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("eventlog: encode payload: %w", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, fmt.Errorf("eventlog: flatten payload: %w", err)
		}
		fields = m
	}
	return Event{Type: typ, WUID: wuID, Timestamp: ts, raw: fields}, nil
}

// MarshalJSON flattens type/wuId/timestamp plus payload fields into one
// object, matching the wire format in spec.md §6.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range e.raw {
		out[k] = v
	}
	typeRaw, _ := json.Marshal(e.Type)
	out["type"] = typeRaw
	wuRaw, _ := json.Marshal(e.WUID)
	out["wuId"] = wuRaw
	tsRaw, _ := json.Marshal(e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
	out["timestamp"] = tsRaw
	return json.Marshal(out)
}

// UnmarshalJSON parses a line of the event log back into an Event, keeping
// the unrecognized/extra fields around so As*() accessors can decode them.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	typeRaw, ok := m["type"]
	if !ok {
		return fmt.Errorf("eventlog: event missing \"type\"")
	}
	var typ Type
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return fmt.Errorf("eventlog: parse type: %w", err)
	}
	if !typ.IsKnown() {
		return fmt.Errorf("eventlog: unknown event type %q", typ)
	}
	var wuID string
	if raw, ok := m["wuId"]; ok {
		if err := json.Unmarshal(raw, &wuID); err != nil {
			return fmt.Errorf("eventlog: parse wuId: %w", err)
		}
	}
	if wuID == "" {
		return fmt.Errorf("eventlog: event missing \"wuId\"")
	}
	var tsStr string
	if raw, ok := m["timestamp"]; ok {
		if err := json.Unmarshal(raw, &tsStr); err != nil {
			return fmt.Errorf("eventlog: parse timestamp: %w", err)
		}
	}
	ts, err := parseTimestamp(tsStr)
	if err != nil {
		return fmt.Errorf("eventlog: %w", err)
	}
	delete(m, "type")
	delete(m, "wuId")
	delete(m, "timestamp")
	e.Type = typ
	e.WUID = wuID
	e.Timestamp = ts
	e.raw = m
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("event missing timestamp")
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func (e Event) decodeField(name string, out any) error {
	raw, ok := e.raw[name]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// AsCreate decodes a create/claim payload.
func (e Event) AsCreate() (CreatePayload, error) {
	var p CreatePayload
	if err := e.decodeField("lane", &p.Lane); err != nil {
		return p, err
	}
	if err := e.decodeField("title", &p.Title); err != nil {
		return p, err
	}
	return p, nil
}

// AsRelease decodes a release payload.
func (e Event) AsRelease() (ReleasePayload, error) {
	var p ReleasePayload
	err := e.decodeField("reason", &p.Reason)
	return p, err
}

// AsBlock decodes a block payload.
func (e Event) AsBlock() (BlockPayload, error) {
	var p BlockPayload
	err := e.decodeField("reason", &p.Reason)
	return p, err
}

// AsCheckpoint decodes a checkpoint payload.
func (e Event) AsCheckpoint() (CheckpointPayload, error) {
	var p CheckpointPayload
	if err := e.decodeField("note", &p.Note); err != nil {
		return p, err
	}
	if err := e.decodeField("sessionId", &p.SessionID); err != nil {
		return p, err
	}
	if err := e.decodeField("progress", &p.Progress); err != nil {
		return p, err
	}
	return p, nil
}

// AsDelegation decodes a delegation payload.
func (e Event) AsDelegation() (DelegationPayload, error) {
	var p DelegationPayload
	if err := e.decodeField("parentWuId", &p.ParentWUID); err != nil {
		return p, err
	}
	if err := e.decodeField("spawnId", &p.SpawnID); err != nil {
		return p, err
	}
	return p, nil
}
