package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Envelope is the on-disk exchange format for entities pushed between
// devices. The transport layer drops one envelope per file into the spool
// directory; the remote watcher picks them up and stages the payload.
type Envelope struct {
	// Kind names the payload entity type, as produced by Kind.String().
	Kind string `json:"kind"`

	// Payload is the JSON-encoded entity.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps an entity for spool exchange.
func NewEnvelope(e Entity) (*Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.EntityKind(), err)
	}
	return &Envelope{
		Kind:    e.EntityKind().String(),
		Payload: payload,
	}, nil
}

// Decode parses the payload into the concrete entity type named by Kind.
// The decoded entity is validated before being returned.
func (e *Envelope) Decode() (Entity, error) {
	kind, ok := KindFromString(e.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", e.Kind)
	}

	var ent Entity
	switch kind {
	case KindAccount:
		ent = &Account{}
	case KindProfile:
		ent = &Profile{}
	case KindTask:
		ent = &Task{}
	case KindMessage:
		ent = &InboundMessage{}
	case KindTimelineEvent:
		ent = &TimelineEvent{}
	}

	if err := json.Unmarshal(e.Payload, ent); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", e.Kind, err)
	}

	if err := validate(ent); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", e.Kind, err)
	}

	return ent, nil
}

// validate dispatches to the concrete Validate method.
func validate(ent Entity) error {
	switch v := ent.(type) {
	case *Account:
		return v.Validate()
	case *Profile:
		return v.Validate()
	case *Task:
		return v.Validate()
	case *InboundMessage:
		return v.Validate()
	case *TimelineEvent:
		return v.Validate()
	default:
		return fmt.Errorf("unsupported entity type %T", ent)
	}
}

// Validate checks an entity of any kind.
func Validate(ent Entity) error {
	return validate(ent)
}

// SpoolFilename returns the canonical spool filename for an entity:
// {kind}-{id}.json
func SpoolFilename(e Entity) string {
	return fmt.Sprintf("%s-%s.json", e.EntityKind(), e.EntityID())
}

// ReadEnvelopeFile reads and decodes a spool envelope file.
func ReadEnvelopeFile(path string) (Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool file %s: %w", path, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse spool file %s: %w", path, err)
	}

	ent, err := env.Decode()
	if err != nil {
		return nil, fmt.Errorf("invalid spool file %s: %w", path, err)
	}

	return ent, nil
}

// WriteEnvelopeFile writes an entity to the spool directory in envelope
// format. This is the writer half of the device exchange: the watcher on
// the other side consumes the same format.
func WriteEnvelopeFile(spoolDir string, e Entity) error {
	if err := validate(e); err != nil {
		return fmt.Errorf("cannot spool invalid %s: %w", e.EntityKind(), err)
	}

	env, err := NewEnvelope(e)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", e.EntityID(), err)
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	path := filepath.Join(spoolDir, SpoolFilename(e))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write spool file %s: %w", path, err)
	}

	return nil
}
