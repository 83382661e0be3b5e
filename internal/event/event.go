// Package event decodes inbound platform events into a closed set of typed events.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnrecognizedEvent is returned for event types this worker does not handle
	ErrUnrecognizedEvent = errors.New("unrecognized event type")

	// ErrMalformedEvent is returned when the event is not valid JSON or lacks required fields
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is one of SyncUnitsStart, MetadataStart, DataExtraction or AttachmentsExtraction
type Event interface {
	// Type returns the inbound event type
	Type() Type

	// Envelope returns the decoded event body
	Envelope() *Envelope

	isEvent()
}

type base struct {
	envelope *Envelope
}

func (b base) Envelope() *Envelope {
	return b.envelope
}

func (b base) Type() Type {
	return b.envelope.Payload.EventType
}

func (base) isEvent() {}

// SyncUnitsStart requests board discovery
type SyncUnitsStart struct{ base }

// MetadataStart requests the external domain metadata
type MetadataStart struct{ base }

// DataExtraction starts or resumes the data phase
type DataExtraction struct {
	base

	// Continue is false for EXTRACTION_DATA_START
	Continue bool
}

// AttachmentsExtraction starts or resumes the attachments phase
type AttachmentsExtraction struct {
	base

	// Continue is false for EXTRACTION_ATTACHMENTS_START
	Continue bool
}

// Decode parses raw into a typed Event
func Decode(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedEvent)
	}

	eventType := gjson.GetBytes(raw, "payload.event_type")
	if !eventType.Exists() || eventType.String() == "" {
		return nil, fmt.Errorf("%w: payload.event_type is missing", ErrMalformedEvent)
	}

	var kind func(base) Event
	switch Type(eventType.String()) {
	case TypeSyncUnitsStart:
		kind = func(b base) Event { return &SyncUnitsStart{base: b} }
	case TypeMetadataStart:
		kind = func(b base) Event { return &MetadataStart{base: b} }
	case TypeDataStart:
		kind = func(b base) Event { return &DataExtraction{base: b} }
	case TypeDataContinue:
		kind = func(b base) Event { return &DataExtraction{base: b, Continue: true} }
	case TypeAttachmentsStart:
		kind = func(b base) Event { return &AttachmentsExtraction{base: b} }
	case TypeAttachmentsContinue:
		kind = func(b base) Event { return &AttachmentsExtraction{base: b, Continue: true} }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, eventType.String())
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	return kind(base{envelope: &env}), nil
}

// DecodeBatch accepts a single event object or an array of events and returns the first one
func DecodeBatch(raw []byte) (Event, error) {
	parsed := gjson.ParseBytes(raw)
	if parsed.IsArray() {
		events := parsed.Array()
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: empty event array", ErrMalformedEvent)
		}
		return Decode([]byte(events[0].Raw))
	}
	return Decode(raw)
}

// RunContext is the immutable per-invocation view of an event used by the orchestrator
type RunContext struct {
	Mode    Mode
	BoardID string
	OrgID   string
	RunKey  string

	// ModifiedSince is the event-supplied watermark, if any
	ModifiedSince *time.Time
}

// RunContextOf extracts the run context from an envelope
func RunContextOf(env *Envelope) (RunContext, error) {
	ec := env.Payload.EventContext

	mode := ec.Mode
	switch mode {
	case "":
		mode = ModeInitial
	case ModeInitial, ModeIncremental:
	default:
		return RunContext{}, fmt.Errorf("%w: unknown sync mode %q", ErrMalformedEvent, mode)
	}

	rc := RunContext{
		Mode:    mode,
		BoardID: ec.ExternalSyncUnitID,
		OrgID:   env.Payload.ConnectionData.OrgID,
		RunKey:  ec.SyncUnitID,
	}
	if rc.RunKey == "" {
		rc.RunKey = ec.ExternalSyncUnitID
	}
	if rc.BoardID == "" {
		return RunContext{}, fmt.Errorf("%w: external_sync_unit_id is missing", ErrMalformedEvent)
	}

	if ec.LastSuccessfulSyncStarted != "" {
		ts, err := time.Parse(time.RFC3339Nano, ec.LastSuccessfulSyncStarted)
		if err != nil {
			return RunContext{}, fmt.Errorf("%w: invalid last_successful_sync_started: %v", ErrMalformedEvent, err)
		}
		ts = ts.UTC()
		rc.ModifiedSince = &ts
	}

	return rc, nil
}
