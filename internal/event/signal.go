package event

import (
	"github.com/stacklok/trello-extractor/internal/artifacts"
)

// Signal is the body POSTed to the callback URL
type Signal struct {
	EventType    SignalType   `json:"event_type"`
	EventContext EventContext `json:"event_context"`
	EventData    SignalData   `json:"event_data"`
}

// SignalData carries the phase specific payload of a signal
type SignalData struct {
	ExternalSyncUnits []ExternalSyncUnit   `json:"external_sync_units,omitempty"`
	Artifacts         []artifacts.Artifact `json:"artifacts,omitempty"`

	// Delay is the number of seconds to wait before the next invocation
	Delay *int `json:"delay,omitempty"`

	// Progress is a completion percentage, when known
	Progress *int `json:"progress,omitempty"`

	Error *SignalError `json:"error,omitempty"`
}

// SignalError is the error section of an error signal
type SignalError struct {
	Message string `json:"message"`
}

// ExternalSyncUnit describes one board offered for syncing
type ExternalSyncUnit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ItemCount   int    `json:"item_count"`
	ItemType    string `json:"item_type"`
}

// NewSignal builds a signal answering env
func NewSignal(env *Envelope, t SignalType, data SignalData) Signal {
	return Signal{
		EventType:    t,
		EventContext: env.Payload.EventContext,
		EventData:    data,
	}
}
