package helpers

import (
	"encoding/json"

	"github.com/stacklok/trello-extractor/internal/event"
)

// ServiceAccountToken is the platform token put in every test event
const ServiceAccountToken = "integration-sa-token"

// EventOptions describes a platform event to build
type EventOptions struct {
	Type          event.Type
	Mode          event.Mode
	CallbackURL   string
	ConnectionKey string
	OrgID         string
	BoardID       string
	SyncUnitID    string
}

// BuildEvent renders a platform event document
func BuildEvent(o EventOptions) []byte {
	doc := map[string]any{
		"context": map[string]any{
			"secrets": map[string]any{"service_account_token": ServiceAccountToken},
		},
		"payload": map[string]any{
			"connection_data": map[string]any{
				"key":      o.ConnectionKey,
				"org_id":   o.OrgID,
				"org_name": "Integration Org",
			},
			"event_context": map[string]any{
				"callback_url":          o.CallbackURL,
				"external_sync_unit_id": o.BoardID,
				"sync_unit_id":          o.SyncUnitID,
				"mode":                  string(o.Mode),
			},
			"event_type": string(o.Type),
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}
