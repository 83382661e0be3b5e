package app

import (
	"github.com/stacklok/trello-extractor/internal/app/storage"
	"github.com/stacklok/trello-extractor/internal/telemetry"
	"github.com/stacklok/trello-extractor/internal/worker"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Worker handles platform events
	Worker *worker.Worker

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry

	// Storage created the ledger and artifact stores
	Storage storage.Factory
}
