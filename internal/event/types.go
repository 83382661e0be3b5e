package event

// Type is the type of an inbound platform event
type Type string

const (
	// TypeSyncUnitsStart asks for the list of external sync units (boards)
	TypeSyncUnitsStart Type = "EXTRACTION_EXTERNAL_SYNC_UNITS_START"

	// TypeMetadataStart asks for the external domain metadata
	TypeMetadataStart Type = "EXTRACTION_METADATA_START"

	// TypeDataStart starts the data phase
	TypeDataStart Type = "EXTRACTION_DATA_START"

	// TypeDataContinue resumes the data phase
	TypeDataContinue Type = "EXTRACTION_DATA_CONTINUE"

	// TypeAttachmentsStart starts the attachments phase
	TypeAttachmentsStart Type = "EXTRACTION_ATTACHMENTS_START"

	// TypeAttachmentsContinue resumes the attachments phase
	TypeAttachmentsContinue Type = "EXTRACTION_ATTACHMENTS_CONTINUE"
)

// SignalType is the type of an outbound signal
type SignalType string

// Outbound signal types
const (
	SignalSyncUnitsDone  SignalType = "EXTRACTION_EXTERNAL_SYNC_UNITS_DONE"
	SignalSyncUnitsError SignalType = "EXTRACTION_EXTERNAL_SYNC_UNITS_ERROR"

	SignalMetadataDone  SignalType = "EXTRACTION_METADATA_DONE"
	SignalMetadataError SignalType = "EXTRACTION_METADATA_ERROR"

	SignalDataProgress SignalType = "EXTRACTION_DATA_PROGRESS"
	SignalDataDelay    SignalType = "EXTRACTION_DATA_DELAY"
	SignalDataDone     SignalType = "EXTRACTION_DATA_DONE"
	SignalDataError    SignalType = "EXTRACTION_DATA_ERROR"

	SignalAttachmentsProgress SignalType = "EXTRACTION_ATTACHMENTS_PROGRESS"
	SignalAttachmentsDelay    SignalType = "EXTRACTION_ATTACHMENTS_DELAY"
	SignalAttachmentsDone     SignalType = "EXTRACTION_ATTACHMENTS_DONE"
	SignalAttachmentsError    SignalType = "EXTRACTION_ATTACHMENTS_ERROR"
)

// Mode is the sync mode of a run
type Mode string

const (
	// ModeInitial extracts everything
	ModeInitial Mode = "INITIAL"

	// ModeIncremental extracts only cards modified since the watermark
	ModeIncremental Mode = "INCREMENTAL"
)

// Envelope is the JSON shape shared by every inbound event
type Envelope struct {
	Context           Context           `json:"context"`
	Payload           Payload           `json:"payload"`
	ExecutionMetadata ExecutionMetadata `json:"execution_metadata"`
	InputData         map[string]any    `json:"input_data,omitempty"`
}

// Context carries platform secrets
type Context struct {
	DevOrgID string  `json:"dev_oid,omitempty"`
	SnapInID string  `json:"snap_in_id,omitempty"`
	Secrets  Secrets `json:"secrets"`
}

// Secrets holds the platform token used for callbacks
type Secrets struct {
	ServiceAccountToken string `json:"service_account_token"`
}

// Payload is the event body
type Payload struct {
	ConnectionData ConnectionData `json:"connection_data"`
	EventContext   EventContext   `json:"event_context"`
	EventType      Type           `json:"event_type"`
	EventData      map[string]any `json:"event_data,omitempty"`
}

// ConnectionData references the upstream organization and credentials
type ConnectionData struct {
	Key     string `json:"key"`
	KeyType string `json:"key_type,omitempty"`
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name,omitempty"`
}

// EventContext identifies the sync run and where to send signals
type EventContext struct {
	CallbackURL               string `json:"callback_url"`
	DevOrg                    string `json:"dev_org,omitempty"`
	ExternalSyncUnit          string `json:"external_sync_unit,omitempty"`
	ExternalSyncUnitID        string `json:"external_sync_unit_id"`
	ExternalSyncUnitName      string `json:"external_sync_unit_name,omitempty"`
	ExternalSystem            string `json:"external_system,omitempty"`
	Mode                      Mode   `json:"mode,omitempty"`
	RequestID                 string `json:"request_id,omitempty"`
	SyncRun                   string `json:"sync_run,omitempty"`
	SyncRunID                 string `json:"sync_run_id,omitempty"`
	SyncUnit                  string `json:"sync_unit,omitempty"`
	SyncUnitID                string `json:"sync_unit_id,omitempty"`
	LastSuccessfulSyncStarted string `json:"last_successful_sync_started,omitempty"`
	UUID                      string `json:"uuid,omitempty"`
	WorkerDataURL             string `json:"worker_data_url,omitempty"`
}

// ExecutionMetadata describes the invoking function
type ExecutionMetadata struct {
	RequestID      string `json:"request_id,omitempty"`
	FunctionName   string `json:"function_name,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	DevrevEndpoint string `json:"devrev_endpoint,omitempty"`
}
