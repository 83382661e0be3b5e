package ledger

import "time"

// Entity names one of the independently resumable extraction entries
type Entity string

const (
	// EntityUsers tracks organization member extraction
	EntityUsers Entity = "users"

	// EntityLabels tracks board label extraction
	EntityLabels Entity = "labels"

	// EntityCards tracks paginated board card extraction
	EntityCards Entity = "cards"

	// EntityAttachments tracks attachment streaming
	EntityAttachments Entity = "attachments"
)

// State is the persisted progress of one sync run.
// The zero value is the state of a run that never started.
type State struct {
	// Users is the progress of organization member extraction
	Users UsersState `json:"users"`

	// Labels is the progress of board label extraction
	Labels LabelsState `json:"labels"`

	// Cards is the progress of board card extraction
	Cards CardsState `json:"cards"`

	// Attachments is the progress of attachment streaming
	Attachments AttachmentsState `json:"attachments"`

	// LastSuccessfulSyncStarted is when the last completed data phase started
	LastSuccessfulSyncStarted *time.Time `json:"last_successful_sync_started,omitempty"`

	// Run identifies the data phase currently in flight
	Run Run `json:"run"`
}

// UsersState is the users entry of the ledger
type UsersState struct {
	Completed bool `json:"completed"`
}

// LabelsState is the labels entry of the ledger
type LabelsState struct {
	Completed bool `json:"completed"`
}

// CardsState is the cards entry of the ledger.
// Cursor is set only while Completed is false and at least one page was fetched.
type CardsState struct {
	Completed bool `json:"completed"`

	// Cursor is the id of the oldest card already delivered
	Cursor *string `json:"cursor,omitempty"`

	// ModifiedSince is the incremental watermark; nil means unfiltered
	ModifiedSince *time.Time `json:"modified_since,omitempty"`

	// Exhausted reports that pagination reached the end during the current run
	Exhausted bool `json:"exhausted,omitempty"`
}

// AttachmentsState is the attachments entry of the ledger
type AttachmentsState struct {
	Completed bool `json:"completed"`

	// LastProcessed is the index of the last fully handled attachment
	LastProcessed *int `json:"last_processed,omitempty"`
}

// Run scopes the artifacts produced by one data phase
type Run struct {
	ID        string     `json:"id,omitempty"`
	Mode      string     `json:"mode,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Update names the ledger entries to replace. Nil fields are left untouched.
type Update struct {
	Users                     *UsersState
	Labels                    *LabelsState
	Cards                     *CardsState
	Attachments               *AttachmentsState
	LastSuccessfulSyncStarted *time.Time
	Run                       *Run
}

// IsEmpty reports whether the update names no entry
func (u Update) IsEmpty() bool {
	return u.Users == nil && u.Labels == nil && u.Cards == nil && u.Attachments == nil &&
		u.LastSuccessfulSyncStarted == nil && u.Run == nil
}

// Apply returns a copy of s with the entries named by u replaced
func (s State) Apply(u Update) State {
	next := s.Clone()
	if u.Users != nil {
		next.Users = *u.Users
	}
	if u.Labels != nil {
		next.Labels = *u.Labels
	}
	if u.Cards != nil {
		next.Cards = u.Cards.clone()
	}
	if u.Attachments != nil {
		next.Attachments = u.Attachments.clone()
	}
	if u.LastSuccessfulSyncStarted != nil {
		next.LastSuccessfulSyncStarted = timePtr(*u.LastSuccessfulSyncStarted)
	}
	if u.Run != nil {
		next.Run = u.Run.clone()
	}
	return next
}

// IsPhaseDone reports whether the given entity finished
func (s State) IsPhaseDone(e Entity) bool {
	switch e {
	case EntityUsers:
		return s.Users.Completed
	case EntityLabels:
		return s.Labels.Completed
	case EntityCards:
		return s.Cards.Completed
	case EntityAttachments:
		return s.Attachments.Completed
	default:
		return false
	}
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	out := State{
		Users:       s.Users,
		Labels:      s.Labels,
		Cards:       s.Cards.clone(),
		Attachments: s.Attachments.clone(),
		Run:         s.Run.clone(),
	}
	if s.LastSuccessfulSyncStarted != nil {
		out.LastSuccessfulSyncStarted = timePtr(*s.LastSuccessfulSyncStarted)
	}
	return out
}

func (c CardsState) clone() CardsState {
	out := c
	if c.Cursor != nil {
		cursor := *c.Cursor
		out.Cursor = &cursor
	}
	if c.ModifiedSince != nil {
		out.ModifiedSince = timePtr(*c.ModifiedSince)
	}
	return out
}

func (a AttachmentsState) clone() AttachmentsState {
	out := a
	if a.LastProcessed != nil {
		idx := *a.LastProcessed
		out.LastProcessed = &idx
	}
	return out
}

func (r Run) clone() Run {
	out := r
	if r.StartedAt != nil {
		out.StartedAt = timePtr(*r.StartedAt)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
