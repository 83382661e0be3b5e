package trello

// Board is a Trello board, the unit of external sync
type Board struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc,omitempty"`
	Closed bool   `json:"closed,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Member is an organization member
type Member struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName,omitempty"`
	Username   string `json:"username,omitempty"`
	AvatarHash string `json:"avatarHash,omitempty"`
	LastActive string `json:"lastActive,omitempty"`

	// Email is only returned by GetMember, and only when the token may see it
	Email string `json:"email,omitempty"`
}

// Label is a board label
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// List is a board list (column)
type List struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed,omitempty"`
}

// Card is a board card as returned by /boards/{id}/cards?attachments=true
type Card struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Desc             string       `json:"desc,omitempty"`
	URL              string       `json:"url,omitempty"`
	IDBoard          string       `json:"idBoard,omitempty"`
	IDList           string       `json:"idList,omitempty"`
	IDMembers        []string     `json:"idMembers,omitempty"`
	IDLabels         []string     `json:"idLabels,omitempty"`
	Closed           bool         `json:"closed,omitempty"`
	Due              string       `json:"due,omitempty"`
	DueComplete      bool         `json:"dueComplete,omitempty"`
	DateLastActivity string       `json:"dateLastActivity,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file or link attached to a card
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	IDMember string `json:"idMember,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    *int64 `json:"bytes,omitempty"`
	IsUpload bool   `json:"isUpload,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Action is a card action; commentCard and createCard actions are requested
type Action struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Date            string     `json:"date,omitempty"`
	IDMemberCreator string     `json:"idMemberCreator,omitempty"`
	Data            ActionData `json:"data"`
	MemberCreator   *Member    `json:"memberCreator,omitempty"`
}

// ActionData holds the payload of a commentCard action
type ActionData struct {
	Text           string       `json:"text,omitempty"`
	DateLastEdited string       `json:"dateLastEdited,omitempty"`
	Card           *ActionRef   `json:"card,omitempty"`
	Board          *ActionRef   `json:"board,omitempty"`
	IDCard         string       `json:"idCard,omitempty"`
	List           *ActionRef   `json:"list,omitempty"`
	Old            *ActionTexts `json:"old,omitempty"`
}

// ActionRef references the object an action happened on
type ActionRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ActionTexts is the previous text of an edited comment
type ActionTexts struct {
	Text string `json:"text,omitempty"`
}

// CardID returns the id of the card the action belongs to
func (a Action) CardID() string {
	if a.Data.Card != nil && a.Data.Card.ID != "" {
		return a.Data.Card.ID
	}
	return a.Data.IDCard
}
