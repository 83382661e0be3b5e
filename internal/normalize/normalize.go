// Package normalize maps Trello records to the platform's normalized item shape.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/trello-extractor/internal/trello"
)

// Item is a normalized record as written to artifacts
type Item struct {
	ID           string         `json:"id"`
	CreatedDate  string         `json:"created_date,omitempty"`
	ModifiedDate string         `json:"modified_date,omitempty"`
	Data         map[string]any `json:"data"`
}

// Attachment describes a file to be streamed during the attachments phase
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	ParentID string `json:"parent_id"`
	AuthorID string `json:"author_id,omitempty"`
}

// CreatedFromID decodes the creation time embedded in the first 8 hex digits of a Trello id
func CreatedFromID(id string) (time.Time, bool) {
	if len(id) < 8 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(id[:8], 16, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// ParseTimestamp parses a Trello timestamp such as 2024-01-02T03:04:05.678Z
func ParseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// dates returns created and modified dates. A missing modified date falls back to
// the created date, and an undecodable id falls back to the modified date.
func dates(id, modified string) (string, string) {
	created, hasCreated := CreatedFromID(id)
	mod, hasModified := ParseTimestamp(modified)

	switch {
	case hasCreated && hasModified:
		return format(created), format(mod)
	case hasCreated:
		return format(created), format(created)
	case hasModified:
		return format(mod), format(mod)
	default:
		return "", ""
	}
}

// User normalizes an organization member
func User(m trello.Member) Item {
	created, modified := dates(m.ID, m.LastActive)
	return Item{
		ID:           m.ID,
		CreatedDate:  created,
		ModifiedDate: modified,
		Data: map[string]any{
			"full_name": m.FullName,
			"username":  m.Username,
			"email":     m.Email,
		},
	}
}

// Label normalizes a board label. Unnamed labels are named after their color.
func Label(l trello.Label) Item {
	created, modified := dates(l.ID, "")

	name := l.Name
	if name == "" {
		name = "label-" + l.Color
	}
	return Item{
		ID:           l.ID,
		CreatedDate:  created,
		ModifiedDate: modified,
		Data: map[string]any{
			"name":        name,
			"color":       ColorHex(l.Color),
			"description": richText(name),
		},
	}
}

// Card normalizes a board card. creatorID is the member that created the card,
// empty when unknown, and listName the name of the list holding it.
func Card(c trello.Card, creatorID, listName string) Item {
	created, modified := dates(c.ID, c.DateLastActivity)

	var createdBy, due any
	if creatorID != "" {
		createdBy = creatorID
	}
	if t, ok := ParseTimestamp(c.Due); ok {
		due = format(t)
	}

	return Item{
		ID:           c.ID,
		CreatedDate:  created,
		ModifiedDate: modified,
		Data: map[string]any{
			"name":                c.Name,
			"url":                 c.URL,
			"description":         richText(c.Desc),
			"id_members":          nonNil(c.IDMembers),
			"id_list":             c.IDList,
			"closed":              c.Closed,
			"stage":               Stage(listName),
			"tags":                nonNil(c.IDLabels),
			"created_by":          createdBy,
			"target_close_date":   due,
			"trello_due_complete": c.DueComplete,
		},
	}
}

// Stage maps the name of a card's list to a work stage
func Stage(listName string) string {
	name := strings.ToLower(listName)
	switch {
	case strings.Contains(name, "backlog"):
		return "backlog"
	case strings.Contains(name, "doing"):
		return "in_development"
	case strings.Contains(name, "review"):
		return "in_review"
	case strings.Contains(name, "done"), strings.Contains(name, "archive"):
		return "completed"
	default:
		return "backlog"
	}
}

var labelColors = map[string]string{
	"green":   "#008000",
	"blue":    "#0000FF",
	"orange":  "#FFA500",
	"purple":  "#800080",
	"red":     "#FF0000",
	"yellow":  "#FFFF00",
	"black":   "#000000",
	"white":   "#FFFFFF",
	"gray":    "#808080",
	"brown":   "#A52A2A",
	"pink":    "#FFC0CB",
	"cyan":    "#00FFFF",
	"magenta": "#FF00FF",
	"lime":    "#00FF00",
	"navy":    "#000080",
	"maroon":  "#800000",
	"olive":   "#808000",
	"teal":    "#008080",
	"silver":  "#C0C0C0",
}

// ColorHex converts a Trello label color name to a hex code, black when unknown
func ColorHex(color string) string {
	if hex, ok := labelColors[strings.ToLower(color)]; ok {
		return hex
	}
	return "#000000"
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Comment normalizes a commentCard action of a card on boardID
func Comment(a trello.Action, boardID string) Item {
	modified := a.Data.DateLastEdited
	if modified == "" {
		modified = a.Date
	}
	created, mod := dates(a.ID, modified)

	if a.Data.Board != nil && a.Data.Board.ID != "" {
		boardID = a.Data.Board.ID
	}
	creatorName := ""
	if a.MemberCreator != nil {
		creatorName = a.MemberCreator.Username
	}

	return Item{
		ID:           a.ID,
		CreatedDate:  created,
		ModifiedDate: mod,
		Data: map[string]any{
			"body":                    richText(a.Data.Text),
			"parent_object_id":        a.CardID(),
			"parent_object_type":      "issue",
			"grandparent_object_id":   boardID,
			"grandparent_object_type": "board",
			"created_by_id":           a.IDMemberCreator,
			"creator_display_name":    creatorName,
		},
	}
}

// CardAttachment normalizes an attachment of cardID into a streaming descriptor
func CardAttachment(a trello.Attachment, cardID string) Attachment {
	return Attachment{
		ID:       a.ID,
		URL:      a.URL,
		FileName: a.Name,
		ParentID: cardID,
		AuthorID: a.IDMember,
	}
}

// richText splits text into its non-empty lines
func richText(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
