package extraction

import (
	"context"
	"fmt"

	"github.com/stacklok/trello-extractor/internal/trello"
)

// CardLister lists the cards of a board, newest first, older than before
type CardLister interface {
	ListBoardCards(ctx context.Context, boardID string, limit int, before string) ([]trello.Card, error)
}

// Page is one upstream response
type Page struct {
	Cards []trello.Card

	// NextCursor is the id of the oldest card on the page; nil when Done
	NextCursor *string

	// Done reports that the page was shorter than requested, which ends pagination
	Done bool
}

// Fetcher pages through board cards. It makes one request per call and never retries.
type Fetcher struct {
	lister CardLister
}

// NewFetcher creates a Fetcher on top of lister
func NewFetcher(lister CardLister) *Fetcher {
	return &Fetcher{lister: lister}
}

// Fetch returns the page of at most pageSize cards older than cursor.
// A nil cursor starts at the newest card.
func (f *Fetcher) Fetch(ctx context.Context, boardID string, pageSize int, cursor *string) (Page, error) {
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	before := ""
	if cursor != nil {
		before = *cursor
	}

	cards, err := f.lister.ListBoardCards(ctx, boardID, pageSize, before)
	if err != nil {
		return Page{}, err
	}

	page := Page{Cards: cards}
	if len(cards) < pageSize {
		page.Done = true
		return page, nil
	}

	oldest := oldestID(cards)
	page.NextCursor = &oldest
	return page, nil
}

// oldestID returns the smallest card id. Trello ids are fixed width hex with
// the creation time in the leading digits, so they order like creation times.
func oldestID(cards []trello.Card) string {
	oldest := cards[0].ID
	for _, c := range cards[1:] {
		if c.ID < oldest {
			oldest = c.ID
		}
	}
	return oldest
}
