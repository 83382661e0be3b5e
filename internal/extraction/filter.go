package extraction

import (
	"time"

	"github.com/stacklok/trello-extractor/internal/normalize"
	"github.com/stacklok/trello-extractor/internal/trello"
)

// FilterModifiedSince keeps the cards whose last activity is at or after since.
// Cards without a parseable dateLastActivity are dropped. A nil since keeps
// every card.
func FilterModifiedSince(cards []trello.Card, since *time.Time) []trello.Card {
	if since == nil {
		return cards
	}

	kept := make([]trello.Card, 0, len(cards))
	for _, c := range cards {
		activity, ok := normalize.ParseTimestamp(c.DateLastActivity)
		if !ok || activity.Before(*since) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
