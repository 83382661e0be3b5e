// Package syncunits discovers the boards offered to the platform as external sync units.
package syncunits

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/extraction"
	"github.com/stacklok/trello-extractor/internal/trello"
)

const (
	// CountPageSize is the page size used to count the cards of a board
	CountPageSize = 100

	// ItemType is the item type advertised for every board
	ItemType = "tasks"

	// UnknownCount marks a board whose cards could not be counted
	UnknownCount = -1

	defaultConcurrency = 4
)

// BoardClient lists boards and their cards
type BoardClient interface {
	extraction.CardLister
	ListBoards(ctx context.Context, orgID string) ([]trello.Board, error)
}

// Discoverer maps boards to external sync units
type Discoverer struct {
	client      BoardClient
	fetcher     *extraction.Fetcher
	concurrency int
}

// Option configures a Discoverer
type Option func(*Discoverer)

// WithConcurrency sets how many boards are counted at once
func WithConcurrency(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDiscoverer creates a Discoverer
func NewDiscoverer(client BoardClient, opts ...Option) *Discoverer {
	d := &Discoverer{
		client:      client,
		fetcher:     extraction.NewFetcher(client),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover lists the boards of orgID with their card counts. Failing to list
// boards is an error; failing to count one board yields UnknownCount for it.
func (d *Discoverer) Discover(ctx context.Context, orgID string) ([]event.ExternalSyncUnit, error) {
	logger := logr.FromContextOrDiscard(ctx)

	boards, err := d.client.ListBoards(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	logger.Info("Fetched boards", "count", len(boards))

	units := make([]event.ExternalSyncUnit, len(boards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, board := range boards {
		units[i] = event.ExternalSyncUnit{
			ID:          board.ID,
			Name:        board.Name,
			Description: board.Desc,
			ItemType:    ItemType,
		}
		g.Go(func() error {
			count, err := d.countCards(gctx, board.ID)
			if err != nil {
				logger.Error(err, "Failed to count board cards", "board", board.ID)
				count = UnknownCount
			}
			units[i].ItemCount = count
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (d *Discoverer) countCards(ctx context.Context, boardID string) (int, error) {
	var (
		total  int
		cursor *string
	)
	for {
		page, err := d.fetcher.Fetch(ctx, boardID, CountPageSize, cursor)
		if err != nil {
			return 0, err
		}
		total += len(page.Cards)
		if page.Done {
			return total, nil
		}
		if cursor != nil && *page.NextCursor == *cursor {
			return 0, fmt.Errorf("pagination did not advance past %s", *cursor)
		}
		cursor = page.NextCursor
	}
}
