package syncunits

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/trello"
)

// fakeBoards serves boards and card listings the way Trello pages them
type fakeBoards struct {
	boards []trello.Board
	cards  map[string][]trello.Card
	broken map[string]bool
}

func cards(n int) []trello.Card {
	out := make([]trello.Card, n)
	for i := range out {
		out[i] = trello.Card{ID: fmt.Sprintf("%024x", n-i)}
	}
	return out
}

func (f *fakeBoards) handler(t *testing.T) http.Handler {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/organizations/{org}/boards", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "org") != "org-1" {
			http.Error(w, "unknown organization", http.StatusNotFound)
			return
		}
		writeJSON(t, w, f.boards)
	})
	r.Get("/boards/{board}/cards", func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "board")
		if f.broken[boardID] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		assert.NoError(t, err)
		before := r.URL.Query().Get("before")

		all := f.cards[boardID]
		var page []trello.Card
		for _, c := range all {
			if before != "" && strings.Compare(c.ID, before) >= 0 {
				continue
			}
			page = append(page, c)
			if len(page) == limit {
				break
			}
		}
		if page == nil {
			page = []trello.Card{}
		}
		writeJSON(t, w, page)
	})
	return r
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func newClient(t *testing.T, f *fakeBoards) *trello.Client {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)
	return trello.NewClient(server.URL, trello.Credentials{APIKey: "k", Token: "t"}, 5*time.Second)
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	f := &fakeBoards{
		boards: []trello.Board{
			{ID: "b1", Name: "Roadmap", Desc: "Product roadmap"},
			{ID: "b2", Name: "Empty"},
			{ID: "b3", Name: "Exact"},
			{ID: "b4", Name: "Broken"},
		},
		cards: map[string][]trello.Card{
			"b1": cards(250),
			"b3": cards(200),
		},
		broken: map[string]bool{"b4": true},
	}

	units, err := NewDiscoverer(newClient(t, f), WithConcurrency(2)).Discover(context.Background(), "org-1")
	require.NoError(t, err)

	assert.Equal(t, []event.ExternalSyncUnit{
		{ID: "b1", Name: "Roadmap", Description: "Product roadmap", ItemCount: 250, ItemType: ItemType},
		{ID: "b2", Name: "Empty", ItemCount: 0, ItemType: ItemType},
		{ID: "b3", Name: "Exact", ItemCount: 200, ItemType: ItemType},
		{ID: "b4", Name: "Broken", ItemCount: UnknownCount, ItemType: ItemType},
	}, units)
}

func TestDiscoverListBoardsFailure(t *testing.T) {
	t.Parallel()

	_, err := NewDiscoverer(newClient(t, &fakeBoards{})).Discover(context.Background(), "org-unknown")
	require.Error(t, err)

	apiErr, ok := trello.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

// repeatingLister returns the same full page for every cursor
type repeatingLister struct{}

func (repeatingLister) ListBoardCards(_ context.Context, _ string, limit int, _ string) ([]trello.Card, error) {
	return cards(limit), nil
}

func (repeatingLister) ListBoards(_ context.Context, _ string) ([]trello.Board, error) {
	return []trello.Board{{ID: "loop", Name: "Loop"}}, nil
}

func TestDiscoverStuckPagination(t *testing.T) {
	t.Parallel()

	units, err := NewDiscoverer(repeatingLister{}).Discover(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, UnknownCount, units[0].ItemCount)
}

func TestDiscoverPreservesBoardOrder(t *testing.T) {
	t.Parallel()

	f := &fakeBoards{cards: map[string][]trello.Card{}}
	for i := range 10 {
		id := fmt.Sprintf("b%02d", i)
		f.boards = append(f.boards, trello.Board{ID: id, Name: id})
		f.cards[id] = cards(i * 30)
	}

	units, err := NewDiscoverer(newClient(t, f), WithConcurrency(3)).Discover(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, units, 10)

	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
		assert.Equal(t, i*30, u.ItemCount, u.ID)
	}
	assert.True(t, sort.StringsAreSorted(ids))
}
