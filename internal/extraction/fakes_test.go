package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/trello-extractor/internal/trello"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// cardID builds a 24 digit hex id whose leading 8 digits encode created
func cardID(created time.Time, n int) string {
	return fmt.Sprintf("%08x%016x", created.Unix(), n)
}

// makeCards returns n cards ordered newest first, one minute apart
func makeCards(n int) []trello.Card {
	cards := make([]trello.Card, n)
	for i := range cards {
		created := testNow.Add(-time.Duration(i) * time.Minute)
		cards[i] = trello.Card{
			ID:               cardID(created, n-i),
			Name:             fmt.Sprintf("card %d", i),
			DateLastActivity: created.Format(time.RFC3339Nano),
		}
	}
	return cards
}

// fakeTrello serves a single board from memory
type fakeTrello struct {
	mu sync.Mutex

	members  []trello.Member
	emails   map[string]string
	labels   []trello.Label
	lists    []trello.List
	cards    []trello.Card
	comments map[string][]trello.Action
	creators map[string]string
	files    map[string]string

	// cardsErr fails the card listing call with the given 1-based number
	cardsErr     map[int]error
	commentsErr  map[string]error
	membersErr   error
	memberErrs   map[string]error
	labelsErr    error
	listsErr     error
	creatorErrs  map[string]error
	downloadErrs map[string]error

	// stuck returns the first page for every cursor
	stuck bool

	// onCards runs after every card listing call
	onCards func(call int)

	cardCalls     []string
	downloadCalls []string
	labelCalls    int
	listCalls     int
}

func newFakeTrello(cards []trello.Card) *fakeTrello {
	return &fakeTrello{
		members: []trello.Member{
			{ID: "5a0000000000000000000001", FullName: "Ada", Username: "ada"},
			{ID: "5a0000000000000000000002", FullName: "Linus", Username: "linus"},
		},
		emails: map[string]string{
			"5a0000000000000000000001": "ada@example.com",
		},
		labels: []trello.Label{
			{ID: "5b0000000000000000000001", Name: "Bug", Color: "red"},
		},
		lists: []trello.List{
			{ID: "list-doing", Name: "Doing"},
		},
		cards:        cards,
		comments:     map[string][]trello.Action{},
		creators:     map[string]string{},
		files:        map[string]string{},
		cardsErr:     map[int]error{},
		commentsErr:  map[string]error{},
		memberErrs:   map[string]error{},
		creatorErrs:  map[string]error{},
		downloadErrs: map[string]error{},
	}
}

func (f *fakeTrello) ListOrganizationMembers(_ context.Context, _ string) ([]trello.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	return f.members, nil
}

func (f *fakeTrello) GetMember(_ context.Context, memberID string) (*trello.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.memberErrs[memberID]; err != nil {
		return nil, err
	}
	for _, m := range f.members {
		if m.ID == memberID {
			m.Email = f.emails[memberID]
			return &m, nil
		}
	}
	return nil, &trello.APIError{StatusCode: http.StatusNotFound, Endpoint: "fetching member details"}
}

func (f *fakeTrello) ListBoardLabels(_ context.Context, _ string) ([]trello.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls++
	if f.labelsErr != nil {
		return nil, f.labelsErr
	}
	return f.labels, nil
}

func (f *fakeTrello) ListBoardLists(_ context.Context, _ string) ([]trello.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listsErr != nil {
		return nil, f.listsErr
	}
	return f.lists, nil
}

func (f *fakeTrello) ListCardCreateActions(_ context.Context, cardID string) ([]trello.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.creatorErrs[cardID]; err != nil {
		return nil, err
	}
	creator, ok := f.creators[cardID]
	if !ok {
		return nil, nil
	}
	return []trello.Action{{ID: "5c0000000000000000000001", Type: "createCard", IDMemberCreator: creator}}, nil
}

func (f *fakeTrello) ListBoardCards(_ context.Context, _ string, limit int, before string) ([]trello.Card, error) {
	f.mu.Lock()
	f.cardCalls = append(f.cardCalls, before)
	call := len(f.cardCalls)
	hook := f.onCards
	err := f.cardsErr[call]

	start := 0
	if before != "" && !f.stuck {
		start = len(f.cards)
		for i, c := range f.cards {
			if c.ID < before {
				start = i
				break
			}
		}
	}
	end := min(start+limit, len(f.cards))
	page := append([]trello.Card(nil), f.cards[start:end]...)
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *fakeTrello) ListCardComments(_ context.Context, cardID string) ([]trello.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.commentsErr[cardID]; err != nil {
		return nil, err
	}
	return f.comments[cardID], nil
}

func (f *fakeTrello) DownloadAttachment(_ context.Context, rawURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls = append(f.downloadCalls, rawURL)
	if err := f.downloadErrs[rawURL]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.files[rawURL])), nil
}

func (f *fakeTrello) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cardCalls...)
}

func throttled(retryAfter string) error {
	return &trello.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter, Endpoint: "fetching cards"}
}

func unavailable() error {
	return &trello.APIError{StatusCode: http.StatusServiceUnavailable, Endpoint: "fetching comments"}
}
