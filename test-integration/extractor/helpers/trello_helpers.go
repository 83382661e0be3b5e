package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/trello-extractor/internal/trello"
)

// FakeTrello serves the subset of the Trello REST API used by the extractor
type FakeTrello struct {
	server *httptest.Server

	mu           sync.Mutex
	apiKey       string
	token        string
	boards       []trello.Board
	members      []trello.Member
	labels       map[string][]trello.Label
	lists        map[string][]trello.List
	cards        map[string][]trello.Card
	files        map[string]string
	rateLimitFor int
}

// NewFakeTrello starts a fake Trello API accepting the given credentials
func NewFakeTrello(apiKey, token string) *FakeTrello {
	f := &FakeTrello{
		apiKey: apiKey,
		token:  token,
		labels: map[string][]trello.Label{},
		lists:  map[string][]trello.List{},
		cards:  map[string][]trello.Card{},
		files:  map[string]string{},
	}
	f.server = httptest.NewServer(f.routes())
	return f
}

// URL is the API root to configure as trello.baseURL
func (f *FakeTrello) URL() string {
	return f.server.URL
}

// Close stops the server
func (f *FakeTrello) Close() {
	f.server.Close()
}

// AddBoard registers a board with n cards, one list and one label. Every card
// with an even index carries one attachment served by the fake.
func (f *FakeTrello) AddBoard(id, name string, n int) []trello.Card {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.boards = append(f.boards, trello.Board{ID: id, Name: name})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	label := trello.Label{ID: fmt.Sprintf("%08x%016x", base.Unix(), 0), Name: name + " priority", Color: "orange"}
	list := trello.List{ID: id + "-doing", Name: "Doing"}
	f.labels[id] = []trello.Label{label}
	f.lists[id] = []trello.List{list}
	cards := make([]trello.Card, 0, n)
	for i := range n {
		created := base.Add(time.Duration(i) * time.Minute)
		card := trello.Card{
			ID:               fmt.Sprintf("%08x%016x", created.Unix(), i+1),
			Name:             fmt.Sprintf("%s card %d", name, i),
			Desc:             "**bold** description",
			URL:              fmt.Sprintf("https://trello.com/c/%s-%d", id, i),
			IDBoard:          id,
			IDList:           list.ID,
			IDLabels:         []string{label.ID},
			DateLastActivity: created.Format(time.RFC3339),
		}
		if i%2 == 0 {
			fileName := fmt.Sprintf("%s-%d.txt", id, i)
			f.files[fileName] = "attachment body " + strconv.Itoa(i)
			card.Attachments = []trello.Attachment{{
				ID:   fmt.Sprintf("att%021d", i),
				Name: fileName,
				URL:  f.server.URL + "/files/" + fileName,
			}}
		}
		cards = append(cards, card)
	}
	f.cards[id] = cards
	return cards
}

// AddMember registers an organization member
func (f *FakeTrello) AddMember(m trello.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, m)
}

// RateLimit answers the next n API requests with 429 and Retry-After: 7
func (f *FakeTrello) RateLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimitFor = n
}

func (f *FakeTrello) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(f.authenticate)

	r.Get("/members/me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, trello.Member{ID: "me", FullName: "Integration", Username: "integration"})
	})
	r.Get("/organizations/{org}/boards", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.boards)
	})
	r.Get("/organizations/{org}/members", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.members)
	})
	r.Get("/members/{member}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, m := range f.members {
			if m.ID == chi.URLParam(r, "member") {
				m.Email = m.Username + "@example.com"
				writeJSON(w, m)
				return
			}
		}
		http.NotFound(w, r)
	})
	r.Get("/boards/{board}/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, append([]trello.Label{}, f.labels[chi.URLParam(r, "board")]...))
	})
	r.Get("/boards/{board}/lists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, append([]trello.List{}, f.lists[chi.URLParam(r, "board")]...))
	})
	r.Get("/boards/{board}/cards", f.listCards)
	r.Get("/cards/{card}/actions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []trello.Action{})
	})
	r.Get("/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.files[chi.URLParam(r, "name")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	return r
}

func (f *FakeTrello) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		throttled := f.rateLimitFor > 0
		if throttled {
			f.rateLimitFor--
		}
		f.mu.Unlock()

		if throttled {
			w.Header().Set("Retry-After", "7")
			http.Error(w, "API rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		// attachment downloads are unauthenticated in the fake
		if !strings.HasPrefix(r.URL.Path, "/files/") {
			q := r.URL.Query()
			if q.Get("key") != f.apiKey || q.Get("token") != f.token {
				http.Error(w, "invalid key", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeTrello) listCards(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	all := append([]trello.Card(nil), f.cards[chi.URLParam(r, "board")]...)
	f.mu.Unlock()

	// newest first, like Trello
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 1000
	}
	before := r.URL.Query().Get("before")

	page := []trello.Card{}
	for _, c := range all {
		if before != "" && c.ID >= before {
			continue
		}
		page = append(page, c)
		if len(page) == limit {
			break
		}
	}
	writeJSON(w, page)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
