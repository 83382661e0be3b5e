// Package trello provides a minimal client for the Trello REST API.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the public Trello REST root
	DefaultBaseURL = "https://api.trello.com/1"

	// DefaultTimeout is the default timeout for JSON requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps JSON response bodies (50MB)
	MaxResponseSize = 50 * 1024 * 1024

	// UserAgent is sent with every request
	UserAgent = "trello-extractor/1.0"

	// maxErrorBody is how much of an error body is kept in APIError.Message
	maxErrorBody = 512

	// trelloHostedPrefix marks attachments that require OAuth to download
	trelloHostedPrefix = "https://api.trello.com/1/cards/"

	memberFields       = "fullName,avatarHash,username"
	memberDetailFields = "fullName,username,email"
)

// Client is a Trello REST client bound to one set of credentials
type Client struct {
	baseURL  string
	creds    Credentials
	api      *http.Client
	download *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the client used for JSON requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.api = hc
	}
}

// WithDownloadClient overrides the client used for attachment downloads
func WithDownloadClient(hc *http.Client) Option {
	return func(c *Client) {
		c.download = hc
	}
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL and a
// zero timeout selects DefaultTimeout.
func NewClient(baseURL string, creds Credentials, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		api: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		// Downloads are bounded by the caller's context only.
		download: &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMe returns the member owning the token
func (c *Client) GetMe(ctx context.Context) (*Member, error) {
	var me Member
	if err := c.getJSON(ctx, "/members/me", nil, "fetching current member", &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// ListBoards lists the boards of an organization, or of the token owner when orgID is empty
func (c *Client) ListBoards(ctx context.Context, orgID string) ([]Board, error) {
	path := "/members/me/boards"
	if orgID != "" {
		path = "/organizations/" + url.PathEscape(orgID) + "/boards"
	}

	var boards []Board
	if err := c.getJSON(ctx, path, nil, "fetching boards", &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// ListOrganizationMembers lists the members of an organization
func (c *Client) ListOrganizationMembers(ctx context.Context, orgID string) ([]Member, error) {
	q := url.Values{}
	q.Set("fields", memberFields)

	var members []Member
	path := "/organizations/" + url.PathEscape(orgID) + "/members"
	if err := c.getJSON(ctx, path, q, "fetching organization members", &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GetMember returns the details of one member, including the email when visible
func (c *Client) GetMember(ctx context.Context, memberID string) (*Member, error) {
	q := url.Values{}
	q.Set("fields", memberDetailFields)

	var m Member
	if err := c.getJSON(ctx, "/members/"+url.PathEscape(memberID), q, "fetching member details", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListBoardLabels lists the labels defined on a board
func (c *Client) ListBoardLabels(ctx context.Context, boardID string) ([]Label, error) {
	var labels []Label
	path := "/boards/" + url.PathEscape(boardID) + "/labels"
	if err := c.getJSON(ctx, path, nil, "fetching labels", &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// ListBoardLists lists the lists of a board
func (c *Client) ListBoardLists(ctx context.Context, boardID string) ([]List, error) {
	var lists []List
	path := "/boards/" + url.PathEscape(boardID) + "/lists"
	if err := c.getJSON(ctx, path, nil, "fetching lists", &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// ListBoardCards returns up to limit cards older than the card id before.
// Cards include their attachments.
func (c *Client) ListBoardCards(ctx context.Context, boardID string, limit int, before string) ([]Card, error) {
	q := url.Values{}
	q.Set("attachments", "true")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}

	var cards []Card
	path := "/boards/" + url.PathEscape(boardID) + "/cards"
	if err := c.getJSON(ctx, path, q, "fetching cards", &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// ListCardComments returns the commentCard actions of a card
func (c *Client) ListCardComments(ctx context.Context, cardID string) ([]Action, error) {
	q := url.Values{}
	q.Set("filter", "commentCard")

	var actions []Action
	path := "/cards/" + url.PathEscape(cardID) + "/actions"
	if err := c.getJSON(ctx, path, q, "fetching comments", &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// ListCardCreateActions returns the createCard actions of a card, which name its creator
func (c *Client) ListCardCreateActions(ctx context.Context, cardID string) ([]Action, error) {
	q := url.Values{}
	q.Set("filter", "createCard")

	var actions []Action
	path := "/cards/" + url.PathEscape(cardID) + "/actions"
	if err := c.getJSON(ctx, path, q, "fetching card creator", &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// DownloadAttachment opens the attachment at rawURL. Trello-hosted files are
// requested with an OAuth header; other URLs are fetched as-is.
// The caller must close the returned body.
func (c *Client) DownloadAttachment(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Encoding", "identity")
	if c.isTrelloHosted(rawURL) {
		req.Header.Set("Authorization", c.creds.authorizationHeader())
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, newAPIError(resp, "downloading attachment")
	}
	return resp.Body, nil
}

func (c *Client) isTrelloHosted(rawURL string) bool {
	return strings.HasPrefix(rawURL, trelloHostedPrefix) || strings.HasPrefix(rawURL, c.baseURL+"/cards/")
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, endpoint string, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.creds.APIKey)
	query.Set("token", c.creds.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request while %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp, endpoint)
	}

	if resp.ContentLength > MaxResponseSize {
		return fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body while %s: %w", endpoint, err)
	}
	if int64(len(body)) > MaxResponseSize {
		return fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response while %s: %w", endpoint, err)
	}
	return nil
}

func newAPIError(resp *http.Response, endpoint string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: resp.Header.Get("Retry-After"),
		Endpoint:   endpoint,
		Message:    strings.TrimSpace(string(body)),
	}
}
