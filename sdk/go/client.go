package dealflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dealflow HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agency represents the API agency model.
type Agency struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Tier               string  `json:"tier"`
	SatisfactionRating float64 `json:"satisfaction_rating"`
	CompletionRate     float64 `json:"completion_rate"`
}

// QueueEntry is one agency's slot in the distribution queue.
type QueueEntry struct {
	AgencyID       string `json:"agency_id"`
	Position       int    `json:"position"`
	Tier           string `json:"tier"`
	MatchEnabled   bool   `json:"match_enabled"`
	ActiveProjects int    `json:"active_projects"`
	MaxCapacity    int    `json:"max_capacity"`
}

// Project represents the API premium project model (partial).
type Project struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Value            float64 `json:"value"`
	Status           string  `json:"status"`
	AssignedAgencyID *string `json:"assigned_agency_id,omitempty"`
}

// Distribution is the result of assigning a project.
type Distribution struct {
	ProjectID string `json:"project_id"`
	AgencyID  string `json:"agency_id"`
}

// Eligibility is an agency's gate evaluation.
type Eligibility struct {
	AgencyID string   `json:"agency_id"`
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Events     []Event `json:"events"`
	NextCursor int64   `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterAgency registers an agency in the directory.
func (c *Client) RegisterAgency(ctx context.Context, a Agency) (Agency, error) {
	var resp Agency
	err := c.do(ctx, http.MethodPost, "v0/agencies", a, &resp)
	return resp, err
}

// QueueInsert adds an agency at the end of the queue.
func (c *Client) QueueInsert(ctx context.Context, agencyID string, maxCapacity int) (QueueEntry, error) {
	body := map[string]any{"agency_id": agencyID}
	if maxCapacity > 0 {
		body["max_capacity"] = maxCapacity
	}
	var resp QueueEntry
	err := c.do(ctx, http.MethodPost, "v0/queue", body, &resp)
	return resp, err
}

// Queue returns the queue snapshot in priority order.
func (c *Client) Queue(ctx context.Context) ([]QueueEntry, error) {
	var resp []QueueEntry
	err := c.do(ctx, http.MethodGet, "v0/queue", nil, &resp)
	return resp, err
}

// Eligibility evaluates one agency's gates now.
func (c *Client) Eligibility(ctx context.Context, agencyID string) (Eligibility, error) {
	var resp Eligibility
	endpoint := fmt.Sprintf("v0/queue/%s/eligibility", url.PathEscape(agencyID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateProject drafts a premium project.
func (c *Client) CreateProject(ctx context.Context, title string, value float64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{"title": title, "value": value}, &resp)
	return resp, err
}

// Distribute assigns a project to the front eligible agency.
func (c *Client) Distribute(ctx context.Context, projectID string) (Distribution, error) {
	var resp Distribution
	endpoint := fmt.Sprintf("v0/projects/%s/distribute", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Transition applies a lifecycle transition.
func (c *Client) Transition(ctx context.Context, projectID, toStatus, note string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/transition", url.PathEscape(projectID))
	body := map[string]any{"to_status": toStatus}
	if note != "" {
		body["note"] = note
	}
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Events, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%d", endpoint, sep, cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
