package closelinesdk

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

// Client is a minimal closeline HTTP API client. Addresses are passed in
// their 58-character text form.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// Sender is sent as X-Sender when no bearer token is set; servers only
	// honor it in development mode.
	Sender     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Milestone is one closing step.
type Milestone struct {
	Index       uint64 `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CompletedAt uint64 `json:"completed_at,omitempty"`
}

// Agreement is the decoded contract state.
type Agreement struct {
	Admin            string      `json:"admin"`
	Buyer            string      `json:"buyer,omitempty"`
	Seller           string      `json:"seller,omitempty"`
	Amount           uint64      `json:"amount"`
	DocumentHash     string      `json:"document_hash,omitempty"`
	Status           string      `json:"status"`
	ExecutionDate    uint64      `json:"execution_date,omitempty"`
	BuyerSigned      bool        `json:"buyer_signed"`
	SellerSigned     bool        `json:"seller_signed"`
	BuyerSignedAt    uint64      `json:"buyer_signed_at,omitempty"`
	SellerSignedAt   uint64      `json:"seller_signed_at,omitempty"`
	MilestoneCount   uint64      `json:"milestone_count"`
	CurrentMilestone uint64      `json:"current_milestone"`
	Milestones       []Milestone `json:"milestones"`
}

// App is an agreement instance.
type App struct {
	ID        uint64    `json:"id"`
	Creator   string    `json:"creator"`
	CreateTxn string    `json:"create_txn"`
	CreatedAt string    `json:"created_at"`
	Agreement Agreement `json:"agreement"`
}

// Field is one labelled event value.
type Field struct {
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Display string `json:"display"`
	Raw     []byte `json:"raw"`
}

// Event is a committed contract event.
type Event struct {
	ID     int64   `json:"id"`
	AppID  uint64  `json:"app_id"`
	TxnID  string  `json:"txn_id"`
	Seq    int     `json:"seq"`
	TS     string  `json:"ts"`
	Type   string  `json:"type"`
	Fields []Field `json:"fields"`
}

// Receipt describes an applied call.
type Receipt struct {
	TxnID     string   `json:"txn_id"`
	AppID     uint64   `json:"app_id"`
	Action    string   `json:"action"`
	Timestamp uint64   `json:"timestamp"`
	Events    []Event  `json:"events"`
	Logs      [][]byte `json:"logs"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventFilter narrows an event listing.
type EventFilter struct {
	Type   string
	TxnID  string
	Limit  int
	Cursor string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Kind returns the rejection kind reported by the server, if any.
func (e *APIError) Kind() string {
	k, _ := e.Details["kind"].(string)
	return k
}

// CreateApp creates an agreement administered by the caller.
func (c *Client) CreateApp(ctx context.Context) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "apps", nil, &resp)
	return resp, err
}

// Initialize sets the parties, amount and document hash (hex).
func (c *Client) Initialize(ctx context.Context, appID uint64, buyer, seller string, amount uint64, documentHash string) (Receipt, error) {
	body := map[string]any{
		"buyer":         buyer,
		"seller":        seller,
		"amount":        amount,
		"document_hash": documentHash,
	}
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "initialize"), body, &resp)
	return resp, err
}

// AddMilestone appends a milestone.
func (c *Client) AddMilestone(ctx context.Context, appID uint64, title, description string) (Receipt, error) {
	body := map[string]any{"title": title, "description": description}
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "milestones"), body, &resp)
	return resp, err
}

// CompleteMilestone completes milestone index, which must be the next one.
func (c *Client) CompleteMilestone(ctx context.Context, appID, index uint64) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, fmt.Sprintf("milestones/%d/complete", index)), nil, &resp)
	return resp, err
}

// VerifySignature records the signature of party.
func (c *Client) VerifySignature(ctx context.Context, appID uint64, party string) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "signatures"), map[string]any{"party": party}, &resp)
	return resp, err
}

// Execute executes a fully signed agreement.
func (c *Client) Execute(ctx context.Context, appID uint64) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "execute"), nil, &resp)
	return resp, err
}

// Cancel cancels a non-terminal agreement.
func (c *Client) Cancel(ctx context.Context, appID uint64) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "cancel"), nil, &resp)
	return resp, err
}

// Call sends raw call arguments; args[0] is the action literal.
func (c *Client) Call(ctx context.Context, appID uint64, args [][]byte) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, appPath(appID, "calls"), map[string]any{"args": args}, &resp)
	return resp, err
}

// App fetches an app with its decoded agreement.
func (c *Client) App(ctx context.Context, appID uint64) (App, error) {
	var resp App
	err := c.do(ctx, http.MethodGet, appPath(appID, ""), nil, &resp)
	return resp, err
}

// Agreement fetches the decoded agreement of an app.
func (c *Client) Agreement(ctx context.Context, appID uint64) (Agreement, error) {
	a, err := c.App(ctx, appID)
	return a.Agreement, err
}

// Events returns one page of events in commit order.
func (c *Client) Events(ctx context.Context, appID uint64, f EventFilter) (PaginatedEvents, error) {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.TxnID != "" {
		q.Set("txn_id", f.TxnID)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	endpoint := appPath(appID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Sender != "":
		req.Header.Set("X-Sender", c.Sender)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func appPath(appID uint64, p string) string {
	if p == "" {
		return fmt.Sprintf("apps/%d", appID)
	}
	return fmt.Sprintf("apps/%d/%s", appID, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
