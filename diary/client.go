package diary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/tidwall/gjson"
)

//go:generate mockgen -source=client.go -destination=mock_backend_test.go -package=diary

// defaultTimeout bounds every request when the caller does not supply an
// http.Client. A hung request would otherwise hold the sync guard.
const defaultTimeout = 15 * time.Second

// Backend is the diary REST API as the sync engine sees it.
type Backend interface {
	// FetchEntries returns server entries changed at or after since. A
	// zero since fetches everything.
	FetchEntries(ctx context.Context, since time.Time) ([]ServerEntry, error)
	CreateEntry(ctx context.Context, payload EntryPayload) (string, error)
	UpdateEntry(ctx context.Context, id string, payload EntryPayload) error
	DeleteEntry(ctx context.Context, id string) error
	RegisterPushToken(ctx context.Context, token, device string) error
}

// Client talks to the diary REST API with a bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates an API client. If httpClient is nil a client with a
// 15 second timeout is used.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
	}
}

// do sends a JSON request and decodes the response into result. Transport
// failures wrap ErrNetworkUnreachable; non-2xx answers return *APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", syncerr.ErrNetworkUnreachable, method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response from %s: %w", syncerr.ErrNetworkUnreachable, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// errorMessage pulls a human readable message out of an error body. The
// backend uses either {"error": "..."} or {"message": "..."}.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return string(bytes.TrimSpace(body))
	}
	r := gjson.GetManyBytes(body, "error", "message", "error.message")
	for _, v := range []gjson.Result{r[2], r[0], r[1]} {
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// FetchEntries returns the server's entries. The backend answers either
// {"entries": [...]} or a bare array.
func (c *Client) FetchEntries(ctx context.Context, since time.Time) ([]ServerEntry, error) {
	endpoint := "/entries"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching entries: %w", err)
	}

	if gjson.ParseBytes(raw).IsArray() {
		var entries []ServerEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decoding entries: %w", err)
		}
		return entries, nil
	}

	var resp entriesResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decoding entries: %w", err)
		}
	}

	return resp.Entries, nil
}

// CreateEntry creates an entry and returns its server-assigned id.
func (c *Client) CreateEntry(ctx context.Context, payload EntryPayload) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/entries", payload, &resp); err != nil {
		return "", fmt.Errorf("creating entry: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("creating entry: %w: response carried no id", syncerr.ErrServerRejected)
	}

	return resp.ID, nil
}

// UpdateEntry replaces the client-owned fields of an existing entry.
func (c *Client) UpdateEntry(ctx context.Context, id string, payload EntryPayload) error {
	if err := c.do(ctx, http.MethodPut, "/entries/"+url.PathEscape(id), payload, nil); err != nil {
		return fmt.Errorf("updating entry %s: %w", id, err)
	}

	return nil
}

// DeleteEntry deletes an entry on the server.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}

	return nil
}

// RegisterPushToken associates a push token with this device.
func (c *Client) RegisterPushToken(ctx context.Context, token, device string) error {
	req := pushTokenRequest{Token: token, Device: device}
	if err := c.do(ctx, http.MethodPost, "/devices/push-token", req, nil); err != nil {
		return fmt.Errorf("registering push token: %w", err)
	}

	return nil
}
