package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

const (
	validateUserPath = "/rest/v1/rpc/is_valid_user"
	sessionsPath     = "/rest/v1/sessions"

	// Cap on error bodies kept in messages
	maxErrorBody = 512
)

// Row is one session as the backend sessions table expects it
type Row struct {
	DeviceID        string                `json:"device_id"`
	UserID          string                `json:"user_id"`
	URL             string                `json:"url"`
	Domain          string                `json:"domain"`
	Title           string                `json:"title"`
	StartTimestamp  int64                 `json:"start_timestamp"`
	EndTimestamp    *int64                `json:"end_timestamp"`
	DurationSeconds int64                 `json:"duration_seconds"`
	TabID           int                   `json:"tab_id"`
	Incognito       bool                  `json:"incognito"`
	DeviceProfile   session.DeviceProfile `json:"device_profile"`
	SyncedAt        string                `json:"synced_at"`
}

// Client talks to the PostgREST style backend
type Client struct {
	httpClient *http.Client
}

// NewClient creates a backend client using httpClient for all calls
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// IsValidUser calls the allowlist RPC and returns its boolean answer
func (c *Client) IsValidUser(ctx context.Context, cfg session.Config, userID string) (bool, error) {
	body, err := json.Marshal(map[string]string{"check_username": userID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal validation request: %w", err)
	}

	respBody, err := c.post(ctx, cfg, validateUserPath, body, nil, "validate user")
	if err != nil {
		return false, err
	}

	var valid bool
	if err := json.Unmarshal(respBody, &valid); err != nil {
		return false, fmt.Errorf("%w: failed to parse validation response: %v", ErrTransport, err)
	}
	return valid, nil
}

// InsertSessions submits rows to the sessions table
func (c *Client) InsertSessions(ctx context.Context, cfg session.Config, rows []Row) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	headers := map[string]string{"Prefer": "return=minimal"}
	_, err = c.post(ctx, cfg, sessionsPath, body, headers, "insert sessions")
	return err
}

func (c *Client) post(ctx context.Context, cfg session.Config, path string, body []byte, headers map[string]string, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response body: %v", ErrTransport, op, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &HTTPError{Op: op, StatusCode: response.StatusCode, Body: msg}
	}

	return respBody, nil
}
