package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const discoveryTimeout = 5 * time.Second

var discoveryClient = &http.Client{Timeout: discoveryTimeout}

// Endpoint builds the base URL of a debug port
func Endpoint(host string, debugPort string) string {
	// If host is not provided, use localhost
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, debugPort)
}

// GetWebSocketURL discovers the browser-level WebSocket URL
func GetWebSocketURL(ctx context.Context, host string, debugPort string) (string, error) {
	var versionInfo struct {
		Browser              string `json:"Browser"`
		ProtocolVersion      string `json:"Protocol-Version"`
		UserAgent            string `json:"User-Agent"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}

	if err := getJSON(ctx, Endpoint(host, debugPort)+"/json/version", &versionInfo); err != nil {
		return "", err
	}

	if versionInfo.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no browser WebSocket URL found")
	}

	return versionInfo.WebSocketDebuggerURL, nil
}

// ListTargets returns the targets of the browser. Page targets are ordered
// most recently activated first.
func ListTargets(ctx context.Context, host string, debugPort string) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, Endpoint(host, debugPort)+"/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Pages filters targets down to page targets
func Pages(targets []Target) []Target {
	pages := make([]Target, 0, len(targets))
	for _, target := range targets {
		if target.Type == TargetTypePage {
			pages = append(pages, target)
		}
	}
	return pages
}

func getJSON(ctx context.Context, url string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	response, err := discoveryClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to connect to debug port: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}
