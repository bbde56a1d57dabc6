package cdp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Target domain events
const (
	EventTargetCreated     = "Target.targetCreated"
	EventTargetInfoChanged = "Target.targetInfoChanged"
	EventTargetDestroyed   = "Target.targetDestroyed"
)

// TargetInfo is the Target domain view of a target
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// TargetEvent is a decoded Target domain event
type TargetEvent struct {
	Method   string
	TargetID string
	Info     *TargetInfo
}

// SetDiscoverTargets turns on Target.* events for the connection
func SetDiscoverTargets(ctx context.Context, c *Client) error {
	if _, err := c.Send(ctx, "Target.setDiscoverTargets", map[string]any{"discover": true}); err != nil {
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}
	return nil
}

// ParseTargetEvent decodes a Target domain event. ok is false for any other event.
func ParseTargetEvent(ev Event) (TargetEvent, bool, error) {
	switch ev.Method {
	case EventTargetCreated, EventTargetInfoChanged:
		var params struct {
			TargetInfo TargetInfo `json:"targetInfo"`
		}
		if err := json.Unmarshal(ev.Params, &params); err != nil {
			return TargetEvent{}, true, fmt.Errorf("failed to parse %s: %w", ev.Method, err)
		}
		return TargetEvent{Method: ev.Method, TargetID: params.TargetInfo.TargetID, Info: &params.TargetInfo}, true, nil

	case EventTargetDestroyed:
		var params struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(ev.Params, &params); err != nil {
			return TargetEvent{}, true, fmt.Errorf("failed to parse %s: %w", ev.Method, err)
		}
		return TargetEvent{Method: ev.Method, TargetID: params.TargetID}, true, nil
	}
	return TargetEvent{}, false, nil
}
