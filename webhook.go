package stackauth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Webhook event types emitted by the core.
const (
	EventUserCreated           = "user.created"
	EventUserUpdated           = "user.updated"
	EventUserDeleted           = "user.deleted"
	EventTeamMembershipCreated = "team_membership.created"
	EventTeamMembershipDeleted = "team_membership.deleted"
)

// NopWebhooks discards all events.
type NopWebhooks struct{}

func (NopWebhooks) Emit(context.Context, string, map[string]any) {}

// HTTPWebhooks posts events as JSON to a single endpoint. Delivery is
// fire-and-forget on a background goroutine; failures are logged and
// never affect the calling transaction.
type HTTPWebhooks struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

func (h *HTTPWebhooks) Emit(ctx context.Context, eventType string, payload map[string]any) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	body, err := json.Marshal(map[string]any{
		"type":       eventType,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"data":       payload,
	})
	if err != nil {
		logger.Warn("webhook payload encode failed", "event", eventType, "error", err)
		return
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	// Detached from the request context: the event outlives the request.
	go func() {
		req, err := http.NewRequest(http.MethodPost, h.URL, bytes.NewReader(body))
		if err != nil {
			logger.Warn("webhook request build failed", "event", eventType, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("webhook delivery failed", "event", eventType, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Warn("webhook delivery rejected", "event", eventType, "status", resp.StatusCode)
		}
	}()
}
