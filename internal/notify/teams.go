package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// TeamsNotifier posts task-creation cards to a Microsoft Teams (Power
// Automate) webhook. It retries with backoff on HTTP 429.
type TeamsNotifier struct {
	webhookURL string
	httpClient *http.Client
	maxRetries int
}

// NewTeamsNotifier creates a webhook client for url.
func NewTeamsNotifier(url string) *TeamsNotifier {
	return &TeamsNotifier{
		webhookURL: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxRetries: 2,
	}
}

// Name implements Sender.
func (n *TeamsNotifier) Name() string { return "teams" }

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cardSection struct {
	ActivityTitle string     `json:"activityTitle,omitempty"`
	Facts         []cardFact `json:"facts"`
}

type messageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	Summary    string        `json:"summary"`
	ThemeColor string        `json:"themeColor"`
	Title      string        `json:"title"`
	Text       string        `json:"text,omitempty"`
	Sections   []cardSection `json:"sections"`
}

func buildCard(ev Event) messageCard {
	t := ev.Task
	facts := []cardFact{
		{Name: "Task", Value: t.TaskName},
		{Name: "Customer", Value: fmt.Sprintf("%s <%s>", t.UserName, t.UserEmail)},
		{Name: "Expert", Value: fmt.Sprintf("%s (%s)", t.ExpertName, t.ExpertType)},
		{Name: "Task ID", Value: t.ID},
	}
	if t.DueDate != nil {
		facts = append(facts, cardFact{Name: "Due", Value: t.DueDate.Format("2006-01-02")})
	}
	if len(t.Files) > 0 {
		facts = append(facts, cardFact{Name: "Attachments", Value: strconv.Itoa(len(t.Files))})
	}

	return messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    "New task request: " + t.TaskName,
		ThemeColor: "0076D7",
		Title:      "New task request",
		Text:       t.TaskDescription,
		Sections:   []cardSection{{ActivityTitle: t.TaskName, Facts: facts}},
	}
}

// Send posts a card for TaskCreated events and ignores every other kind.
func (n *TeamsNotifier) Send(ctx context.Context, ev Event) error {
	if ev.Kind != TaskCreated || n.webhookURL == "" {
		return nil
	}

	data, err := json.Marshal(buildCard(ev))
	if err != nil {
		return fmt.Errorf("marshaling teams card: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("posting teams webhook: %w", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) by teams webhook")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("teams webhook returned %d: %s", resp.StatusCode, string(body))
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", n.maxRetries, lastErr)
}

// backoff reads Retry-After and falls back to exponential backoff capped at
// 30 seconds.
func backoff(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
