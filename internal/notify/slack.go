package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johndauphine/onboard-sync/internal/config"
)

const footer = "onboard-sync"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// SubmissionReceived sends notification when a driver submits for review
func (n *Notifier) SubmissionReceived(userID string, submittedAt time.Time, documents, photos int) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":inbox_tray:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Onboarding Submitted",
				Fields: []SlackField{
					{Title: "Driver", Value: userID, Short: true},
					{Title: "Submitted", Value: submittedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Documents", Value: fmt.Sprintf("%d", documents), Short: true},
					{Title: "Photos", Value: fmt.Sprintf("%d", photos), Short: true},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncSweepFailed sends notification when a sweep leaves records pending
func (n *Notifier) SyncSweepFailed(attempted, failed int, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Text: fmt.Sprintf("Pending-data sweep finished with failures. %d of %d records are still pending.",
			failed, attempted),
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow
				Fields: []SlackField{
					{Title: "Attempted", Value: fmt.Sprintf("%d", attempted), Short: true},
					{Title: "Failed", Value: fmt.Sprintf("%d", failed), Short: true},
					{Title: "Failures", Value: summarize(failures, 5), Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// UploadFailed sends notification for a terminally failed upload
func (n *Notifier) UploadFailed(taskID, target string, attempts int, err error) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Upload Failed",
				Fields: []SlackField{
					{Title: "Task", Value: taskID, Short: true},
					{Title: "Attempts", Value: fmt.Sprintf("%d", attempts), Short: true},
					{Title: "Target", Value: target, Short: false},
					{Title: "Error", Value: truncate(errText(err), 500), Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func errText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// summarize lists up to max items and counts the rest.
func summarize(items []string, max int) string {
	if len(items) == 0 {
		return "-"
	}
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s... and %d more", strings.Join(items[:max], ", "), len(items)-max)
}
