package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Embed colours by title keyword.
const (
	colorSettled = 0x2ecc71
	colorAborted = 0xe74c3c
	colorDefault = 0x95a5a6
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{
		Username: "flasharb",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: "```\n" + message + "\n```",
			Color:       embedColor(title),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

func embedColor(title string) int {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "settled"):
		return colorSettled
	case strings.Contains(t, "abort"):
		return colorAborted
	default:
		return colorDefault
	}
}
