package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Transport delivers a text message to a webhook destination.
type Transport interface {
	Platform() string
	Post(ctx context.Context, webhookURL, text string) error
}

// DiscordWebhook posts messages through Discord incoming webhooks. Webhook
// execution needs no bot token, so the session is created unauthenticated.
type DiscordWebhook struct {
	session *discordgo.Session
	logger  *zap.Logger
}

// NewDiscordWebhook creates the Discord webhook transport.
func NewDiscordWebhook(logger *zap.Logger) (*DiscordWebhook, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordWebhook{session: session, logger: logger}, nil
}

func (d *DiscordWebhook) Platform() string { return "discord" }

// Post executes the webhook identified by webhookURL with text as content.
func (d *DiscordWebhook) Post(ctx context.Context, webhookURL, text string) error {
	id, token, err := parseDiscordWebhookURL(webhookURL)
	if err != nil {
		return err
	}
	_, err = d.session.WebhookExecute(id, token, false,
		&discordgo.WebhookParams{Content: text},
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// parseDiscordWebhookURL extracts the id and token from a webhook URL of the
// form https://discord.com/api/webhooks/{id}/{token}.
func parseDiscordWebhookURL(webhookURL string) (id, token string, err error) {
	const marker = "/webhooks/"
	idx := strings.Index(webhookURL, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("not a discord webhook url: %s", webhookURL)
	}
	rest := strings.Trim(webhookURL[idx+len(marker):], "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed discord webhook url: %s", webhookURL)
	}
	return parts[0], parts[1], nil
}

// SlackWebhook posts messages through Slack incoming webhooks.
type SlackWebhook struct {
	logger *zap.Logger
}

// NewSlackWebhook creates the Slack webhook transport.
func NewSlackWebhook(logger *zap.Logger) *SlackWebhook {
	return &SlackWebhook{logger: logger}
}

func (s *SlackWebhook) Platform() string { return "slack" }

// Post sends text to a Slack incoming webhook.
func (s *SlackWebhook) Post(ctx context.Context, webhookURL, text string) error {
	err := slack.PostWebhookContext(ctx, webhookURL, &slack.WebhookMessage{Text: text})
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
