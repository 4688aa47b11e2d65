package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Discord embed limits
const (
	maxEmbedFields      = 25
	maxFieldValueLength = 1024
	maxDescription      = 4096
)

var severityColors = map[shared.Severity]int{
	shared.SeverityLow:      0x2ecc71,
	shared.SeverityMedium:   0xf1c40f,
	shared.SeverityHigh:     0xe67e22,
	shared.SeverityCritical: 0xe74c3c,
}

// webhookExecutor is the part of *discordgo.Session the notifier uses
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts notifications as embeds through a Discord webhook
type DiscordNotifier struct {
	session   webhookExecutor
	webhookID string
	token     string
	username  string
	printer   *message.Printer
	caser     cases.Caser
	logger    *zap.Logger
}

// DiscordOption configures a DiscordNotifier
type DiscordOption func(*DiscordNotifier)

// WithLogger sets the notifier logger
func WithLogger(logger *zap.Logger) DiscordOption {
	return func(n *DiscordNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func withExecutor(e webhookExecutor) DiscordOption {
	return func(n *DiscordNotifier) {
		n.session = e
	}
}

// NewDiscordNotifier creates a notifier for the configured webhook.
// Webhook execution needs no bot token, so the session is unauthenticated.
func NewDiscordNotifier(cfg config.NotificationConfig, opts ...DiscordOption) (*DiscordNotifier, error) {
	if cfg.DiscordWebhookID == "" || cfg.DiscordWebhookToken == "" {
		return nil, errors.New("discord webhook id and token are required")
	}

	tag := language.AmericanEnglish
	if cfg.Locale != "" {
		parsed, err := language.Parse(cfg.Locale)
		if err != nil {
			return nil, fmt.Errorf("invalid notification locale %q: %w", cfg.Locale, err)
		}
		tag = parsed
	}

	n := &DiscordNotifier{
		webhookID: cfg.DiscordWebhookID,
		token:     cfg.DiscordWebhookToken,
		username:  cfg.Username,
		printer:   message.NewPrinter(tag),
		caser:     cases.Title(tag),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.session == nil {
		session, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to create discord session: %w", err)
		}
		n.session = session
	}
	return n, nil
}

// Notify posts msg to the webhook
func (n *DiscordNotifier) Notify(ctx context.Context, msg audit.Notification) error {
	params := &discordgo.WebhookParams{
		Username: n.username,
		Embeds:   []*discordgo.MessageEmbed{n.buildEmbed(msg)},
	}
	if _, err := n.session.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		n.logger.Warn("discord notification failed",
			zap.String("title", msg.Title),
			zap.Error(err),
		)
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func (n *DiscordNotifier) buildEmbed(msg audit.Notification) *discordgo.MessageEmbed {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	color, ok := severityColors[msg.Severity]
	if !ok {
		color = severityColors[shared.SeverityCritical]
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: clip(msg.Message, maxDescription),
		Color:       color,
		Timestamp:   ts.UTC().Format(time.RFC3339),
		Fields:      []*discordgo.MessageEmbedField{},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Severity %s", msg.Severity),
		},
	}

	for _, key := range sortedKeys(msg.Fields) {
		if len(embed.Fields) >= maxEmbedFields {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   n.fieldName(key),
			Value:  clip(n.fieldValue(key, msg.Fields[key]), maxFieldValueLength),
			Inline: true,
		})
	}
	return embed
}

// fieldName turns "settled_amount" into "Settled Amount". Kind suffixes such
// as "failed_SETTLEMENT_EXHAUSTED" keep their upper-case kind.
func (n *DiscordNotifier) fieldName(key string) string {
	if prefix, kind, ok := strings.Cut(key, "_"); ok && kind == strings.ToUpper(kind) {
		return n.caser.String(prefix) + " " + kind
	}
	return n.caser.String(strings.ReplaceAll(key, "_", " "))
}

// fieldValue formats amounts and counts with the locale's digit grouping
func (n *DiscordNotifier) fieldValue(key, value string) string {
	if strings.HasSuffix(key, "_amount") {
		if d, err := decimal.NewFromString(value); err == nil {
			f, _ := d.Round(2).Float64()
			return n.printer.Sprintf("%.2f", f)
		}
	}
	return value
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ audit.Notifier = (*DiscordNotifier)(nil)
