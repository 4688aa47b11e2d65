package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockWebhookExecutor struct {
	mock.Mock
}

func (m *MockWebhookExecutor) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(webhookID, token, wait, data)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func discordConfig() config.NotificationConfig {
	return config.NotificationConfig{
		DiscordWebhookID:    "123",
		DiscordWebhookToken: "tok",
		Username:            "claims-bot",
	}
}

func summary() audit.Notification {
	return audit.Notification{
		Title:    "Bulk settlement finished",
		Message:  "batch finished with failures",
		Severity: shared.SeverityMedium,
		Fields: map[string]string{
			"batch_id":                  "b-1",
			"succeeded":                 "199",
			"failed":                    "1",
			"settled_amount":            "199000.00",
			"failed_VALIDATION":         "1",
			"failed_SETTLEMENT_TIMEOUT": "0",
		},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewDiscordNotifier_Validation(t *testing.T) {
	_, err := NewDiscordNotifier(config.NotificationConfig{})
	require.Error(t, err)

	cfg := discordConfig()
	cfg.Locale = "not a locale!"
	_, err = NewDiscordNotifier(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locale")
}

func TestDiscordNotifier_Notify(t *testing.T) {
	exec := new(MockWebhookExecutor)
	var sent *discordgo.WebhookParams
	exec.On("WebhookExecute", "123", "tok", false, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).(*discordgo.WebhookParams) }).
		Return(nil, nil).Once()

	n, err := NewDiscordNotifier(discordConfig(), withExecutor(exec))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), summary()))

	require.NotNil(t, sent)
	assert.Equal(t, "claims-bot", sent.Username)
	require.Len(t, sent.Embeds, 1)
	embed := sent.Embeds[0]
	assert.Equal(t, "Bulk settlement finished", embed.Title)
	assert.Equal(t, severityColors[shared.SeverityMedium], embed.Color)
	assert.Equal(t, "2026-01-02T03:04:05Z", embed.Timestamp)

	values := map[string]string{}
	for _, f := range embed.Fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "199,000.00", values["Settled Amount"])
	assert.Equal(t, "b-1", values["Batch Id"])
	assert.Equal(t, "1", values["Failed VALIDATION"])
	assert.Equal(t, "0", values["Failed SETTLEMENT_TIMEOUT"])
}

func TestDiscordNotifier_LocaleFormatting(t *testing.T) {
	exec := new(MockWebhookExecutor)
	var sent *discordgo.WebhookParams
	exec.On("WebhookExecute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).(*discordgo.WebhookParams) }).
		Return(nil, nil)

	cfg := discordConfig()
	cfg.Locale = "de-DE"
	n, err := NewDiscordNotifier(cfg, withExecutor(exec))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), summary()))

	for _, f := range sent.Embeds[0].Fields {
		if strings.HasPrefix(f.Name, "Settled") {
			assert.Equal(t, "199.000,00", f.Value)
		}
	}
}

func TestDiscordNotifier_WebhookFailure(t *testing.T) {
	exec := new(MockWebhookExecutor)
	exec.On("WebhookExecute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("HTTP 429 Too Many Requests"))

	n, err := NewDiscordNotifier(discordConfig(), withExecutor(exec))
	require.NoError(t, err)

	err = n.Notify(context.Background(), summary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordNotifier_ClipsLongMessages(t *testing.T) {
	n, err := NewDiscordNotifier(discordConfig(), withExecutor(new(MockWebhookExecutor)))
	require.NoError(t, err)

	msg := summary()
	msg.Message = strings.Repeat("é", maxDescription)
	msg.Severity = "UNKNOWN"
	embed := n.buildEmbed(msg)

	assert.LessOrEqual(t, len(embed.Description), maxDescription)
	assert.True(t, strings.HasSuffix(embed.Description, "..."))
	assert.Equal(t, severityColors[shared.SeverityCritical], embed.Color)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), audit.Notification{
		Title: "Settlement exhausted", Message: "claim CLM-1 stays APPROVED", Severity: shared.SeverityCritical,
		Fields: map[string]string{"claim_number": "CLM-1"},
	}))
	require.NoError(t, n.Notify(context.Background(), summary()))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "CLM-1", entries[0].ContextMap()["claim_number"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNew_SelectsNotifier(t *testing.T) {
	n, err := New(config.NotificationConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)

	n, err = New(discordConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &DiscordNotifier{}, n)
}
