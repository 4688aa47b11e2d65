// Package notification delivers operator notifications to Discord or the log.
package notification

import (
	"context"
	"sort"

	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// New returns the Discord notifier when a webhook is configured, otherwise
// a notifier that writes to the log
func New(cfg config.NotificationConfig, logger *zap.Logger) (audit.Notifier, error) {
	if cfg.DiscordWebhookID == "" || cfg.DiscordWebhookToken == "" {
		logger.Info("Discord webhook not configured, notifications go to the log")
		return NewLogNotifier(logger), nil
	}
	return NewDiscordNotifier(cfg, WithLogger(logger))
}

// LogNotifier writes notifications as structured log entries
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notification")}
}

// Notify logs n at a level matching its severity
func (n *LogNotifier) Notify(_ context.Context, msg audit.Notification) error {
	fields := []zap.Field{
		zap.String("title", msg.Title),
		zap.String("severity", string(msg.Severity)),
	}
	for _, k := range sortedKeys(msg.Fields) {
		fields = append(fields, zap.String(k, msg.Fields[k]))
	}

	switch msg.Severity {
	case shared.SeverityCritical, shared.SeverityHigh:
		n.logger.Error(msg.Message, fields...)
	case shared.SeverityMedium:
		n.logger.Warn(msg.Message, fields...)
	default:
		n.logger.Info(msg.Message, fields...)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ audit.Notifier = (*LogNotifier)(nil)
