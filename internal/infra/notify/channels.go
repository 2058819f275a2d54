package notify

import (
	"github.com/rs/zerolog"

	"matrimony-billing/internal/config"
	"matrimony-billing/internal/domain/ports/adapter"
)

// FromConfig builds every configured alert channel. A channel that cannot be
// set up is logged and skipped; with none left alerts go to the log.
func FromConfig(cfg config.AlertsConfig, logger *zerolog.Logger) adapter.OpsNotifier {
	var channels Multi
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		bot, err := NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram alerts disabled")
		} else {
			channels = append(channels, NewTelegram(bot, cfg.Telegram.ChatIDs))
		}
	}
	if cfg.Email.SMTPHost != "" && len(cfg.Email.To) > 0 {
		port := cfg.Email.SMTPPort
		if port == 0 {
			port = 587
		}
		d := NewSMTPDialer(cfg.Email.SMTPHost, port, cfg.Email.Username, cfg.Email.Password)
		channels = append(channels, NewEmail(d, cfg.Email.From, cfg.Email.To))
	}
	if len(channels) == 0 {
		logger.Warn().Msg("no alert channel configured; alerts are logged only")
		return NewLog(logger)
	}
	return append(channels, NewLog(logger))
}
