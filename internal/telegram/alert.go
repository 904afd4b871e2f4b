// Package telegram posts staff alerts to a Telegram chat when a clinic
// employee receives a message while they have no open connection.
package telegram

import (
	"clinicmsg/backend/internal/localization"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	alertKey = "staff_alert"
	// upper bound for one Bot API call; Send takes no context
	apiTimeout = 10 * time.Second
)

// Sender is the part of *tgbotapi.BotAPI the alerter needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Directory resolves the participants of a message.
type Directory interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// StaffAlerter implements chathub.OfflineNotifier for staff receivers.
// Messages to patients are left to the offline queue.
type StaffAlerter struct {
	Bot       Sender
	Users     Directory
	ChatID    int64
	Localizer *localization.Localizer
	Language  string
}

// NewStaffAlerter authorizes the bot and posts alerts to chatID.
func NewStaffAlerter(token string, chatID int64, users Directory, loc *localization.Localizer, lang string) (*StaffAlerter, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: apiTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	bot.Debug = false
	logger.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")

	return &StaffAlerter{Bot: bot, Users: users, ChatID: chatID, Localizer: loc, Language: lang}, nil
}

// NotifyOffline sends one plain text alert per message.
func (a *StaffAlerter) NotifyOffline(ctx context.Context, msg *models.Message) error {
	receiver, err := a.Users.GetUserByID(ctx, msg.ReceiverID)
	if err != nil {
		return fmt.Errorf("telegram: resolve receiver: %w", err)
	}
	if receiver.Role == models.RolePatient {
		return nil
	}

	sender, err := a.Users.GetUserByID(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("telegram: resolve sender: %w", err)
	}

	format := a.Localizer.GetString(a.Language, alertKey)
	if format == alertKey {
		format = "New message for %s from %s (%s)."
	}
	text := fmt.Sprintf(format, receiver.Name, sender.Name, sender.Role)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: send alert: %w", err)
	}
	if _, err := a.Bot.Send(tgbotapi.NewMessage(a.ChatID, text)); err != nil {
		return fmt.Errorf("telegram: send alert: %w", err)
	}

	logger.Debug().Str("message_id", msg.ID).Str("receiver_id", receiver.ID).Msg("staff alert sent")
	return nil
}
