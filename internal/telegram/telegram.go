// Package telegram hosts the Telegram client and the wiring between inbound
// updates and the command router.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/config"
	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/feature/account"
	"tg_user_directory_bot/internal/feature/admin"
	"tg_user_directory_bot/internal/feature/registration"
	"tg_user_directory_bot/internal/logging"
	"tg_user_directory_bot/internal/router"
	"tg_user_directory_bot/internal/session"
	"tg_user_directory_bot/internal/store"
)

const failureText = "⚠️ Something went wrong. Please try again."

type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}

	// registeredCommands is the command list surfaced in the Telegram UI.
	registeredCommands = []models.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "account", Description: "View account details"},
		{Command: "manage_users", Description: "Manage users (admin)"},
	}
)

// Client wraps the Telegram bot instance and the routing pipeline.
type Client struct {
	bot      botAPI
	router   *router.Router
	users    *domain.Directory
	sessions *session.Store
	stats    *store.StatsProvider
	logger   *logrus.Entry
}

// Option injects a collaborator into the Client.
type Option func(*Client)

// WithDirectory sets the user directory every flow reads and mutates.
func WithDirectory(users *domain.Directory) Option {
	return func(c *Client) {
		c.users = users
	}
}

// WithSessions sets the conversation-state store for the registration dialogue.
func WithSessions(sessions *session.Store) Option {
	return func(c *Client) {
		c.sessions = sessions
	}
}

// WithStats sets the optional directory stats provider shown to admins.
func WithStats(stats *store.StatsProvider) Option {
	return func(c *Client) {
		c.stats = stats
	}
}

// NewClient initializes the Telegram bot with long polling and wires the
// command router: exact commands, callback tokens, the registration dialogue,
// and the free-text admin/account prefixes.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{logger: logger}
	for _, opt := range opts {
		opt(c)
	}

	if c.users == nil {
		return nil, errors.New("user directory is required")
	}
	if c.sessions == nil {
		return nil, errors.New("session store is required")
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	registrationFlow := registration.NewHandler(tgBot, c.users, c.sessions, logger)
	accountFlow := account.NewHandler(tgBot, c.users, logger)
	adminFlow := admin.NewHandler(tgBot, c.users, c.stats, logger)

	r := router.New(c.sessions, logger)
	r.Command("start", registrationFlow.HandleStart)
	r.Command("account", accountFlow.HandleAccount)
	r.Command("manage_users", adminFlow.HandleManageUsers)
	r.Callback(registration.CallbackRegisterStart, registrationFlow.HandleRegisterStart)
	r.Callback(account.CallbackUpdateInfo, accountFlow.HandleUpdateInfo)
	r.Dialog(registrationFlow.HandleDialog)
	r.Prefix(account.PrefixUpdateName, accountFlow.HandleUpdateName)
	r.Prefix(account.PrefixUpdateEmail, accountFlow.HandleUpdateEmail)
	r.Prefix(admin.PrefixGetUsers, adminFlow.HandleGetUsers)
	r.Prefix(admin.PrefixGetUser, adminFlow.HandleGetUser)
	r.Prefix(admin.PrefixUpdateRole, adminFlow.HandleUpdateRole)
	r.Prefix(admin.PrefixDeleteUser, adminFlow.HandleDeleteUser)
	c.router = r

	return c, nil
}

// Start registers the discoverable command list and receives updates via long
// polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: registeredCommands}); err != nil {
		c.logger.WithField("event", "commands_register_error").WithError(err).Warn("failed to register command list")
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || c.router == nil {
		return
	}

	ev, ok := eventFromUpdate(update)
	if !ok {
		return
	}

	// A button press on an inaccessible message carries no chat to reply
	// into. Ack the press so the button stops spinning, but do not dispatch.
	if ev.Kind == router.KindCallback && ev.ChatID == 0 {
		if ev.CallbackID != "" {
			if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
				CallbackQueryID: ev.CallbackID,
			}); err != nil {
				c.logger.WithField("event", "callback_ack_error").WithError(err).Warn("failed to answer chatless callback")
			}
		}

		c.logger.WithFields(logging.Fields{
			"event":   "callback_no_chat",
			"user_id": ev.UserID,
		}).Debug("dropping callback without an accessible chat")
		return
	}

	handled, err := c.router.Dispatch(ctx, ev)
	if err == nil {
		if handled {
			c.logger.WithFields(logging.Fields{
				"event":   "update_handled",
				"kind":    ev.Kind,
				"user_id": ev.UserID,
			}).Debug("handled telegram update")
		}
		return
	}

	c.logger.WithFields(logging.Fields{
		"event":   "handler_error",
		"kind":    ev.Kind,
		"user_id": ev.UserID,
		"chat_id": ev.ChatID,
	}).WithError(err).Error("handler failed")

	if ev.ChatID == 0 {
		return
	}

	if _, sendErr := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: ev.ChatID,
		Text:   failureText,
	}); sendErr != nil {
		c.logger.WithField("event", "failure_reply_error").WithError(sendErr).Error("failed to send failure reply")
	}
}

// eventFromUpdate maps a Telegram update onto the router's event model.
// Updates without a sender are dropped.
func eventFromUpdate(update *models.Update) (router.Event, bool) {
	switch {
	case update.Message != nil:
		if update.Message.From == nil {
			return router.Event{}, false
		}

		return router.Event{
			Kind:     router.KindMessage,
			UserID:   update.Message.From.ID,
			ChatID:   update.Message.Chat.ID,
			Text:     strings.TrimSpace(update.Message.Text),
			FullName: fullName(update.Message.From),
			Username: update.Message.From.Username,
		}, true
	case update.CallbackQuery != nil:
		return router.Event{
			Kind:       router.KindCallback,
			UserID:     update.CallbackQuery.From.ID,
			ChatID:     messageChatID(update.CallbackQuery.Message),
			Text:       strings.TrimSpace(update.CallbackQuery.Data),
			CallbackID: update.CallbackQuery.ID,
			FullName:   fullName(&update.CallbackQuery.From),
			Username:   update.CallbackQuery.From.Username,
		}, true
	default:
		return router.Event{}, false
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func fullName(user *models.User) string {
	if user == nil {
		return ""
	}

	return strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}
