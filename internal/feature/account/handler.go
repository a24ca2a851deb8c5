// Package account implements profile viewing and the single-shot free-text
// profile updates.
package account

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/logging"
	"tg_user_directory_bot/internal/router"
)

// CallbackUpdateInfo is the inline-button token on the account details reply.
const CallbackUpdateInfo = "account_update_info"

// Free-text prefixes served by this package. The trailing space keeps bare
// "update name" from matching.
const (
	PrefixUpdateName  = "update name "
	PrefixUpdateEmail = "update email "
)

const timeLayout = "2006-01-02 15:04:05"

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

const updateInstructions = `<b>⚡ Update Account Info</b>
Update Name: <code>update name &lt;your name&gt;</code>
Update Email: <code>update email &lt;your email&gt;</code>

<b>📝 Example</b>
<code>update name John Doe</code>
<code>update email john@example.com</code>`

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type userDirectory interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Update(ctx context.Context, telegramID int64, fields domain.UserUpdate) (domain.User, error)
}

// Handler serves /account, the update-info button, and the update prefixes.
type Handler struct {
	bot    messenger
	users  userDirectory
	logger *logrus.Entry
}

// NewHandler constructs an account Handler.
func NewHandler(tgBot messenger, users userDirectory, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		bot:    tgBot,
		users:  users,
		logger: logger,
	}
}

// HandleAccount shows the caller's profile, or points an unregistered sender
// at /start. Idempotent; no conversation state involved.
func (h *Handler) HandleAccount(ctx context.Context, ev router.Event) error {
	user, err := h.users.FindByTelegramID(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("account lookup: %w", err)
		}

		text := fmt.Sprintf("Hi <b>%s</b>! 👋\n\nYou don't have an account yet. Please use /start to register.",
			html.EscapeString(ev.FullName))
		return h.send(ctx, ev.ChatID, text, nil)
	}

	details := fmt.Sprintf(`<u><b>Account Details</b></u>

Name: <code>%s</code>
Email: <code>%s</code>
Registered On: <code>%s</code>
Last Updated: <code>%s</code>`,
		html.EscapeString(user.Name),
		html.EscapeString(user.Email),
		user.CreatedAt.Format(timeLayout),
		user.UpdatedAt.Format(timeLayout),
	)

	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "Update Info", CallbackData: CallbackUpdateInfo},
		}},
	}

	return h.send(ctx, ev.ChatID, details, markup)
}

// HandleUpdateInfo answers the button press with the free-text update syntax.
func (h *Handler) HandleUpdateInfo(ctx context.Context, ev router.Event) error {
	if err := h.send(ctx, ev.ChatID, updateInstructions, nil); err != nil {
		return err
	}

	return h.answerCallback(ctx, ev.CallbackID)
}

// HandleUpdateName serves "update name <text>".
func (h *Handler) HandleUpdateName(ctx context.Context, ev router.Event) error {
	newName := strings.TrimSpace(ev.Text[len(PrefixUpdateName):])
	if newName == "" {
		return h.send(ctx, ev.ChatID, "⚠️ Please provide a valid name after <code>update name</code>.", nil)
	}

	updated, err := h.users.Update(ctx, ev.UserID, domain.UserUpdate{Name: &newName})
	if err != nil {
		return h.renderUpdateError(ctx, ev.ChatID, err)
	}

	h.logger.WithFields(logging.Fields{
		"event":   "name_updated",
		"user_id": ev.UserID,
	}).Info("updated user name")

	return h.send(ctx, ev.ChatID, fmt.Sprintf("✅ Your name has been updated to: <b>%s</b>", html.EscapeString(updated.Name)), nil)
}

// HandleUpdateEmail serves "update email <text>", checking shape and
// uniqueness before touching the directory.
func (h *Handler) HandleUpdateEmail(ctx context.Context, ev router.Event) error {
	newEmail := strings.TrimSpace(ev.Text[len(PrefixUpdateEmail):])
	if newEmail == "" || !strings.Contains(newEmail, "@") {
		return h.send(ctx, ev.ChatID, "⚠️ Please provide a valid email after <code>update email</code>.", nil)
	}
	if !emailPattern.MatchString(newEmail) {
		return h.send(ctx, ev.ChatID, "⚠️ Invalid email format. Please enter a valid email address.", nil)
	}

	existing, err := h.users.FindByEmail(ctx, newEmail)
	if err == nil {
		if existing.TelegramID == ev.UserID {
			text := fmt.Sprintf("⚠️ You are already registered with this email: <b>%s</b>", html.EscapeString(existing.Email))
			return h.send(ctx, ev.ChatID, text, nil)
		}

		text := fmt.Sprintf("⚠️ This email is already registered by <b>%s</b>.\nPlease enter a different email.", html.EscapeString(existing.Name))
		return h.send(ctx, ev.ChatID, text, nil)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("email uniqueness check: %w", err)
	}

	updated, err := h.users.Update(ctx, ev.UserID, domain.UserUpdate{Email: &newEmail})
	if err != nil {
		return h.renderUpdateError(ctx, ev.ChatID, err)
	}

	h.logger.WithFields(logging.Fields{
		"event":   "email_updated",
		"user_id": ev.UserID,
	}).Info("updated user email")

	return h.send(ctx, ev.ChatID, fmt.Sprintf("✅ Your email has been updated to: <b>%s</b>", html.EscapeString(updated.Email)), nil)
}

// renderUpdateError turns directory errors into user-facing replies; anything
// not in the modeled taxonomy propagates as a failure.
func (h *Handler) renderUpdateError(ctx context.Context, chatID int64, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return h.send(ctx, chatID, "❌ User not found. Please use /start to register.", nil)
	case errors.Is(err, domain.ErrConflict):
		return h.send(ctx, chatID, "⚠️ This email is already in use.\nPlease enter a different email.", nil)
	default:
		return fmt.Errorf("update user: %w", err)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := h.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (h *Handler) answerCallback(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}

	if _, err := h.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	}); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}

	return nil
}
