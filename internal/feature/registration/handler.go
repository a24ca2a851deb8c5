// Package registration implements /start and the two-step name/email
// registration dialogue. It is the only place user records are created.
package registration

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
	"tg_user_directory_bot/internal/session"
)

// CallbackRegisterStart is the inline-button token that opens the dialogue.
const CallbackRegisterStart = "register_start"

const scratchName = "name"

// emailPattern mirrors the shape check the directory relied on from day one;
// uniqueness is checked separately against the directory.
var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)

const (
	promptName  = "👉 Please enter your full name:"
	promptEmail = "✅ Got it! Now please enter your email address:"
)

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type userDirectory interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, telegramID int64, telegramUsername, name, email string) (domain.User, error)
}

type sessionStore interface {
	Current(userID int64) (session.State, map[string]string)
	Enter(userID int64, state session.State)
	SetState(userID int64, state session.State)
	Stash(userID int64, key, value string)
	Clear(userID int64)
}

// Handler serves /start, the register button, and the dialogue steps.
type Handler struct {
	bot      messenger
	users    userDirectory
	sessions sessionStore
	logger   *logrus.Entry
}

// NewHandler constructs a registration Handler.
func NewHandler(tgBot messenger, users userDirectory, sessions sessionStore, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		bot:      tgBot,
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleStart greets the sender. Known users get a role-appropriate command
// list; unknown users get a registration offer button.
func (h *Handler) HandleStart(ctx context.Context, ev router.Event) error {
	name := html.EscapeString(ev.FullName)

	welcome := fmt.Sprintf("<b>⚡ User Directory Bot</b>\n\nHi <b>%s</b>! 👋", name)
	if err := h.send(ctx, ev.ChatID, welcome, nil); err != nil {
		return err
	}

	user, err := h.users.FindByTelegramID(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("start lookup: %w", err)
		}

		offer := fmt.Sprintf("You are new here, <b>%s</b>!\n\nClick below to register 👇", name)
		markup := &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "Register", CallbackData: CallbackRegisterStart},
			}},
		}
		return h.send(ctx, ev.ChatID, offer, markup)
	}

	back := fmt.Sprintf("Welcome back, %s <b>%s</b>!", user.Role, html.EscapeString(user.Name))
	if err := h.send(ctx, ev.ChatID, back, nil); err != nil {
		return err
	}

	commandList := "⚙️ <b>User Commands</b>\n\n👤 /account - Manage your account"
	if user.Role == domain.RoleAdmin {
		commandList = "⚙️ <b>Admin Commands</b>\n\n👤 /account - Manage your account\n👥 /manage_users - Manage users"
	}

	return h.send(ctx, ev.ChatID, commandList, nil)
}

// HandleRegisterStart opens (or restarts) the dialogue at the name step. A
// press while a dialogue is already active resets it with fresh scratch
// rather than stacking.
func (h *Handler) HandleRegisterStart(ctx context.Context, ev router.Event) error {
	h.sessions.Enter(ev.UserID, session.StateAwaitingName)

	if err := h.send(ctx, ev.ChatID, promptName, nil); err != nil {
		return err
	}

	return h.answerCallback(ctx, ev.CallbackID)
}

// HandleDialog advances the dialogue with the received text. State only moves
// forward on confirmed success; validation and conflict replies leave the
// conversation where it was so the sender can retry.
func (h *Handler) HandleDialog(ctx context.Context, ev router.Event) error {
	state, scratch := h.sessions.Current(ev.UserID)

	switch state {
	case session.StateAwaitingName:
		h.sessions.Stash(ev.UserID, scratchName, ev.Text)
		h.sessions.SetState(ev.UserID, session.StateAwaitingEmail)
		return h.send(ctx, ev.ChatID, promptEmail, nil)
	case session.StateAwaitingEmail:
		return h.handleEmailStep(ctx, ev, scratch[scratchName])
	default:
		// The dialogue expired between routing and handling; nothing to do.
		return nil
	}
}

func (h *Handler) handleEmailStep(ctx context.Context, ev router.Event, name string) error {
	email := strings.TrimSpace(ev.Text)

	if !emailPattern.MatchString(email) {
		return h.send(ctx, ev.ChatID, "⚠️ Invalid email format. Please enter a valid email address:", nil)
	}

	existing, err := h.users.FindByEmail(ctx, email)
	if err == nil {
		taken := fmt.Sprintf("⚠️ This email is already registered by <b>%s</b>.\nPlease enter a different email:", html.EscapeString(existing.Name))
		return h.send(ctx, ev.ChatID, taken, nil)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("email uniqueness check: %w", err)
	}

	if name == "" {
		// Scratch lost its name somehow; restart at the name step.
		h.sessions.Enter(ev.UserID, session.StateAwaitingName)
		return h.send(ctx, ev.ChatID, promptName, nil)
	}

	user, err := h.users.Create(ctx, ev.UserID, ev.Username, name, email)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another conversation claimed the email between the pre-check
			// and the insert; let the sender retry with a different one.
			return h.send(ctx, ev.ChatID, "⚠️ This email is already in use.\nPlease enter a different email:", nil)
		}
		return fmt.Errorf("create user: %w", err)
	}

	h.sessions.Clear(ev.UserID)

	h.logger.WithFields(logging.Fields{
		"event":   "user_registered",
		"user_id": user.TelegramID,
	}).Info("registered new user")

	done := fmt.Sprintf("🎉 Registration complete!\n\nWelcome, <b>%s</b>!\nYour email: <b>%s</b>",
		html.EscapeString(user.Name), html.EscapeString(user.Email))
	return h.send(ctx, ev.ChatID, done, nil)
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
