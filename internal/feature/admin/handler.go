// Package admin implements /manage_users and the free-text user-management
// commands. Every handler re-checks authorization independently; none trusts
// an earlier check in the same conversation.
package admin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/logging"
	"tg_user_directory_bot/internal/router"
)

// Free-text prefixes served by this package. PrefixGetUsers must be routed
// before PrefixGetUser.
const (
	PrefixGetUsers   = "get users"
	PrefixGetUser    = "get user"
	PrefixUpdateRole = "update role"
	PrefixDeleteUser = "delete user"
)

// deniedText is the single authorization failure reply. Missing account and
// wrong role answer identically on purpose.
const deniedText = "You are not authorized to use this command."

const (
	usageGetUsers   = "❌ Usage: <code>get users &lt;page&gt; &lt;per_page&gt;</code>"
	usageGetUser    = "❌ Usage: <code>get user &lt;tg_user_id&gt;</code>"
	usageUpdateRole = "❌ Usage: <code>update role &lt;tg_user_id&gt; &lt;role&gt;</code>"
	usageDeleteUser = "❌ Usage: <code>delete user &lt;tg_user_id&gt;</code>"

	notFoundText = "❌ User not found"
)

const timeLayout = "2006-01-02 15:04:05"

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type userDirectory interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (domain.User, error)
	ListPaginated(ctx context.Context, page, perPage int64) ([]domain.User, error)
	SetRole(ctx context.Context, telegramID int64, role domain.Role) (domain.User, error)
	Delete(ctx context.Context, telegramID int64) error
}

type statsCounter interface {
	CountUsers(ctx context.Context) (int64, error)
	CountAdmins(ctx context.Context) (int64, error)
}

// Handler serves the admin command set.
type Handler struct {
	bot    messenger
	users  userDirectory
	stats  statsCounter
	logger *logrus.Entry
}

// NewHandler constructs an admin Handler. stats may be nil; the instructions
// message then omits the directory counts.
func NewHandler(tgBot messenger, users userDirectory, stats statsCounter, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		bot:    tgBot,
		users:  users,
		stats:  stats,
		logger: logger,
	}
}

// HandleManageUsers replies with the admin command reference and directory
// counts.
func (h *Handler) HandleManageUsers(ctx context.Context, ev router.Event) error {
	_, ok, err := h.authorize(ctx, ev)
	if err != nil || !ok {
		return err
	}

	instructions := `⚙️ <b>Admin Manage User Instructions</b>

1. Get User List: <code>get users &lt;page&gt; &lt;per_page&gt;</code>
2. Get User: <code>get user &lt;userId&gt;</code>
3. Update User Role: <code>update role &lt;userId&gt; &lt;role&gt;</code>
4. Delete User: <code>delete user &lt;userId&gt;</code>

<b>Example Commands</b>

1. Get User List: <code>get users 1 10</code>
2. Update User Role: <code>update role 1234567890 admin</code>
3. Get User: <code>get user 1234567890</code>
4. Delete User: <code>delete user 1234567890</code>`

	if h.stats != nil {
		total, err := h.stats.CountUsers(ctx)
		if err == nil {
			admins, adminErr := h.stats.CountAdmins(ctx)
			if adminErr == nil {
				instructions += fmt.Sprintf("\n\n📊 Users: %d (admins: %d)", total, admins)
			} else {
				err = adminErr
			}
		}
		if err != nil {
			// Stats are garnish; the instructions still go out.
			h.logger.WithField("event", "stats_error").WithError(err).Warn("failed to count users for instructions")
		}
	}

	return h.sendHTML(ctx, ev.ChatID, instructions)
}

// HandleGetUsers serves "get users <page> <per_page>".
func (h *Handler) HandleGetUsers(ctx context.Context, ev router.Event) error {
	_, ok, err := h.authorize(ctx, ev)
	if err != nil || !ok {
		return err
	}

	fields := strings.Fields(ev.Text)
	if len(fields) != 4 {
		return h.sendHTML(ctx, ev.ChatID, usageGetUsers)
	}

	page, pageErr := strconv.ParseInt(fields[2], 10, 64)
	perPage, perPageErr := strconv.ParseInt(fields[3], 10, 64)
	if pageErr != nil || perPageErr != nil || page < 1 || perPage < 1 {
		return h.sendHTML(ctx, ev.ChatID, usageGetUsers)
	}

	users, err := h.users.ListPaginated(ctx, page, perPage)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return h.sendPlain(ctx, ev.ChatID, "No users found.")
	}

	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("👤 %s | @%s | Role: %s | ID: %d",
			orDash(u.Name), orDash(u.TelegramUsername), u.Role, u.TelegramID))
	}

	return h.sendPlain(ctx, ev.ChatID, strings.Join(lines, "\n"))
}

// HandleGetUser serves "get user <tg_user_id>", rendering the target user's
// record.
func (h *Handler) HandleGetUser(ctx context.Context, ev router.Event) error {
	_, ok, err := h.authorize(ctx, ev)
	if err != nil || !ok {
		return err
	}

	fields := strings.Fields(ev.Text)
	if len(fields) != 3 {
		return h.sendHTML(ctx, ev.ChatID, usageGetUser)
	}

	targetID, parseErr := strconv.ParseInt(fields[2], 10, 64)
	if parseErr != nil {
		return h.sendHTML(ctx, ev.ChatID, usageGetUser)
	}

	target, err := h.users.FindByTelegramID(ctx, targetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.sendPlain(ctx, ev.ChatID, notFoundText)
		}
		return fmt.Errorf("get user: %w", err)
	}

	details := fmt.Sprintf(`<b>User Details</b>
- Name: <code>%s</code>
- Email: <code>%s</code>
- Role: <code>%s</code>
- Registered: <code>%s</code>
- Last Updated: <code>%s</code>`,
		html.EscapeString(target.Name),
		html.EscapeString(target.Email),
		target.Role,
		target.CreatedAt.Format(timeLayout),
		target.UpdatedAt.Format(timeLayout),
	)

	return h.sendHTML(ctx, ev.ChatID, details)
}

// HandleUpdateRole serves "update role <tg_user_id> <role>".
func (h *Handler) HandleUpdateRole(ctx context.Context, ev router.Event) error {
	caller, ok, err := h.authorize(ctx, ev)
	if err != nil || !ok {
		return err
	}

	fields := strings.Fields(ev.Text)
	if len(fields) != 4 {
		return h.sendHTML(ctx, ev.ChatID, usageUpdateRole)
	}

	targetID, parseErr := strconv.ParseInt(fields[2], 10, 64)
	if parseErr != nil {
		return h.sendHTML(ctx, ev.ChatID, usageUpdateRole)
	}

	role, roleErr := domain.ParseRole(fields[3])
	if roleErr != nil {
		return h.sendHTML(ctx, ev.ChatID, "❌ Role must be <code>user</code> or <code>admin</code>.")
	}

	updated, err := h.users.SetRole(ctx, targetID, role)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.sendPlain(ctx, ev.ChatID, notFoundText)
		}
		return fmt.Errorf("update role: %w", err)
	}

	h.logger.WithFields(logging.Fields{
		"event":    "role_updated",
		"admin_id": caller.TelegramID,
		"user_id":  updated.TelegramID,
		"role":     role,
	}).Info("updated user role")

	return h.sendPlain(ctx, ev.ChatID, fmt.Sprintf("✅ Updated role for @%s → %s", orDash(updated.TelegramUsername), role))
}

// HandleDeleteUser serves "delete user <tg_user_id>". Self-deletion is
// rejected before the directory is touched.
func (h *Handler) HandleDeleteUser(ctx context.Context, ev router.Event) error {
	caller, ok, err := h.authorize(ctx, ev)
	if err != nil || !ok {
		return err
	}

	fields := strings.Fields(ev.Text)
	if len(fields) != 3 {
		return h.sendHTML(ctx, ev.ChatID, usageDeleteUser)
	}

	targetID, parseErr := strconv.ParseInt(fields[2], 10, 64)
	if parseErr != nil {
		return h.sendHTML(ctx, ev.ChatID, usageDeleteUser)
	}

	if targetID == caller.TelegramID {
		return h.sendPlain(ctx, ev.ChatID, "⚠️ Admin can't delete his/her own account.")
	}

	if err := h.users.Delete(ctx, targetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.sendPlain(ctx, ev.ChatID, notFoundText)
		}
		return fmt.Errorf("delete user: %w", err)
	}

	h.logger.WithFields(logging.Fields{
		"event":    "user_deleted",
		"admin_id": caller.TelegramID,
		"user_id":  targetID,
	}).Info("deleted user")

	return h.sendPlain(ctx, ev.ChatID, fmt.Sprintf("✅ User %d deleted successfully.", targetID))
}

// authorize looks up the caller and checks the admin role. When not
// authorized it sends the uniform denial itself and reports ok=false with a
// nil error, so callers simply return.
func (h *Handler) authorize(ctx context.Context, ev router.Event) (domain.User, bool, error) {
	caller, err := h.users.FindByTelegramID(ctx, ev.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, false, h.sendPlain(ctx, ev.ChatID, deniedText)
		}
		return domain.User{}, false, fmt.Errorf("authorization lookup: %w", err)
	}

	if err := domain.RequireAdmin(&caller); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "admin_denied",
			"user_id": ev.UserID,
		}).WithError(err).Warn("non-admin invoked admin command")
		return domain.User{}, false, h.sendPlain(ctx, ev.ChatID, deniedText)
	}

	return caller, true, nil
}

func (h *Handler) sendHTML(ctx context.Context, chatID int64, text string) error {
	if _, err := h.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (h *Handler) sendPlain(ctx context.Context, chatID int64, text string) error {
	if _, err := h.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}

	return value
}
