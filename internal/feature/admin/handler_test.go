package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/router"
)

const (
	adminID  = int64(1)
	memberID = int64(2)
)

func newTestHandler(t *testing.T) (*Handler, *fakeMessenger, *fakeDirectory) {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	messenger := &fakeMessenger{}
	directory := newFakeDirectory()
	directory.seed(domain.User{TelegramID: adminID, TelegramUsername: "boss", Name: "Boss", Email: "boss@example.com", Role: domain.RoleAdmin})
	directory.seed(domain.User{TelegramID: memberID, TelegramUsername: "member", Name: "Member", Email: "member@example.com", Role: domain.RoleUser})

	return NewHandler(messenger, directory, nil, logrus.NewEntry(hookLogger)), messenger, directory
}

func messageEvent(userID int64, text string) router.Event {
	return router.Event{
		Kind:   router.KindMessage,
		UserID: userID,
		ChatID: userID,
		Text:   text,
	}
}

func TestAdminCommandsDenyNonAdmins(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)
	ctx := context.Background()

	handlers := map[string]func(context.Context, router.Event) error{
		"/manage_users":       handler.HandleManageUsers,
		"get users 1 10":      handler.HandleGetUsers,
		"get user 1":          handler.HandleGetUser,
		"update role 2 admin": handler.HandleUpdateRole,
		"delete user 1":       handler.HandleDeleteUser,
	}
	for text, fn := range handlers {
		if err := fn(ctx, messageEvent(memberID, text)); err != nil {
			t.Fatalf("%q returned error: %v", text, err)
		}
		if messenger.lastText(t) != deniedText {
			t.Fatalf("%q: expected denial, got %q", text, messenger.lastText(t))
		}
	}

	// An unregistered sender gets the very same reply.
	if err := handler.HandleDeleteUser(ctx, messageEvent(99, "delete user 2")); err != nil {
		t.Fatalf("unregistered sender returned error: %v", err)
	}
	if messenger.lastText(t) != deniedText {
		t.Fatalf("expected denial for unregistered sender, got %q", messenger.lastText(t))
	}

	if directory.users[memberID].Role != domain.RoleUser || len(directory.users) != 2 {
		t.Fatalf("expected directory untouched by denied calls")
	}
}

func TestHandleGetUsersValidatesArguments(t *testing.T) {
	handler, messenger, _ := newTestHandler(t)
	ctx := context.Background()

	for _, text := range []string{"get users", "get users 1", "get users 1 10 extra", "get users zero 10", "get users 0 10", "get users 1 0"} {
		if err := handler.HandleGetUsers(ctx, messageEvent(adminID, text)); err != nil {
			t.Fatalf("HandleGetUsers(%q) returned error: %v", text, err)
		}
		if !strings.Contains(messenger.lastText(t), "Usage:") {
			t.Fatalf("HandleGetUsers(%q): expected usage reply, got %q", text, messenger.lastText(t))
		}
	}
}

func TestHandleGetUsersRendersPage(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)
	directory.seed(domain.User{TelegramID: 3, Name: "No Handle", Email: "nh@example.com", Role: domain.RoleUser})

	if err := handler.HandleGetUsers(context.Background(), messageEvent(adminID, "get users 1 10")); err != nil {
		t.Fatalf("HandleGetUsers returned error: %v", err)
	}

	reply := messenger.lastText(t)
	for _, want := range []string{
		"👤 Boss | @boss | Role: admin | ID: 1",
		"👤 Member | @member | Role: user | ID: 2",
		"👤 No Handle | @- | Role: user | ID: 3",
	} {
		if !strings.Contains(reply, want) {
			t.Fatalf("expected line %q in %q", want, reply)
		}
	}
}

func TestHandleGetUsersEmptyPage(t *testing.T) {
	handler, messenger, _ := newTestHandler(t)

	if err := handler.HandleGetUsers(context.Background(), messageEvent(adminID, "get users 7 10")); err != nil {
		t.Fatalf("HandleGetUsers returned error: %v", err)
	}

	if messenger.lastText(t) != "No users found." {
		t.Fatalf("expected empty-page reply, got %q", messenger.lastText(t))
	}
}

func TestHandleGetUserRendersTarget(t *testing.T) {
	handler, messenger, _ := newTestHandler(t)

	if err := handler.HandleGetUser(context.Background(), messageEvent(adminID, "get user 2")); err != nil {
		t.Fatalf("HandleGetUser returned error: %v", err)
	}

	reply := messenger.lastText(t)
	for _, want := range []string{"User Details", "<code>Member</code>", "member@example.com", "<code>user</code>"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("expected %q in %q", want, reply)
		}
	}
	if strings.Contains(reply, "boss@example.com") {
		t.Fatalf("reply leaked caller record: %q", reply)
	}
}

func TestHandleGetUserUnknownTarget(t *testing.T) {
	handler, messenger, _ := newTestHandler(t)

	if err := handler.HandleGetUser(context.Background(), messageEvent(adminID, "get user 12345")); err != nil {
		t.Fatalf("HandleGetUser returned error: %v", err)
	}

	if messenger.lastText(t) != notFoundText {
		t.Fatalf("expected not-found reply, got %q", messenger.lastText(t))
	}
}

func TestHandleUpdateRolePromotesTarget(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)

	if err := handler.HandleUpdateRole(context.Background(), messageEvent(adminID, "update role 2 admin")); err != nil {
		t.Fatalf("HandleUpdateRole returned error: %v", err)
	}

	if directory.users[memberID].Role != domain.RoleAdmin {
		t.Fatalf("expected target promoted, got %s", directory.users[memberID].Role)
	}
	if messenger.lastText(t) != "✅ Updated role for @member → admin" {
		t.Fatalf("unexpected confirmation: %q", messenger.lastText(t))
	}
}

func TestHandleUpdateRoleValidatesRole(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)

	if err := handler.HandleUpdateRole(context.Background(), messageEvent(adminID, "update role 2 superuser")); err != nil {
		t.Fatalf("HandleUpdateRole returned error: %v", err)
	}

	if !strings.Contains(messenger.lastText(t), "Role must be") {
		t.Fatalf("expected role validation reply, got %q", messenger.lastText(t))
	}
	if directory.users[memberID].Role != domain.RoleUser {
		t.Fatalf("expected role unchanged, got %s", directory.users[memberID].Role)
	}
}

func TestHandleUpdateRoleUnknownTarget(t *testing.T) {
	handler, messenger, _ := newTestHandler(t)

	if err := handler.HandleUpdateRole(context.Background(), messageEvent(adminID, "update role 12345 admin")); err != nil {
		t.Fatalf("HandleUpdateRole returned error: %v", err)
	}

	if messenger.lastText(t) != notFoundText {
		t.Fatalf("expected not-found reply, got %q", messenger.lastText(t))
	}
}

func TestHandleDeleteUserRejectsSelf(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)

	if err := handler.HandleDeleteUser(context.Background(), messageEvent(adminID, "delete user 1")); err != nil {
		t.Fatalf("HandleDeleteUser returned error: %v", err)
	}

	if messenger.lastText(t) != "⚠️ Admin can't delete his/her own account." {
		t.Fatalf("expected self-delete rejection, got %q", messenger.lastText(t))
	}
	if _, exists := directory.users[adminID]; !exists {
		t.Fatalf("expected caller record to survive")
	}
}

func TestHandleDeleteUserRemovesTarget(t *testing.T) {
	handler, messenger, directory := newTestHandler(t)

	if err := handler.HandleDeleteUser(context.Background(), messageEvent(adminID, "delete user 2")); err != nil {
		t.Fatalf("HandleDeleteUser returned error: %v", err)
	}

	if _, exists := directory.users[memberID]; exists {
		t.Fatalf("expected target removed")
	}
	if messenger.lastText(t) != "✅ User 2 deleted successfully." {
		t.Fatalf("unexpected confirmation: %q", messenger.lastText(t))
	}

	// A repeat of the same command now reports not-found.
	if err := handler.HandleDeleteUser(context.Background(), messageEvent(adminID, "delete user 2")); err != nil {
		t.Fatalf("repeated delete returned error: %v", err)
	}
	if messenger.lastText(t) != notFoundText {
		t.Fatalf("expected not-found on repeat, got %q", messenger.lastText(t))
	}
}

func TestHandleManageUsersIncludesCounts(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	messenger := &fakeMessenger{}
	directory := newFakeDirectory()
	directory.seed(domain.User{TelegramID: adminID, Name: "Boss", Email: "boss@example.com", Role: domain.RoleAdmin})
	directory.seed(domain.User{TelegramID: memberID, Name: "Member", Email: "member@example.com", Role: domain.RoleUser})
	handler := NewHandler(messenger, directory, &fakeStats{users: 2, admins: 1}, logrus.NewEntry(hookLogger))

	if err := handler.HandleManageUsers(context.Background(), messageEvent(adminID, "/manage_users")); err != nil {
		t.Fatalf("HandleManageUsers returned error: %v", err)
	}

	reply := messenger.lastText(t)
	if !strings.Contains(reply, "Admin Manage User Instructions") {
		t.Fatalf("expected instructions, got %q", reply)
	}
	if !strings.Contains(reply, "📊 Users: 2 (admins: 1)") {
		t.Fatalf("expected counts line, got %q", reply)
	}
}

type fakeMessenger struct {
	sent []*bot.SendMessageParams
}

func (f *fakeMessenger) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	return &models.Message{}, nil
}

func (f *fakeMessenger) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("expected at least one sent message")
	}
	return f.sent[len(f.sent)-1].Text
}

type fakeStats struct {
	users  int64
	admins int64
}

func (f *fakeStats) CountUsers(context.Context) (int64, error)  { return f.users, nil }
func (f *fakeStats) CountAdmins(context.Context) (int64, error) { return f.admins, nil }

type fakeDirectory struct {
	users map[int64]domain.User
	order []int64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[int64]domain.User)}
}

func (f *fakeDirectory) seed(user domain.User) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
		user.UpdatedAt = user.CreatedAt
	}
	if _, exists := f.users[user.TelegramID]; !exists {
		f.order = append(f.order, user.TelegramID)
	}
	f.users[user.TelegramID] = user
}

func (f *fakeDirectory) FindByTelegramID(_ context.Context, telegramID int64) (domain.User, error) {
	user, ok := f.users[telegramID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (f *fakeDirectory) ListPaginated(_ context.Context, page, perPage int64) ([]domain.User, error) {
	if page < 1 || perPage < 1 {
		return nil, domain.ErrValidation
	}

	start := (page - 1) * perPage
	if start >= int64(len(f.order)) {
		return nil, nil
	}

	end := start + perPage
	if end > int64(len(f.order)) {
		end = int64(len(f.order))
	}

	users := make([]domain.User, 0, end-start)
	for _, id := range f.order[start:end] {
		users = append(users, f.users[id])
	}
	return users, nil
}

func (f *fakeDirectory) SetRole(_ context.Context, telegramID int64, role domain.Role) (domain.User, error) {
	user, ok := f.users[telegramID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}

	user.Role = role
	user.UpdatedAt = time.Now().UTC()
	f.users[telegramID] = user
	return user, nil
}

func (f *fakeDirectory) Delete(_ context.Context, telegramID int64) error {
	if _, ok := f.users[telegramID]; !ok {
		return domain.ErrNotFound
	}

	delete(f.users, telegramID)
	for i, id := range f.order {
		if id == telegramID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}
