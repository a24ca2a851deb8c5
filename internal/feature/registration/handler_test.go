package registration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/router"
	"tg_user_directory_bot/internal/session"
)

func newTestHandler(t *testing.T) (*Handler, *fakeMessenger, *fakeDirectory, *session.Store) {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	messenger := &fakeMessenger{}
	directory := newFakeDirectory()
	sessions := session.NewStore(session.DefaultTTL)

	return NewHandler(messenger, directory, sessions, logrus.NewEntry(hookLogger)), messenger, directory, sessions
}

func messageEvent(userID int64, text string) router.Event {
	return router.Event{
		Kind:     router.KindMessage,
		UserID:   userID,
		ChatID:   userID,
		Text:     text,
		FullName: "Test User",
		Username: "test_user",
	}
}

func TestHandleStartOffersRegistrationToUnknownUser(t *testing.T) {
	handler, messenger, _, _ := newTestHandler(t)

	if err := handler.HandleStart(context.Background(), messageEvent(42, "/start")); err != nil {
		t.Fatalf("HandleStart returned error: %v", err)
	}

	offer := messenger.lastParams(t)
	if !strings.Contains(offer.Text, "Click below to register") {
		t.Fatalf("expected registration offer, got %q", offer.Text)
	}

	markup, ok := offer.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) == 0 {
		t.Fatalf("expected inline keyboard on offer, got %T", offer.ReplyMarkup)
	}
	if markup.InlineKeyboard[0][0].CallbackData != CallbackRegisterStart {
		t.Fatalf("expected register callback token, got %q", markup.InlineKeyboard[0][0].CallbackData)
	}
}

func TestHandleStartGreetsExistingAdmin(t *testing.T) {
	handler, messenger, directory, _ := newTestHandler(t)
	directory.seed(domain.User{TelegramID: 42, Name: "Alice", Email: "alice@example.com", Role: domain.RoleAdmin})

	if err := handler.HandleStart(context.Background(), messageEvent(42, "/start")); err != nil {
		t.Fatalf("HandleStart returned error: %v", err)
	}

	texts := messenger.allTexts()
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "Welcome back, admin") {
		t.Fatalf("expected welcome-back greeting with role, got %q", joined)
	}
	if !strings.Contains(joined, "/manage_users") {
		t.Fatalf("expected admin command list, got %q", joined)
	}
}

func TestRegistrationDialogueHappyPath(t *testing.T) {
	handler, messenger, directory, sessions := newTestHandler(t)
	ctx := context.Background()

	callback := router.Event{
		Kind:       router.KindCallback,
		UserID:     42,
		ChatID:     42,
		Text:       CallbackRegisterStart,
		CallbackID: "cb-1",
	}
	if err := handler.HandleRegisterStart(ctx, callback); err != nil {
		t.Fatalf("HandleRegisterStart returned error: %v", err)
	}
	if sessions.StateOf(42) != session.StateAwaitingName {
		t.Fatalf("expected awaiting_name after register button, got %s", sessions.StateOf(42))
	}
	if messenger.answeredCallbacks != 1 {
		t.Fatalf("expected callback to be answered, got %d", messenger.answeredCallbacks)
	}

	if err := handler.HandleDialog(ctx, messageEvent(42, "Alice Wonder")); err != nil {
		t.Fatalf("name step returned error: %v", err)
	}
	if sessions.StateOf(42) != session.StateAwaitingEmail {
		t.Fatalf("expected awaiting_email after name, got %s", sessions.StateOf(42))
	}

	if err := handler.HandleDialog(ctx, messageEvent(42, "alice@example.com")); err != nil {
		t.Fatalf("email step returned error: %v", err)
	}

	if sessions.StateOf(42) != session.StateIdle {
		t.Fatalf("expected idle after completion, got %s", sessions.StateOf(42))
	}

	created, ok := directory.users[42]
	if !ok {
		t.Fatalf("expected user to be created")
	}
	if created.Name != "Alice Wonder" || created.Email != "alice@example.com" {
		t.Fatalf("unexpected created user: %+v", created)
	}
	if created.Role != domain.RoleUser || !created.IsActive {
		t.Fatalf("expected default role and active flag, got %+v", created)
	}

	if !strings.Contains(messenger.lastText(t), "Registration complete") {
		t.Fatalf("expected completion reply, got %q", messenger.lastText(t))
	}
}

func TestEmailStepRejectsMalformedAddress(t *testing.T) {
	handler, messenger, directory, sessions := newTestHandler(t)
	ctx := context.Background()

	sessions.Enter(42, session.StateAwaitingName)
	if err := handler.HandleDialog(ctx, messageEvent(42, "Alice")); err != nil {
		t.Fatalf("name step returned error: %v", err)
	}

	if err := handler.HandleDialog(ctx, messageEvent(42, "not-an-email")); err != nil {
		t.Fatalf("email step returned error: %v", err)
	}

	if sessions.StateOf(42) != session.StateAwaitingEmail {
		t.Fatalf("expected self-loop on invalid email, got %s", sessions.StateOf(42))
	}
	if len(directory.users) != 0 {
		t.Fatalf("expected no user created, got %v", directory.users)
	}
	if !strings.Contains(messenger.lastText(t), "Invalid email format") {
		t.Fatalf("expected invalid-email reply, got %q", messenger.lastText(t))
	}
}

func TestEmailStepRejectsAddressOwnedByOtherIdentity(t *testing.T) {
	handler, messenger, directory, sessions := newTestHandler(t)
	ctx := context.Background()
	directory.seed(domain.User{TelegramID: 1, Name: "First", Email: "a@example.com"})

	sessions.Enter(42, session.StateAwaitingName)
	if err := handler.HandleDialog(ctx, messageEvent(42, "Second")); err != nil {
		t.Fatalf("name step returned error: %v", err)
	}
	if err := handler.HandleDialog(ctx, messageEvent(42, "a@example.com")); err != nil {
		t.Fatalf("email step returned error: %v", err)
	}

	if sessions.StateOf(42) != session.StateAwaitingEmail {
		t.Fatalf("expected conversation to stay at awaiting_email, got %s", sessions.StateOf(42))
	}
	if _, exists := directory.users[42]; exists {
		t.Fatalf("expected no record for second identity")
	}
	if !strings.Contains(messenger.lastText(t), "already registered by") {
		t.Fatalf("expected already-registered reply, got %q", messenger.lastText(t))
	}
}

func TestEmailStepSurvivesCreateRace(t *testing.T) {
	handler, messenger, directory, sessions := newTestHandler(t)
	ctx := context.Background()

	// The pre-check passes but the insert loses a race on the unique index.
	directory.createErr = fmt.Errorf("insert user: %w", domain.ErrConflict)

	sessions.Enter(42, session.StateAwaitingName)
	if err := handler.HandleDialog(ctx, messageEvent(42, "Alice")); err != nil {
		t.Fatalf("name step returned error: %v", err)
	}
	if err := handler.HandleDialog(ctx, messageEvent(42, "alice@example.com")); err != nil {
		t.Fatalf("email step returned error: %v", err)
	}

	if sessions.StateOf(42) != session.StateAwaitingEmail {
		t.Fatalf("expected retryable state after conflict, got %s", sessions.StateOf(42))
	}
	if !strings.Contains(messenger.lastText(t), "already in use") {
		t.Fatalf("expected retryable conflict reply, got %q", messenger.lastText(t))
	}
}

func TestRegisterRestartResetsDialogue(t *testing.T) {
	handler, _, _, sessions := newTestHandler(t)
	ctx := context.Background()

	sessions.Enter(42, session.StateAwaitingName)
	if err := handler.HandleDialog(ctx, messageEvent(42, "Alice")); err != nil {
		t.Fatalf("name step returned error: %v", err)
	}

	if err := handler.HandleRegisterStart(ctx, router.Event{
		Kind:   router.KindCallback,
		UserID: 42,
		ChatID: 42,
		Text:   CallbackRegisterStart,
	}); err != nil {
		t.Fatalf("HandleRegisterStart returned error: %v", err)
	}

	state, scratch := sessions.Current(42)
	if state != session.StateAwaitingName {
		t.Fatalf("expected dialogue restarted at awaiting_name, got %s", state)
	}
	if len(scratch) != 0 {
		t.Fatalf("expected stale scratch discarded, got %v", scratch)
	}
}

type fakeMessenger struct {
	sent              []*bot.SendMessageParams
	answeredCallbacks int
}

func (f *fakeMessenger) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	return &models.Message{}, nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, _ *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answeredCallbacks++
	return true, nil
}

func (f *fakeMessenger) lastParams(t *testing.T) *bot.SendMessageParams {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("expected at least one sent message")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) lastText(t *testing.T) string {
	return f.lastParams(t).Text
}

func (f *fakeMessenger) allTexts() []string {
	texts := make([]string, 0, len(f.sent))
	for _, params := range f.sent {
		texts = append(texts, params.Text)
	}
	return texts
}

type fakeDirectory struct {
	users     map[int64]domain.User
	createErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[int64]domain.User)}
}

func (f *fakeDirectory) seed(user domain.User) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
		user.UpdatedAt = user.CreatedAt
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

func (f *fakeDirectory) FindByEmail(_ context.Context, email string) (domain.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeDirectory) Create(_ context.Context, telegramID int64, telegramUsername, name, email string) (domain.User, error) {
	if f.createErr != nil {
		return domain.User{}, f.createErr
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:               fmt.Sprintf("fake-%d", telegramID),
		TelegramID:       telegramID,
		TelegramUsername: telegramUsername,
		Name:             name,
		Email:            email,
		Role:             domain.RoleUser,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.users[telegramID] = user
	return user, nil
}
