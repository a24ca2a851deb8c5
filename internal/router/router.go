// Package router maps inbound chat events to handlers through an explicit
// ordered matcher list, so dispatch priority is visible and testable instead
// of living in framework registration order.
package router

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/logging"
	"tg_user_directory_bot/internal/session"
)

// Kind classifies an inbound event.
type Kind string

const (
	// KindMessage is a plain text message, including /commands.
	KindMessage Kind = "message"
	// KindCallback is an inline-keyboard button press.
	KindCallback Kind = "callback"
)

// Event is the transport-independent shape of one inbound chat event.
type Event struct {
	Kind       Kind
	UserID     int64
	ChatID     int64
	Text       string // message text, or the callback token for KindCallback
	CallbackID string // set only for KindCallback, used to ack the button press
	FullName   string
	Username   string
}

// HandlerFunc processes one event. Domain errors are rendered to the user by
// the handler itself; a returned error is unexpected and is answered with a
// generic failure message by the dispatcher's caller.
type HandlerFunc func(ctx context.Context, ev Event) error

// StateResolver reports the conversation state for a Telegram user id.
type StateResolver interface {
	StateOf(userID int64) session.State
}

type prefixRoute struct {
	prefix  string
	handler HandlerFunc
}

// Router dispatches events in fixed priority order: exact /command, exact
// callback token, active conversation continuation, then registered free-text
// prefixes in registration order. Anything else is dropped silently.
type Router struct {
	commands  map[string]HandlerFunc
	callbacks map[string]HandlerFunc
	prefixes  []prefixRoute
	dialog    HandlerFunc
	states    StateResolver
	logger    *logrus.Entry
}

// New constructs a Router. The resolver may be nil when no dialogue handler
// is registered.
func New(states StateResolver, logger *logrus.Entry) *Router {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Router{
		commands:  make(map[string]HandlerFunc),
		callbacks: make(map[string]HandlerFunc),
		states:    states,
		logger:    logger,
	}
}

// Command registers a handler for an exact slash command, without the slash.
func (r *Router) Command(name string, handler HandlerFunc) {
	r.commands[strings.ToLower(name)] = handler
}

// Callback registers a handler for an exact callback token.
func (r *Router) Callback(token string, handler HandlerFunc) {
	r.callbacks[token] = handler
}

// Prefix registers a case-insensitive free-text prefix. Prefixes are tried in
// registration order, so register the longer of two overlapping prefixes
// first ("get users" before "get user").
func (r *Router) Prefix(prefix string, handler HandlerFunc) {
	r.prefixes = append(r.prefixes, prefixRoute{
		prefix:  strings.ToLower(prefix),
		handler: handler,
	})
}

// Dialog registers the handler that receives any text while the sender's
// conversation state is not idle. Continuation pre-empts prefix matches but
// not registered /commands; slash text matching no command is treated as
// ordinary dialogue input.
func (r *Router) Dialog(handler HandlerFunc) {
	r.dialog = handler
}

// Dispatch routes one event, reporting whether any handler fired. Unmatched
// events are dropped without a reply.
func (r *Router) Dispatch(ctx context.Context, ev Event) (bool, error) {
	if r == nil {
		return false, nil
	}

	handler := r.resolve(ev)
	if handler == nil {
		r.logger.WithFields(logging.Fields{
			"event":   "update_unrouted",
			"kind":    ev.Kind,
			"user_id": ev.UserID,
		}).Debug("dropping event matching no handler")
		return false, nil
	}

	return true, handler(ctx, ev)
}

func (r *Router) resolve(ev Event) HandlerFunc {
	switch ev.Kind {
	case KindCallback:
		return r.callbacks[ev.Text]
	case KindMessage:
		text := strings.TrimSpace(ev.Text)

		if strings.HasPrefix(text, "/") {
			if handler := r.commands[commandName(text)]; handler != nil {
				return handler
			}
			// Unregistered slash text falls through: mid-dialogue it is
			// ordinary input for the step handler.
		}

		if r.dialog != nil && r.states != nil && r.states.StateOf(ev.UserID) != session.StateIdle {
			return r.dialog
		}

		if text == "" {
			return nil
		}

		lower := strings.ToLower(text)
		for _, route := range r.prefixes {
			if strings.HasPrefix(lower, route.prefix) {
				return route.handler
			}
		}
	}

	return nil
}

// commandName extracts the lower-cased command from "/name@Bot args".
func commandName(text string) string {
	name := strings.TrimPrefix(text, "/")
	if idx := strings.IndexAny(name, " \t"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.Index(name, "@"); idx >= 0 {
		name = name[:idx]
	}

	return strings.ToLower(name)
}
