// Package bootstrap promotes the configured Telegram id to the admin role at
// startup. It only flips the role on an existing record; accounts are created
// exclusively by the registration flow.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/logging"
)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar applies the startup admin promotion.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
	}
}

// EnsureAdmin sets role=admin on the account with the given Telegram id. When
// the account does not exist yet the promotion is skipped with a warning; it
// will apply on the next restart after the operator registers.
func (r *Registrar) EnsureAdmin(ctx context.Context, telegramID int64) error {
	if r == nil || r.users == nil {
		return errors.New("bootstrap registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if telegramID == 0 {
		return errors.New("admin telegram id is required")
	}

	now := time.Now().UTC()

	result, err := r.users.UpdateOne(ctx,
		bson.M{"tg_user_id": telegramID, "role": bson.M{"$ne": domain.RoleAdmin}},
		bson.M{"$set": bson.M{
			"role":       domain.RoleAdmin,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("promote admin: %w", err)
	}

	if result != nil && result.ModifiedCount > 0 {
		r.logger.WithFields(logging.Fields{
			"event":   "admin_bootstrap",
			"user_id": telegramID,
		}).Info("promoted configured user to admin")
	} else {
		// Either not registered yet or already an admin; both are fine and
		// the promotion re-applies on the next restart if needed.
		r.logger.WithFields(logging.Fields{
			"event":   "admin_bootstrap_skipped",
			"user_id": telegramID,
		}).Info("admin promotion made no change")
	}

	return nil
}
