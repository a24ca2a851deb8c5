package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// UserUpdate carries the optional fields of a profile update; nil means
// "leave unchanged".
type UserUpdate struct {
	Name  *string
	Email *string
}

// Directory persists and retrieves user accounts in MongoDB. Uniqueness of
// tg_user_id and email is enforced by the collection's unique indexes, so
// create/update conflicts surface as ErrConflict even when two conversations
// race past the handlers' pre-checks.
type Directory struct {
	collection userCollection
}

// NewDirectory constructs a Directory over the users collection.
func NewDirectory(collection userCollection) *Directory {
	return &Directory{collection: collection}
}

// newUserID is overridable for tests.
var newUserID = func() string {
	return ulid.Make().String()
}

// Create inserts a new account with defaults: role=user, is_active=true,
// created_at == updated_at == now. Registration is the only caller; no other
// path creates records.
func (d *Directory) Create(ctx context.Context, telegramID int64, telegramUsername, name, email string) (User, error) {
	if d == nil || d.collection == nil {
		return User{}, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if telegramID == 0 {
		return User{}, fmt.Errorf("%w: tg_user_id is required", ErrValidation)
	}
	if name == "" || email == "" {
		return User{}, fmt.Errorf("%w: name and email are required", ErrValidation)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	user := User{
		ID:               newUserID(),
		TelegramID:       telegramID,
		TelegramUsername: telegramUsername,
		Name:             name,
		Email:            email,
		Role:             RoleUser,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if _, err := d.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("insert user: %w", ErrConflict)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// FindByTelegramID fetches the unique account for a Telegram identity,
// returning ErrNotFound when none exists.
func (d *Directory) FindByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	return d.findOne(ctx, bson.M{"tg_user_id": telegramID})
}

// FindByEmail fetches the unique account owning an email address, returning
// ErrNotFound when none exists. Used for both login-style lookup and the
// handlers' uniqueness pre-checks.
func (d *Directory) FindByEmail(ctx context.Context, email string) (User, error) {
	return d.findOne(ctx, bson.M{"email": email})
}

// Update applies the provided fields to the account keyed by telegramID and
// bumps updated_at. Returns ErrNotFound when the account does not exist and
// ErrConflict when the new email is owned by a different account.
func (d *Directory) Update(ctx context.Context, telegramID int64, fields UserUpdate) (User, error) {
	if d == nil || d.collection == nil {
		return User{}, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}
	if fields.Name == nil && fields.Email == nil {
		return User{}, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	set := bson.M{
		"updated_at": time.Now().UTC().Truncate(time.Millisecond),
	}
	if fields.Name != nil {
		set["name"] = *fields.Name
	}
	if fields.Email != nil {
		set["email"] = *fields.Email
	}

	result := d.collection.FindOneAndUpdate(ctx,
		bson.M{"tg_user_id": telegramID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result == nil {
		return User{}, errors.New("update user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, fmt.Errorf("update user: %w", ErrNotFound)
		}
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("update user: %w", ErrConflict)
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}

	var user User
	if err := result.Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode updated user: %w", err)
	}

	return user, nil
}

// SetRole replaces the account's role. Role validity is the caller's problem;
// the enum type keeps arbitrary strings out at compile time.
func (d *Directory) SetRole(ctx context.Context, telegramID int64, role Role) (User, error) {
	if d == nil || d.collection == nil {
		return User{}, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}

	result := d.collection.FindOneAndUpdate(ctx,
		bson.M{"tg_user_id": telegramID},
		bson.M{"$set": bson.M{
			"role":       role,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result == nil {
		return User{}, errors.New("set role returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, fmt.Errorf("set role: %w", ErrNotFound)
		}
		return User{}, fmt.Errorf("set role: %w", err)
	}

	var user User
	if err := result.Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode updated user: %w", err)
	}

	return user, nil
}

// Delete removes the account keyed by telegramID. Deleting an absent account
// returns ErrNotFound; repeated deletes are not idempotent.
func (d *Directory) Delete(ctx context.Context, telegramID int64) error {
	if d == nil || d.collection == nil {
		return errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	result, err := d.collection.DeleteOne(ctx, bson.M{"tg_user_id": telegramID})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if result == nil || result.DeletedCount == 0 {
		return fmt.Errorf("delete user: %w", ErrNotFound)
	}

	return nil
}

// ListPaginated returns one page of accounts ordered by created_at descending.
// A page past the end of the collection is an empty slice, not an error.
func (d *Directory) ListPaginated(ctx context.Context, page, perPage int64) ([]User, error) {
	if d == nil || d.collection == nil {
		return nil, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("%w: page and per_page must be >= 1", ErrValidation)
	}

	cursor, err := d.collection.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page-1)*perPage).
		SetLimit(perPage),
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]User, 0, perPage)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode user page: %w", err)
	}

	return users, nil
}

func (d *Directory) findOne(ctx context.Context, filter bson.M) (User, error) {
	if d == nil || d.collection == nil {
		return User{}, errors.New("user directory is not initialized")
	}
	if ctx == nil {
		return User{}, errors.New("context is required")
	}

	result := d.collection.FindOne(ctx, filter)
	if result == nil {
		return User{}, errors.New("find user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, fmt.Errorf("find user: %w", ErrNotFound)
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}

	var user User
	if err := result.Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}

	return user, nil
}
