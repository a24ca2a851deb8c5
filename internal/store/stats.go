// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_user_directory_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes directory counts for diagnostics without leaking
// MongoDB internals to callers.
type StatsProvider struct {
	users countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the users collection.
func NewStatsProvider(users countCollection) *StatsProvider {
	return &StatsProvider{users: users}
}

// CountUsers returns the number of registered accounts.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountAdmins returns the number of accounts holding the admin role.
func (p *StatsProvider) CountAdmins(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.M{"role": domain.RoleAdmin})
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}

	return count, nil
}
