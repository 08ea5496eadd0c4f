package store

import (
	"context"

	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
)

// Store is the unified storage interface for all turnstile entities.
// Each entity package prefixes its method names, so the sub-interfaces
// embed without conflict.
type Store interface {
	plan.Store
	permission.Store
	subscription.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
