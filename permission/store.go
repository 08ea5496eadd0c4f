package permission

import (
	"context"

	"github.com/xraph/turnstile/id"
)

// Store persists permissions. Names are unique.
type Store interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, permID id.PermissionID) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context, opts ListOpts) ([]*Permission, error)
	DeletePermission(ctx context.Context, permID id.PermissionID) error
}

type ListOpts struct {
	Limit  int
	Offset int
}
