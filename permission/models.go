package permission

import (
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/types"
)

// Permission is a named capability corresponding to one API endpoint.
type Permission struct {
	types.Entity
	ID          id.PermissionID `json:"id"`
	Name        string          `json:"name"`
	APIEndpoint string          `json:"api_endpoint"`
	Description string          `json:"description"`
}
