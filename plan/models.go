package plan

import (
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/types"
)

// Plan is a named bundle of permitted API names plus a lifetime usage quota.
type Plan struct {
	types.Entity
	ID          id.PlanID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Permissions types.NameSet `json:"api_permissions"`
	UsageLimit  int64         `json:"usage_limit"`
}

// Permits reports whether api is in the plan's permission set.
func (p *Plan) Permits(api string) bool {
	return p.Permissions.Contains(api)
}

// Allows reports whether api may be called once more given used calls so far.
func (p *Plan) Allows(api string, used int64) bool {
	return p.Permits(api) && used < p.UsageLimit
}

// Remaining returns the calls left before the quota is exhausted.
func (p *Plan) Remaining(used int64) int64 {
	return max(0, p.UsageLimit-used)
}
