package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// ==================== Plan models ====================

// planModel keeps permissions as an array; documents need no delimited
// encoding.
type planModel struct {
	grove.BaseModel `grove:"table:turnstile_plans"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	Name           string    `grove:"name"            bson:"name"`
	Description    string    `grove:"description"     bson:"description"`
	APIPermissions []string  `grove:"api_permissions" bson:"api_permissions"`
	UsageLimit     int64     `grove:"usage_limit"     bson:"usage_limit"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:             p.ID.String(),
		Name:           p.Name,
		Description:    p.Description,
		APIPermissions: p.Permissions.Names(),
		UsageLimit:     p.UsageLimit,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Plan{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          planID,
		Name:        m.Name,
		Description: m.Description,
		Permissions: types.NewNameSet(m.APIPermissions...),
		UsageLimit:  m.UsageLimit,
	}, nil
}

// ==================== Permission models ====================

type permissionModel struct {
	grove.BaseModel `grove:"table:turnstile_permissions"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	Name        string    `grove:"name"         bson:"name"`
	APIEndpoint string    `grove:"api_endpoint" bson:"api_endpoint"`
	Description string    `grove:"description"  bson:"description"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toPermissionModel(p *permission.Permission) *permissionModel {
	return &permissionModel{
		ID:          p.ID.String(),
		Name:        p.Name,
		APIEndpoint: p.APIEndpoint,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromPermissionModel(m *permissionModel) (*permission.Permission, error) {
	permID, err := id.ParsePermissionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &permission.Permission{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          permID,
		Name:        m.Name,
		APIEndpoint: m.APIEndpoint,
		Description: m.Description,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:turnstile_user_subscriptions"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	UserID     string    `grove:"user_id"     bson:"user_id"`
	PlanID     string    `grove:"plan_id"     bson:"plan_id"`
	UsageCount int64     `grove:"usage_count" bson:"usage_count"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.UserSubscription) *subscriptionModel {
	return &subscriptionModel{
		ID:         s.ID.String(),
		UserID:     s.UserID,
		PlanID:     s.PlanID.String(),
		UsageCount: s.UsageCount,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.UserSubscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &subscription.UserSubscription{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         subID,
		UserID:     m.UserID,
		PlanID:     planID,
		UsageCount: m.UsageCount,
	}, nil
}
