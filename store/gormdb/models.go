package gormdb

import (
	"time"

	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// ──────────────────────────────────────────────────
// Plan model
// ──────────────────────────────────────────────────

type planModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	Name           string    `gorm:"size:255;not null;uniqueIndex:idx_turnstile_plans_name"`
	Description    string    `gorm:"type:text"`
	APIPermissions string    `gorm:"column:api_permissions;type:text;not null"`
	UsageLimit     int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (planModel) TableName() string { return "turnstile_plans" }

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:             p.ID.String(),
		Name:           p.Name,
		Description:    p.Description,
		APIPermissions: p.Permissions.Encode(),
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
		Permissions: types.ParseNameSet(m.APIPermissions),
		UsageLimit:  m.UsageLimit,
	}, nil
}

// ──────────────────────────────────────────────────
// Permission model
// ──────────────────────────────────────────────────

type permissionModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:255;not null;uniqueIndex:idx_turnstile_permissions_name"`
	APIEndpoint string    `gorm:"column:api_endpoint;size:512"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (permissionModel) TableName() string { return "turnstile_permissions" }

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

// ──────────────────────────────────────────────────
// Subscription model
// ──────────────────────────────────────────────────

type subscriptionModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	UserID     string    `gorm:"size:255;not null;uniqueIndex:idx_turnstile_subs_user"`
	PlanID     string    `gorm:"size:64;not null;index:idx_turnstile_subs_plan"`
	UsageCount int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (subscriptionModel) TableName() string { return "turnstile_user_subscriptions" }

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
