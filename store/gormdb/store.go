// Package gormdb implements store.Store on GORM. It runs against any GORM
// dialect; the turnstile binary wires MySQL and SQLite.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store using a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// New creates a new GORM-backed store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates the turnstile tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&planModel{},
		&permissionModel{},
		&subscriptionModel{},
	); err != nil {
		return fmt.Errorf("turnstile/gormdb: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("turnstile/gormdb: get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("turnstile/gormdb: get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// ──────────────────────────────────────────────────
// Plan Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := s.db.WithContext(ctx).Create(toPlanModel(p)).Error; err != nil {
		if isDuplicate(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/gormdb: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	if err := s.db.WithContext(ctx).Where("id = ?", planID.String()).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, fmt.Errorf("turnstile/gormdb: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	var m planModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, fmt.Errorf("turnstile/gormdb: get plan by name: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := paginate(s.db.WithContext(ctx).Order("id ASC"), opts.Limit, opts.Offset)
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("turnstile/gormdb: list plans: %w", err)
	}

	result := make([]*plan.Plan, 0, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) SetPlanPermissions(ctx context.Context, planID id.PlanID, old, updated types.NameSet) error {
	res := s.db.WithContext(ctx).Model(&planModel{}).
		Where("id = ? AND api_permissions = ?", planID.String(), old.Encode()).
		Updates(map[string]any{
			"api_permissions": updated.Encode(),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("turnstile/gormdb: set plan permissions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	ok, err := s.exists(ctx, &planModel{}, "id = ?", planID.String())
	if err != nil {
		return err
	}
	if !ok {
		return turnstile.ErrPlanNotFound
	}
	return turnstile.ErrConcurrentUpdate
}

// DeletePlan deletes the plan only while no subscription references it.
// The NOT EXISTS guard is part of the DELETE, so a subscriber bound
// concurrently either blocks the delete or sees the plan gone.
func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	res := s.db.WithContext(ctx).
		Where("id = ?", planID.String()).
		Where("NOT EXISTS (SELECT 1 FROM turnstile_user_subscriptions WHERE plan_id = ?)", planID.String()).
		Delete(&planModel{})
	if res.Error != nil {
		return fmt.Errorf("turnstile/gormdb: delete plan: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	ok, err := s.exists(ctx, &planModel{}, "id = ?", planID.String())
	if err != nil {
		return err
	}
	if !ok {
		return turnstile.ErrPlanNotFound
	}
	return turnstile.ErrPlanInUse
}

// ──────────────────────────────────────────────────
// Permission Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePermission(ctx context.Context, p *permission.Permission) error {
	if err := s.db.WithContext(ctx).Create(toPermissionModel(p)).Error; err != nil {
		if isDuplicate(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/gormdb: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.PermissionID) (*permission.Permission, error) {
	var m permissionModel
	if err := s.db.WithContext(ctx).Where("id = ?", permID.String()).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("turnstile/gormdb: get permission: %w", err)
	}
	return fromPermissionModel(&m)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*permission.Permission, error) {
	var m permissionModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("turnstile/gormdb: get permission by name: %w", err)
	}
	return fromPermissionModel(&m)
}

func (s *Store) ListPermissions(ctx context.Context, opts permission.ListOpts) ([]*permission.Permission, error) {
	var models []permissionModel
	q := paginate(s.db.WithContext(ctx).Order("id ASC"), opts.Limit, opts.Offset)
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("turnstile/gormdb: list permissions: %w", err)
	}

	result := make([]*permission.Permission, 0, len(models))
	for i := range models {
		p, err := fromPermissionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) DeletePermission(ctx context.Context, permID id.PermissionID) error {
	res := s.db.WithContext(ctx).Where("id = ?", permID.String()).Delete(&permissionModel{})
	if res.Error != nil {
		return fmt.Errorf("turnstile/gormdb: delete permission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return turnstile.ErrPermissionNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

// CreateSubscription inserts the row with INSERT ... SELECT from the plan
// row, so the insert and the plan existence check are one statement.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.UserSubscription) error {
	m := toSubscriptionModel(sub)
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO turnstile_user_subscriptions (id, user_id, plan_id, usage_count, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ? FROM turnstile_plans WHERE id = ?`,
		m.ID, m.UserID, m.PlanID, m.UsageCount, m.CreatedAt, m.UpdatedAt, m.PlanID,
	)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return turnstile.ErrSubscriptionExists
		}
		return fmt.Errorf("turnstile/gormdb: create subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return turnstile.ErrPlanNotFound
	}
	return nil
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.UserSubscription, error) {
	var m subscriptionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, turnstile.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("turnstile/gormdb: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptionsByPlan(ctx context.Context, planID id.PlanID, opts subscription.ListOpts) ([]*subscription.UserSubscription, error) {
	var models []subscriptionModel
	q := paginate(s.db.WithContext(ctx).Where("plan_id = ?", planID.String()).Order("user_id ASC"), opts.Limit, opts.Offset)
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("turnstile/gormdb: list subscriptions: %w", err)
	}

	result := make([]*subscription.UserSubscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

func (s *Store) RebindSubscription(ctx context.Context, userID string, planID id.PlanID) error {
	res := s.db.WithContext(ctx).Model(&subscriptionModel{}).
		Where("user_id = ?", userID).
		Where("EXISTS (SELECT 1 FROM turnstile_plans WHERE id = ?)", planID.String()).
		Updates(map[string]any{
			"plan_id":     planID.String(),
			"usage_count": 0,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("turnstile/gormdb: rebind subscription: %w", res.Error)
	}
	if err := s.requireSubscription(ctx, res.RowsAffected, userID); err != nil || res.RowsAffected > 0 {
		return err
	}

	ok, err := s.exists(ctx, &planModel{}, "id = ?", planID.String())
	if err != nil {
		return err
	}
	if !ok {
		return turnstile.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ResetUsage(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Model(&subscriptionModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"usage_count": 0,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("turnstile/gormdb: reset usage: %w", res.Error)
	}
	return s.requireSubscription(ctx, res.RowsAffected, userID)
}

// ConsumeUsage increments with a guarded UPDATE and reads the new value
// back inside the same transaction, while the row lock is still held.
func (s *Store) ConsumeUsage(ctx context.Context, userID string, planID id.PlanID, limit int64) (int64, error) {
	var used int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&subscriptionModel{}).
			Where("user_id = ? AND plan_id = ? AND usage_count < ?", userID, planID.String(), limit).
			Updates(map[string]any{
				"usage_count": gorm.Expr("usage_count + ?", 1),
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return turnstile.ErrUsageNotConsumed
		}
		return tx.Model(&subscriptionModel{}).
			Where("user_id = ?", userID).
			Select("usage_count").
			Scan(&used).Error
	})
	if errors.Is(err, turnstile.ErrUsageNotConsumed) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("turnstile/gormdb: consume usage: %w", err)
	}
	return used, nil
}

func (s *Store) ReassignSubscriptions(ctx context.Context, from, to id.PlanID) (int64, error) {
	res := s.db.WithContext(ctx).Model(&subscriptionModel{}).
		Where("plan_id = ?", from.String()).
		Updates(map[string]any{
			"plan_id":     to.String(),
			"usage_count": 0,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("turnstile/gormdb: reassign subscriptions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// requireSubscription turns a zero-row update into ErrSubscriptionNotFound.
// MySQL reports changed rather than matched rows, so zero is confirmed
// with a lookup.
func (s *Store) requireSubscription(ctx context.Context, affected int64, userID string) error {
	if affected > 0 {
		return nil
	}
	ok, err := s.exists(ctx, &subscriptionModel{}, "user_id = ?", userID)
	if err != nil {
		return err
	}
	if !ok {
		return turnstile.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, fmt.Errorf("turnstile/gormdb: lookup: %w", err)
	}
	return n > 0, nil
}

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
