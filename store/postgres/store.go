package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	tsstore "github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// compile-time interface check
var _ tsstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("turnstile/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("turnstile/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.pg.NewInsert(toPlanModel(p)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/postgres: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) SetPlanPermissions(ctx context.Context, planID id.PlanID, old, updated types.NameSet) error {
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("api_permissions = $1", updated.Encode()).
		Set("updated_at = $2", now()).
		Where("id = $3", planID.String()).
		Where("api_permissions = $4", old.Encode()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	return turnstile.ErrConcurrentUpdate
}

// DeletePlan deletes the plan only while no subscription references it.
func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.pg.NewDelete((*planModel)(nil)).
		Where("id = $1", planID.String()).
		Where("NOT EXISTS (SELECT 1 FROM turnstile_user_subscriptions WHERE plan_id = $2)", planID.String()).
		Exec(ctx)
	if err != nil {
		if isForeignKeyViolation(err) {
			return turnstile.ErrPlanInUse
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	return turnstile.ErrPlanInUse
}

// ==================== Permission Store ====================

func (s *Store) CreatePermission(ctx context.Context, p *permission.Permission) error {
	_, err := s.pg.NewInsert(toPermissionModel(p)).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/postgres: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.PermissionID) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", permID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, err
	}
	return fromPermissionModel(m)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, err
	}
	return fromPermissionModel(m)
}

func (s *Store) ListPermissions(ctx context.Context, opts permission.ListOpts) ([]*permission.Permission, error) {
	var models []permissionModel
	q := s.pg.NewSelect(&models)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*permission.Permission, len(models))
	for i := range models {
		p, err := fromPermissionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) DeletePermission(ctx context.Context, permID id.PermissionID) error {
	res, err := s.pg.NewDelete((*permissionModel)(nil)).
		Where("id = $1", permID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return turnstile.ErrPermissionNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

// CreateSubscription selects the new row's values from the plan row, so a
// missing plan inserts nothing and the check cannot race the insert.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.UserSubscription) error {
	m := toSubscriptionModel(sub)
	var inserted string
	err := s.pg.NewRaw(`
		INSERT INTO turnstile_user_subscriptions (id, user_id, plan_id, usage_count, created_at, updated_at)
		SELECT $1, $2, $3, $4::BIGINT, $5::TIMESTAMPTZ, $6::TIMESTAMPTZ FROM turnstile_plans WHERE id = $7
		RETURNING id
	`, m.ID, m.UserID, m.PlanID, m.UsageCount, m.CreatedAt, m.UpdatedAt, m.PlanID).Scan(ctx, &inserted)
	if err != nil {
		switch {
		case isNoRows(err):
			return turnstile.ErrPlanNotFound
		case isUniqueViolation(err):
			return turnstile.ErrSubscriptionExists
		case isForeignKeyViolation(err):
			return turnstile.ErrPlanNotFound
		}
		return fmt.Errorf("turnstile/postgres: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.UserSubscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptionsByPlan(ctx context.Context, planID id.PlanID, opts subscription.ListOpts) ([]*subscription.UserSubscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("plan_id = $1", planID.String())
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("user_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.UserSubscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) RebindSubscription(ctx context.Context, userID string, planID id.PlanID) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("plan_id = $1", planID.String()).
		Set("usage_count = 0").
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Where("EXISTS (SELECT 1 FROM turnstile_plans WHERE id = $4)", planID.String()).
		Exec(ctx)
	if err != nil {
		if isForeignKeyViolation(err) {
			return turnstile.ErrPlanNotFound
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetSubscriptionByUser(ctx, userID); err != nil {
		return err
	}
	return turnstile.ErrPlanNotFound
}

func (s *Store) ResetUsage(ctx context.Context, userID string) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("usage_count = 0").
		Set("updated_at = $1", now()).
		Where("user_id = $2", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, turnstile.ErrSubscriptionNotFound)
}

// ConsumeUsage is a single guarded UPDATE; the row lock Postgres takes for
// it serializes concurrent increments of one subscription.
func (s *Store) ConsumeUsage(ctx context.Context, userID string, planID id.PlanID, limit int64) (int64, error) {
	var used int64
	err := s.pg.NewRaw(`
		UPDATE turnstile_user_subscriptions
		SET usage_count = usage_count + 1, updated_at = $1
		WHERE user_id = $2 AND plan_id = $3 AND usage_count < $4
		RETURNING usage_count
	`, now(), userID, planID.String(), limit).Scan(ctx, &used)
	if err != nil {
		if isNoRows(err) {
			return 0, turnstile.ErrUsageNotConsumed
		}
		return 0, fmt.Errorf("turnstile/postgres: consume usage: %w", err)
	}
	return used, nil
}

func (s *Store) ReassignSubscriptions(ctx context.Context, from, to id.PlanID) (int64, error) {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("plan_id = $1", to.String()).
		Set("usage_count = 0").
		Set("updated_at = $2", now()).
		Where("plan_id = $3", from.String()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("turnstile/postgres: reassign subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// rowsAffecter is the part of a grove exec result the store reads.
type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isForeignKeyViolation matches SQLSTATE 23503 without importing the
// driver's error type.
func isForeignKeyViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23503") || strings.Contains(msg, "foreign key")
}

// isUniqueViolation matches SQLSTATE 23505 without importing the driver's
// error type.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
