package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	tsstore "github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

// Collection name constants.
const (
	colPlans         = "turnstile_plans"
	colPermissions   = "turnstile_permissions"
	colSubscriptions = "turnstile_user_subscriptions"
)

// compile-time interface check
var _ tsstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all turnstile collections. The unique
// indexes back the name and one-subscription-per-user constraints.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("turnstile/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": name}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrPlanNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get plan by name: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("turnstile/mongo: list plans: %w", err)
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

// SetPlanPermissions matches the stored array exactly. Arrays are always
// written sorted, so equal sets compare equal.
func (s *Store) SetPlanPermissions(ctx context.Context, planID id.PlanID, old, updated types.NameSet) error {
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String(), "api_permissions": old.Names()}).
		Set("api_permissions", updated.Names()).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("turnstile/mongo: set plan permissions: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return err
	}
	return turnstile.ErrConcurrentUpdate
}

// DeletePlan counts the plan's subscribers and deletes it in one
// transaction. Binding writes touch the plan document, so a concurrent
// bind conflicts with the delete and one of them is retried.
func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		n, err := s.mdb.Collection(colSubscriptions).CountDocuments(ctx,
			bson.M{"plan_id": planID.String()},
			options.Count().SetLimit(1),
		)
		if err != nil {
			return err
		}

		res, err := s.mdb.Collection(colPlans).DeleteOne(ctx, bson.M{"_id": planID.String()})
		if err != nil {
			return err
		}
		switch {
		case res.DeletedCount == 0:
			return turnstile.ErrPlanNotFound
		case n > 0:
			return turnstile.ErrPlanInUse
		}
		return nil
	})
	if err != nil && !turnstile.IsNotFound(err) && !errors.Is(err, turnstile.ErrPlanInUse) {
		return fmt.Errorf("turnstile/mongo: delete plan: %w", err)
	}
	return err
}

// ==================== Permission Store ====================

func (s *Store) CreatePermission(ctx context.Context, p *permission.Permission) error {
	_, err := s.mdb.NewInsert(toPermissionModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return turnstile.ErrDuplicateName
		}
		return fmt.Errorf("turnstile/mongo: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.PermissionID) (*permission.Permission, error) {
	var m permissionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": permID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get permission: %w", err)
	}
	return fromPermissionModel(&m)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*permission.Permission, error) {
	var m permissionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": name}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get permission by name: %w", err)
	}
	return fromPermissionModel(&m)
}

func (s *Store) ListPermissions(ctx context.Context, opts permission.ListOpts) ([]*permission.Permission, error) {
	var models []permissionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("turnstile/mongo: list permissions: %w", err)
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
	res, err := s.mdb.NewDelete((*permissionModel)(nil)).
		Filter(bson.M{"_id": permID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("turnstile/mongo: delete permission: %w", err)
	}
	if res.DeletedCount() == 0 {
		return turnstile.ErrPermissionNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.UserSubscription) error {
	m := toSubscriptionModel(sub)
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		if err := s.claimPlan(ctx, m.PlanID); err != nil {
			return err
		}
		_, err := s.mdb.Collection(colSubscriptions).InsertOne(ctx, bson.D{
			{Key: "_id", Value: m.ID},
			{Key: "user_id", Value: m.UserID},
			{Key: "plan_id", Value: m.PlanID},
			{Key: "usage_count", Value: m.UsageCount},
			{Key: "created_at", Value: m.CreatedAt},
			{Key: "updated_at", Value: m.UpdatedAt},
		})
		return err
	})
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return turnstile.ErrSubscriptionExists
	case turnstile.IsNotFound(err):
		return err
	}
	return fmt.Errorf("turnstile/mongo: create subscription: %w", err)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.UserSubscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, turnstile.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("turnstile/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptionsByPlan(ctx context.Context, planID id.PlanID, opts subscription.ListOpts) ([]*subscription.UserSubscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"plan_id": planID.String()}).
		Sort(bson.D{{Key: "user_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("turnstile/mongo: list subscriptions: %w", err)
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
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		res, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
			bson.M{"user_id": userID},
			bson.M{"$set": bson.M{
				"plan_id":     planID.String(),
				"usage_count": int64(0),
				"updated_at":  now(),
			}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return turnstile.ErrSubscriptionNotFound
		}
		return s.claimPlan(ctx, planID.String())
	})
	if err != nil && !turnstile.IsNotFound(err) {
		return fmt.Errorf("turnstile/mongo: rebind subscription: %w", err)
	}
	return err
}

func (s *Store) ResetUsage(ctx context.Context, userID string) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"user_id": userID}).
		Set("usage_count", int64(0)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("turnstile/mongo: reset usage: %w", err)
	}
	if res.MatchedCount() == 0 {
		return turnstile.ErrSubscriptionNotFound
	}
	return nil
}

// ConsumeUsage uses findOneAndUpdate with $inc, which MongoDB applies
// atomically to the single matched document.
func (s *Store) ConsumeUsage(ctx context.Context, userID string, planID id.PlanID, limit int64) (int64, error) {
	filter := bson.M{
		"user_id":     userID,
		"plan_id":     planID.String(),
		"usage_count": bson.M{"$lt": limit},
	}
	update := bson.M{
		"$inc": bson.M{"usage_count": int64(1)},
		"$set": bson.M{"updated_at": now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m subscriptionModel
	err := s.mdb.Collection(colSubscriptions).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, turnstile.ErrUsageNotConsumed
		}
		return 0, fmt.Errorf("turnstile/mongo: consume usage: %w", err)
	}
	return m.UsageCount, nil
}

func (s *Store) ReassignSubscriptions(ctx context.Context, from, to id.PlanID) (int64, error) {
	res, err := s.mdb.Collection(colSubscriptions).UpdateMany(ctx,
		bson.M{"plan_id": from.String()},
		bson.M{"$set": bson.M{
			"plan_id":     to.String(),
			"usage_count": int64(0),
			"updated_at":  now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("turnstile/mongo: reassign subscriptions: %w", err)
	}
	return res.MatchedCount, nil
}

// ==================== Helpers ====================

// inTransaction runs fn in a multi-document transaction. Transactions need
// a replica set or sharded cluster.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.mdb.Collection(colPlans).Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// claimPlan writes to the plan document so that binding a subscriber
// write-conflicts with a concurrent DeletePlan of the same plan.
func (s *Store) claimPlan(ctx context.Context, planID string) error {
	res, err := s.mdb.Collection(colPlans).UpdateOne(ctx,
		bson.M{"_id": planID},
		bson.M{"$inc": bson.M{"binds": int64(1)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return turnstile.ErrPlanNotFound
	}
	return nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all turnstile collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPermissions: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "plan_id", Value: 1}}},
		},
	}
}
