// Package turnstile provides a subscription and entitlement gateway for Go
// applications.
//
// Turnstile is designed as a library. It stores subscription plans (a set
// of permitted API names plus a lifetime usage limit), named API
// permissions and per-user subscriptions, and answers one question on the
// hot path: may this user call this API right now?
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/turnstile"
//	    "github.com/xraph/turnstile/store/memory"
//	)
//
//	engine := turnstile.New(memory.New(), turnstile.WithSeedDefaultPlan(true))
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Plans bundle permitted API names with a usage limit:
//
//	basic := &plan.Plan{
//	    Name:        "Basic",
//	    Permissions: types.NewNameSet("weather", "news"),
//	    UsageLimit:  1000,
//	}
//	err := engine.CreatePlan(ctx, basic)
//
// Subscriptions bind one user to one plan with a counter starting at zero:
//
//	sub, err := engine.AssignSubscription(ctx, "user-42", basic.ID)
//
// Access checks consume one unit of quota when they grant:
//
//	d, err := engine.CheckAccess(ctx, "weather", "user-42")
//	switch {
//	case turnstile.IsUnauthorized(err): // no subscription
//	case turnstile.IsForbidden(err):    // not permitted or quota exhausted
//	case err == nil:                    // granted, d.Remaining calls left
//	}
//
// # Referential integrity
//
// Deleting a plan moves its subscribers to the default plan ("Free Plan"
// unless configured otherwise) with their counters reset. Deleting a
// permission removes its name from every plan. A subscriber never observes
// a new plan binding paired with an old counter.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	perm_01h2xcejqtf2nbrexx3vqjhp41  // Permission ID
//	sub_01h455vb4pex5vsknk084sn02q   // Subscription ID
package turnstile
