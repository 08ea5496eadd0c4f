package turnstile_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/types"
)

// TestDocumentationExamples verifies that the package documentation examples run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		ctx := context.Background()
		engine := turnstile.New(memory.New(),
			turnstile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			turnstile.WithSeedDefaultPlan(true),
		)
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		basic := &plan.Plan{
			Name:        "Basic",
			Permissions: types.NewNameSet("weather", "news"),
			UsageLimit:  1000,
		}
		if err := engine.CreatePlan(ctx, basic); err != nil {
			t.Fatal(err)
		}

		if _, err := engine.AssignSubscription(ctx, "user-42", basic.ID); err != nil {
			t.Fatal(err)
		}

		d, err := engine.CheckAccess(ctx, "weather", "user-42")
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || d.Remaining != 999 {
			t.Fatalf("unexpected decision: %+v", d)
		}

		if _, err := engine.CheckAccess(ctx, "stocks", "user-42"); !turnstile.IsForbidden(err) {
			t.Fatalf("expected forbidden, got %v", err)
		}
		if _, err := engine.CheckAccess(ctx, "weather", "nobody"); !turnstile.IsUnauthorized(err) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})
}
