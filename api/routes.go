package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/entitlement"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/permission"
	"github.com/xraph/turnstile/plan"
	"github.com/xraph/turnstile/subscription"
	"github.com/xraph/turnstile/types"
)

type planResponse struct {
	Message string     `json:"message"`
	Plan    *plan.Plan `json:"plan"`
}

type deletePlanResponse struct {
	Message    string `json:"message"`
	Reassigned int64  `json:"reassigned"`
}

type permissionResponse struct {
	Message    string                 `json:"message"`
	Permission *permission.Permission `json:"permission"`
}

type deletePermissionResponse struct {
	Message      string `json:"message"`
	PlansUpdated int    `json:"plans_updated"`
}

type subscriptionResponse struct {
	Message      string                         `json:"message"`
	Subscription *subscription.UserSubscription `json:"subscription"`
}

type accessResponse struct {
	Message   string `json:"message"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

// CreatePlan handles POST /admin/plans.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := &plan.Plan{
		Name:        req.Name,
		Description: req.Description,
		Permissions: types.NewNameSet(req.APIPermissions...),
		UsageLimit:  *req.UsageLimit,
	}
	if err := h.engine.CreatePlan(r.Context(), p); err != nil {
		h.createError(w, r, err, "Plan already exists.")
		return
	}

	h.writeJSON(w, http.StatusCreated, planResponse{Message: "Plan created successfully.", Plan: p})
}

// ListPlans handles GET /admin/plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	plans, err := h.engine.ListPlans(r.Context(), plan.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plans)
}

// GetPlan handles GET /admin/plans/{planID}.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, chi.URLParam(r, "planID"))
	if !ok {
		return
	}

	p, err := h.engine.GetPlan(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// DeletePlan handles DELETE /admin/plans/{planID}. Subscribers move to the
// default plan with their counters zeroed.
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, chi.URLParam(r, "planID"))
	if !ok {
		return
	}

	moved, err := h.engine.DeletePlan(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, deletePlanResponse{
		Message: "Subscription plan with ID " + planID.String() +
			" deleted and affected users updated to '" + h.engine.DefaultPlan() + "'.",
		Reassigned: moved,
	})
}

// ListPlanSubscriptions handles GET /admin/plans/{planID}/subscriptions.
func (h *Handler) ListPlanSubscriptions(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, chi.URLParam(r, "planID"))
	if !ok {
		return
	}

	limit, offset := pagination(r)
	subs, err := h.engine.ListSubscriptionsByPlan(r.Context(), planID,
		subscription.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, subs)
}

// ──────────────────────────────────────────────────
// Permissions
// ──────────────────────────────────────────────────

// CreatePermission handles POST /admin/permissions.
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := &permission.Permission{
		Name:        req.Name,
		APIEndpoint: req.APIEndpoint,
		Description: req.Description,
	}
	if err := h.engine.CreatePermission(r.Context(), p); err != nil {
		h.createError(w, r, err, "Permission already exists.")
		return
	}

	h.writeJSON(w, http.StatusCreated, permissionResponse{
		Message:    "Permission created successfully.",
		Permission: p,
	})
}

// ListPermissions handles GET /admin/permissions.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	perms, err := h.engine.ListPermissions(r.Context(), permission.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, perms)
}

// GetPermission handles GET /admin/permissions/{permissionID}.
func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := h.permissionID(w, chi.URLParam(r, "permissionID"))
	if !ok {
		return
	}

	p, err := h.engine.GetPermission(r.Context(), permID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// DeletePermission handles DELETE /admin/permissions/{permissionID}. The
// permission's name is removed from every plan that grants it.
func (h *Handler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := h.permissionID(w, chi.URLParam(r, "permissionID"))
	if !ok {
		return
	}

	n, err := h.engine.DeletePermission(r.Context(), permID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, deletePermissionResponse{
		Message:      "Permission with ID " + permID.String() + " deleted successfully.",
		PlansUpdated: n,
	})
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// AssignSubscription handles POST /admin/subscriptions.
func (h *Handler) AssignSubscription(w http.ResponseWriter, r *http.Request) {
	var req assignSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	planID, ok := h.planID(w, req.PlanID)
	if !ok {
		return
	}

	sub, err := h.engine.AssignSubscription(r.Context(), req.UserID, planID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, subscriptionResponse{
		Message:      "Subscription assigned successfully.",
		Subscription: sub,
	})
}

// GetSubscription handles GET /admin/users/{userID}/subscription.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.engine.GetSubscription(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// UpdateUserSubscription handles PUT /admin/users/subscription/{userID}?new_plan_id=.
func (h *Handler) UpdateUserSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	raw := r.URL.Query().Get("new_plan_id")
	if raw == "" {
		h.writeDetail(w, http.StatusBadRequest, "new_plan_id is required")
		return
	}
	planID, ok := h.planID(w, raw)
	if !ok {
		return
	}

	if err := h.engine.UpdateUserSubscription(r.Context(), userID, planID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "User %s's subscription updated to plan ID %s.", userID, planID)
}

// ResetUsage handles PUT /admin/users/{userID}/reset-usage.
func (h *Handler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.engine.ResetUsage(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeMessage(w, http.StatusOK, "Usage count reset for user %s.", userID)
}

// ──────────────────────────────────────────────────
// Access
// ──────────────────────────────────────────────────

// Access handles GET /access/{apiName}?user_id=. A grant consumes one unit
// of the user's quota.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	apiName := chi.URLParam(r, "apiName")

	d, ok := h.check(w, r, apiName)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, accessResponse{
		Message:   "Access granted to " + apiName + ".",
		Used:      d.Used,
		Remaining: d.Remaining,
	})
}

var demoAPIs = []struct {
	name    string
	payload string
}{
	{"weather", "hot"},
	{"stocks", "making money"},
	{"news", "breaking news"},
	{"games", "Playstation and Nintendo"},
	{"sports", "watch live"},
	{"movies", "top movies"},
}

// demo returns a handler for a placeholder downstream API gated by an
// access check on its own name.
func (h *Handler) demo(name, payload string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.check(w, r, name); !ok {
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{name: payload})
	}
}

// check runs an entitlement check for the request's user_id. It writes the
// failure response itself.
func (h *Handler) check(w http.ResponseWriter, r *http.Request, apiName string) (*entitlement.Decision, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeDetail(w, http.StatusBadRequest, "user_id is required")
		return nil, false
	}

	d, err := h.engine.CheckAccess(r.Context(), apiName, userID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return d, true
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (h *Handler) createError(w http.ResponseWriter, r *http.Request, err error, conflict string) {
	if errors.Is(err, turnstile.ErrDuplicateName) {
		h.writeDetail(w, http.StatusConflict, conflict)
		return
	}
	h.writeError(w, r, err)
}

func (h *Handler) planID(w http.ResponseWriter, raw string) (id.PlanID, bool) {
	planID, err := id.ParsePlanID(raw)
	if err != nil {
		h.writeDetail(w, http.StatusBadRequest, "Invalid plan ID.")
		return id.PlanID{}, false
	}
	return planID, true
}

func (h *Handler) permissionID(w http.ResponseWriter, raw string) (id.PermissionID, bool) {
	permID, err := id.ParsePermissionID(raw)
	if err != nil {
		h.writeDetail(w, http.StatusBadRequest, "Invalid permission ID.")
		return id.PermissionID{}, false
	}
	return permID, true
}
