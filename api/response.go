package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/turnstile"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// errorDetails maps engine errors to a status and client-facing detail.
// Order matters: the first match wins. Duplicate names are answered by the
// create handlers, which know which entity collided.
var errorDetails = []struct {
	target error
	status int
	detail string
}{
	{turnstile.ErrPlanNotFound, http.StatusNotFound, "Subscription plan not found."},
	{turnstile.ErrPermissionNotFound, http.StatusNotFound, "Permission not found."},
	{turnstile.ErrSubscriptionNotFound, http.StatusNotFound, "User subscription not found."},
	{turnstile.ErrNotFound, http.StatusNotFound, "Not found."},
	{turnstile.ErrSubscriptionExists, http.StatusConflict, "User already has a subscription."},
	{turnstile.ErrDefaultPlanProtected, http.StatusConflict, "The default plan cannot be deleted."},
	{turnstile.ErrUnauthorized, http.StatusUnauthorized, "No subscription found."},
	{turnstile.ErrAPINotPermitted, http.StatusForbidden, "Access denied for this API."},
	{turnstile.ErrQuotaExceeded, http.StatusForbidden, "Usage limit exceeded."},
	{turnstile.ErrConcurrentUpdate, http.StatusServiceUnavailable, "Too many concurrent updates, retry."},
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("api: failed to encode response", "error", err)
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, format string, args ...any) {
	h.writeJSON(w, status, messageResponse{Message: fmt.Sprintf(format, args...)})
}

func (h *Handler) writeDetail(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError translates an engine error into an HTTP response. Anything
// unrecognised is a 500 and is logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr turnstile.ValidationError
	if errors.As(err, &verr) {
		h.writeDetail(w, http.StatusBadRequest, fmt.Sprintf("%s %s", verr.Field, verr.Message))
		return
	}

	for _, d := range errorDetails {
		if errors.Is(err, d.target) {
			h.writeDetail(w, d.status, d.detail)
			return
		}
	}

	if turnstile.IsConfigurationError(err) {
		h.logger.Error("api: deployment misconfigured",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeDetail(w, http.StatusInternalServerError,
			fmt.Sprintf("Default plan not found. Create a '%s' first.", h.engine.DefaultPlan()))
		return
	}

	h.logger.Error("api: request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	h.writeDetail(w, http.StatusInternalServerError, "Internal server error.")
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeDetail(w, http.StatusBadRequest, validationDetail(err))
		return false
	}
	return true
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
