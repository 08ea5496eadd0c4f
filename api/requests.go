package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type createPlanRequest struct {
	Name           string   `json:"name" validate:"required,max=255"`
	Description    string   `json:"description" validate:"max=1024"`
	APIPermissions []string `json:"api_permissions" validate:"dive,required,max=255"`
	UsageLimit     *int64   `json:"usage_limit" validate:"required,gte=0"`
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	APIEndpoint string `json:"api_endpoint" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

type assignSubscriptionRequest struct {
	UserID string `json:"user_id" validate:"required,max=255"`
	PlanID string `json:"plan_id" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetail flattens validator errors into one sentence.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
