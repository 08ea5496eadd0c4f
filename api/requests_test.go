package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationDetailUnwraps(t *testing.T) {
	v := newValidator()

	limit := int64(-1)
	err := v.Struct(&createPlanRequest{UsageLimit: &limit})
	require.Error(t, err)

	want := "name is required; usage_limit must be at least 0"
	assert.Equal(t, want, validationDetail(err))
	assert.Equal(t, want, validationDetail(fmt.Errorf("decode plan: %w", err)))
}

func TestValidationDetailPassesOtherErrors(t *testing.T) {
	assert.Equal(t, "boom", validationDetail(errors.New("boom")))
}
