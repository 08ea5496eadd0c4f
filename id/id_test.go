package id_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"PlanID", id.NewPlanID, id.ParsePlanID, "plan_"},
		{"PermissionID", id.NewPermissionID, id.ParsePermissionID, "perm_"},
		{"SubscriptionID", id.NewSubscriptionID, id.ParseSubscriptionID, "sub_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			assert.True(t, strings.HasPrefix(original.String(), tt.prefix), original.String())

			parsed, err := tt.parseFn(original.String())
			require.NoError(t, err)
			assert.Equal(t, original.String(), parsed.String())
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	_, err := id.ParsePlanID(id.NewPermissionID().String())
	assert.Error(t, err)

	_, err = id.ParsePermissionID(id.NewSubscriptionID().String())
	assert.Error(t, err)

	_, err = id.ParseSubscriptionID(id.NewPlanID().String())
	assert.Error(t, err)
}

func TestParseInvalid(t *testing.T) {
	_, err := id.Parse("")
	assert.Error(t, err)

	_, err = id.Parse("plan_not-a-typeid")
	assert.Error(t, err)

	assert.Panics(t, func() { id.MustParse("garbage") })
}

func TestNilID(t *testing.T) {
	var i id.ID
	assert.True(t, i.IsNil())
	assert.Empty(t, i.String())
	assert.Empty(t, i.Prefix())

	val, err := i.Value()
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestTextRoundTrip(t *testing.T) {
	original := id.NewPlanID()
	data, err := original.MarshalText()
	require.NoError(t, err)

	var restored id.ID
	require.NoError(t, restored.UnmarshalText(data))
	assert.Equal(t, original.String(), restored.String())

	var empty id.ID
	require.NoError(t, empty.UnmarshalText(nil))
	assert.True(t, empty.IsNil())
}

func TestValueScan(t *testing.T) {
	original := id.NewSubscriptionID()
	val, err := original.Value()
	require.NoError(t, err)

	var fromString id.ID
	require.NoError(t, fromString.Scan(val))
	assert.Equal(t, original.String(), fromString.String())

	var fromBytes id.ID
	require.NoError(t, fromBytes.Scan([]byte(original.String())))
	assert.Equal(t, original.String(), fromBytes.String())

	var fromNil id.ID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsNil())

	var bad id.ID
	assert.Error(t, bad.Scan(42))
}

func TestUniqueness(t *testing.T) {
	assert.NotEqual(t, id.NewPlanID().String(), id.NewPlanID().String())
}
