package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/turnstile/types"
)

func TestNameSetMembership(t *testing.T) {
	s := types.NewNameSet("weather", "news", "", "weather")

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("weather"))
	assert.False(t, s.Contains("Weather"), "membership is case-sensitive")
	assert.False(t, s.Contains("weather "), "membership does not trim")
	assert.False(t, s.Contains(""))
}

func TestNameSetRemoveIsIdempotent(t *testing.T) {
	s := types.NewNameSet("weather", "news")

	assert.True(t, s.Remove("news"))
	assert.False(t, s.Remove("news"))
	assert.Equal(t, []string{"weather"}, s.Names())
}

func TestNameSetAddOnNil(t *testing.T) {
	var s types.NameSet
	s.Add("stocks")
	s.Add("")

	assert.Equal(t, []string{"stocks"}, s.Names())
}

func TestNameSetEncodeParse(t *testing.T) {
	s := types.NewNameSet("sports", "games", "movies")
	assert.Equal(t, "games,movies,sports", s.Encode())

	parsed := types.ParseNameSet("games,movies,,sports")
	assert.Equal(t, s.Names(), parsed.Names())

	// Whitespace and case are part of the name.
	spaced := types.NewNameSet(" weather", "News", "news ")
	back := types.ParseNameSet(spaced.Encode())
	assert.Equal(t, spaced.Names(), back.Names())
	assert.Equal(t, spaced.Encode(), back.Encode())
	assert.True(t, back.Contains(" weather"))
	assert.False(t, back.Contains("weather"))

	assert.Equal(t, 0, types.ParseNameSet("").Len())
	assert.Equal(t, "", types.NameSet{}.Encode())
}

func TestNameSetClone(t *testing.T) {
	s := types.NewNameSet("news")
	c := s.Clone()
	c.Add("weather")

	assert.False(t, s.Contains("weather"))
	assert.True(t, c.Contains("weather"))
}

func TestNameSetJSON(t *testing.T) {
	s := types.NewNameSet("news", "weather")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["news","weather"]`, string(data))

	var decoded types.NameSet
	require.NoError(t, json.Unmarshal([]byte(`["stocks","stocks","games"]`), &decoded))
	assert.Equal(t, []string{"games", "stocks"}, decoded.Names())

	assert.Error(t, json.Unmarshal([]byte(`"weather"`), &decoded))
}
