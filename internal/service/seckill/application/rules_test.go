package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionRules(t *testing.T) {
	rules, err := NewAdmissionRules()
	require.NoError(t, err)

	ok, err := rules.Allow("", "u-1", "p-1", 1)
	require.NoError(t, err)
	assert.True(t, ok, "no rule admits everyone")

	expr := `quantity <= 2 && !user_id.startsWith("bot-")`
	ok, err = rules.Allow(expr, "u-1", "p-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rules.Allow(expr, "bot-7", "p-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rules.Allow(expr, "u-1", "p-1", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdmissionRulesRejectsBadExpressions(t *testing.T) {
	rules, err := NewAdmissionRules()
	require.NoError(t, err)

	_, err = rules.Compile("quantity +")
	assert.Error(t, err)

	_, err = rules.Compile("quantity + 1")
	assert.Error(t, err, "non-bool rules are rejected")

	_, err = rules.Compile("unknown_var == 1")
	assert.Error(t, err)
}
