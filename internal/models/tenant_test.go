package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTenantScope(t *testing.T) {
	scope, err := NewTenantScope("org-1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", scope.OrganizationID)
	assert.Equal(t, "bot-1", scope.ChatbotConfigID)
	assert.False(t, scope.IsZero())

	_, err = NewTenantScope("", "bot-1")
	assert.Error(t, err)
	_, err = NewTenantScope("org-1", "")
	assert.Error(t, err)
	_, err = NewTenantScope("  ", "bot-1")
	assert.Error(t, err)
}

func TestTenantScopeKey(t *testing.T) {
	a, _ := NewTenantScope("org-1", "bot-1")
	b, _ := NewTenantScope("org-1", "bot-2")
	assert.NotEqual(t, a.Key(), b.Key())
}
