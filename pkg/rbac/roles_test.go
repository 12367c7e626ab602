package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/rbac"
)

func TestAuthorizer_DefaultRoles(t *testing.T) {
	t.Parallel()

	authz, err := rbac.NewAuthorizer(rbac.DefaultRoles())
	require.NoError(t, err)

	tests := []struct {
		roles []string
		perm  string
		want  bool
	}{
		{[]string{"admin"}, rbac.PermBillingManage, true},
		{[]string{"admin"}, rbac.PermUsersDelete, true},
		{[]string{"billing"}, rbac.PermBillingManage, true},
		{[]string{"billing"}, rbac.PermBillingRead, true},
		{[]string{"billing"}, rbac.PermUsersDelete, false},
		{[]string{"support"}, rbac.PermBillingRead, true},
		{[]string{"support"}, rbac.PermBillingManage, false},
		{[]string{"support", "billing"}, rbac.PermBillingManage, true},
		{[]string{"ghost"}, rbac.PermBillingRead, false},
		{nil, rbac.PermBillingRead, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, authz.Can(tt.roles, tt.perm), "%v %s", tt.roles, tt.perm)
	}
}

func TestAuthorizer_WildcardIsPrefixScoped(t *testing.T) {
	t.Parallel()

	authz, err := rbac.NewAuthorizer(map[string]rbac.Role{
		"r": {Permissions: []string{"billing.*"}},
	})
	require.NoError(t, err)
	assert.True(t, authz.Can([]string{"r"}, "billing.refunds.create"))
	assert.False(t, authz.Can([]string{"r"}, "billingx.read"))
	assert.False(t, authz.Can([]string{"r"}, "billing"))
}

func TestAuthorizer_Permissions(t *testing.T) {
	t.Parallel()

	authz, err := rbac.NewAuthorizer(rbac.DefaultRoles())
	require.NoError(t, err)

	perms, err := authz.Permissions("billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing.*", rbac.PermBillingRead}, perms)

	_, err = authz.Permissions("ghost")
	assert.ErrorIs(t, err, rbac.ErrInvalidRole)
}

func TestNewAuthorizer_Invalid(t *testing.T) {
	t.Parallel()

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		_, err := rbac.NewAuthorizer(map[string]rbac.Role{
			"a": {Inherits: []string{"b"}},
			"b": {Inherits: []string{"a"}},
		})
		assert.ErrorIs(t, err, rbac.ErrCircularInheritance)
	})

	t.Run("unknown parent", func(t *testing.T) {
		t.Parallel()
		_, err := rbac.NewAuthorizer(map[string]rbac.Role{
			"a": {Inherits: []string{"missing"}},
		})
		assert.ErrorIs(t, err, rbac.ErrInvalidRole)
	})

	t.Run("diamond is fine", func(t *testing.T) {
		t.Parallel()
		authz, err := rbac.NewAuthorizer(map[string]rbac.Role{
			"base":  {Permissions: []string{"x"}},
			"left":  {Inherits: []string{"base"}},
			"right": {Inherits: []string{"base"}},
			"top":   {Inherits: []string{"left", "right"}},
		})
		require.NoError(t, err)
		perms, err := authz.Permissions("top")
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, perms)
	})
}
