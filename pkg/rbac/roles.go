package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Permissions checked by the HTTP layer.
const (
	PermBillingManage = "billing.manage"
	PermBillingRead   = "billing.read"
	PermUsersDelete   = "users.delete"
	PermJobsRun       = "jobs.run"
)

// AdminPermission is the permission that makes a principal an administrator for the
// subscription engine.
const AdminPermission = PermBillingManage

// MaxInheritanceDepth caps role inheritance chains.
const MaxInheritanceDepth = 10

// Role grants permissions directly and through the roles it inherits.
// A permission ending in ".*" covers everything below its prefix; "*" covers everything.
type Role struct {
	Permissions []string `yaml:"permissions" json:"permissions"`
	Inherits    []string `yaml:"inherits" json:"inherits"`
}

// DefaultRoles is the role catalogue used when none is configured.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		"support": {Permissions: []string{PermBillingRead}},
		"billing": {Permissions: []string{"billing.*"}, Inherits: []string{"support"}},
		"admin":   {Permissions: []string{"*"}},
	}
}

// Authorizer answers permission checks for sets of role names. It is immutable and safe
// for concurrent use.
type Authorizer struct {
	permissions map[string][]string
}

// NewAuthorizer flattens inheritance and rejects cycles, unknown parents, and chains
// deeper than MaxInheritanceDepth.
func NewAuthorizer(roles map[string]Role) (*Authorizer, error) {
	flat := make(map[string][]string, len(roles))
	for name := range roles {
		perms, err := collect(name, roles, nil)
		if err != nil {
			return nil, err
		}
		slices.Sort(perms)
		flat[name] = slices.Compact(perms)
	}
	return &Authorizer{permissions: flat}, nil
}

func collect(name string, roles map[string]Role, path []string) ([]string, error) {
	if slices.Contains(path, name) {
		return nil, errors.Join(ErrCircularInheritance,
			fmt.Errorf("%s -> %s", strings.Join(path, " -> "), name))
	}
	if len(path) > MaxInheritanceDepth {
		return nil, errors.Join(ErrCircularInheritance,
			fmt.Errorf("inheritance deeper than %d at %s", MaxInheritanceDepth, name))
	}
	role, ok := roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, name)
	}

	perms := slices.Clone(role.Permissions)
	next := append(slices.Clone(path), name)
	for _, parent := range role.Inherits {
		inherited, err := collect(parent, roles, next)
		if err != nil {
			return nil, err
		}
		perms = append(perms, inherited...)
	}
	return perms, nil
}

// Can reports whether any of the roles grants permission. Unknown roles grant nothing.
func (a *Authorizer) Can(roles []string, permission string) bool {
	for _, role := range roles {
		for _, granted := range a.permissions[role] {
			if matches(granted, permission) {
				return true
			}
		}
	}
	return false
}

// Permissions returns the flattened permissions of a role.
func (a *Authorizer) Permissions(role string) ([]string, error) {
	perms, ok := a.permissions[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	return slices.Clone(perms), nil
}

func matches(granted, permission string) bool {
	switch {
	case granted == "*" || granted == permission:
		return true
	case strings.HasSuffix(granted, ".*"):
		return strings.HasPrefix(permission, strings.TrimSuffix(granted, "*"))
	}
	return false
}
