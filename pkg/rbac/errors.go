package rbac

import "errors"

var (
	ErrUnauthenticated     = errors.New("rbac: unauthenticated")
	ErrForbidden           = errors.New("rbac: forbidden")
	ErrInvalidRole         = errors.New("rbac: invalid role")
	ErrCircularInheritance = errors.New("rbac: circular role inheritance")
	ErrNoPrincipal         = errors.New("rbac: no principal in context")
)
