package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/printforge/pkg/pg"
	"github.com/dmitrymomot/printforge/pkg/rbac"
)

// PostgresGrants reads role grants from the user_roles table.
type PostgresGrants struct {
	db pg.Querier
}

var _ rbac.GrantSource = (*PostgresGrants)(nil)

func NewPostgresGrants(db pg.Querier) *PostgresGrants {
	if db == nil {
		panic("subscription: postgres querier is required")
	}
	return &PostgresGrants{db: db}
}

// Roles implements rbac.GrantSource. Users without grants get an empty slice.
func (g *PostgresGrants) Roles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := g.db.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}
