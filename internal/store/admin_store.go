package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/lib/pq"
)

// Admin roles checked by the HTTP layer. Super admins hold all of them.
const (
	RoleFinalizeTransactions = "CanFinalizeTransactions"
	RoleManageEscrows        = "CanManageEscrows"
	RoleApproveWithdrawals   = "CanApproveWithdrawals"
	RoleViewLedger           = "CanViewLedger"
)

var knownRoles = []string{
	RoleFinalizeTransactions,
	RoleManageEscrows,
	RoleApproveWithdrawals,
	RoleViewLedger,
}

// KnownRole reports whether role is one the HTTP layer checks.
func KnownRole(role string) bool {
	return slices.Contains(knownRoles, role)
}

// AdminAccess is everything the authorization middleware needs about a user.
type AdminAccess struct {
	IsAdmin bool
	IsSuper bool
	Roles   []string
}

// Allows reports whether the access admits role. An empty role admits any admin.
func (a AdminAccess) Allows(role string) bool {
	if !a.IsAdmin {
		return false
	}
	return a.IsSuper || role == "" || slices.Contains(a.Roles, role)
}

type adminAccessRow struct {
	IsSuper bool           `db:"is_super"`
	Roles   pq.StringArray `db:"roles"`
}

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// Access loads admin status and granted roles in one round trip. Users with
// no admins row come back with IsAdmin false and no error.
func (s *AdminStore) Access(ctx context.Context, userID string) (AdminAccess, error) {
	var row adminAccessRow
	err := s.db.GetContext(ctx, &row, `
		SELECT a.is_super,
		       COALESCE(array_agg(r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles
		FROM admins a
		LEFT JOIN admin_roles r ON r.admin_user_id = a.user_id
		WHERE a.user_id = $1
		GROUP BY a.user_id, a.is_super
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminAccess{}, nil
		}
		return AdminAccess{}, err
	}
	return AdminAccess{IsAdmin: true, IsSuper: row.IsSuper, Roles: []string(row.Roles)}, nil
}

// Grant makes userID an admin, upgrading to super if asked, and adds roles.
// Super status is never downgraded here and existing roles are kept.
func (s *AdminStore) Grant(ctx context.Context, tx Execer, userID string, isSuper bool, roles []string, grantedBy *string) error {
	for _, role := range roles {
		if !KnownRole(role) {
			return fmt.Errorf("unknown admin role %q", role)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET is_super = admins.is_super OR EXCLUDED.is_super
	`, userID, isSuper, grantedBy); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO admin_roles (admin_user_id, role)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, role); err != nil {
			return err
		}
	}
	return nil
}

// Revoke removes roles from userID. Removing every role leaves the admins row.
func (s *AdminStore) Revoke(ctx context.Context, tx Execer, userID string, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM admin_roles
		WHERE admin_user_id = $1 AND role = ANY($2)
	`, userID, pq.Array(roles))
	return err
}
