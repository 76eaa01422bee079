package forumsso

import (
	"context"

	"go.pilab.hu/forumsso/domain"
)

// StoredRoles grants forum roles from the roles recorded on the local user.
type StoredRoles struct{}

var _ RoleLookup = StoredRoles{}

// ForumRoles implements RoleLookup.
func (StoredRoles) ForumRoles(_ context.Context, user *domain.User) (Roles, error) {
	return Roles{
		Admin:     user.HasRole(domain.RoleAdmin),
		Moderator: user.HasRole(domain.RoleModerator),
	}, nil
}
