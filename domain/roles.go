package domain

// Roles a community user can hold, as stored in the user record.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
