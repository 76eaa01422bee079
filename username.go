package forumsso

import (
	"strings"

	"go.pilab.hu/forumsso/domain"
)

// SanitizeUsername lower-cases s and restricts it to [a-z0-9_-]. Every other
// rune becomes an underscore, runs of underscores collapse into one, and
// leading or trailing underscores are dropped. The result may be empty.
func SanitizeUsername(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// DeriveUsername picks the display name, the name or the local part of the
// email, in that order, and sanitizes the first one present. Collisions between
// users are left to Discourse's account matching.
func DeriveUsername(user *domain.User) string {
	candidate := firstNonEmpty(user.DisplayName, user.Name, emailLocalPart(user.Email))
	if username := SanitizeUsername(candidate); username != "" {
		return username
	}
	// Discourse refuses an empty username.
	return SanitizeUsername("user_" + user.ID)
}

// ProjectUser maps a local user onto the attributes sent to Discourse. It is a
// pure function of its inputs; role flags are always false here.
func ProjectUser(user *domain.User, nonce string) Payload {
	return Payload{
		Nonce:      nonce,
		Email:      user.Email,
		Username:   DeriveUsername(user),
		Name:       firstNonEmpty(user.Name, user.DisplayName),
		ExternalID: user.ID,
		AvatarURL:  user.Image,
	}
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
