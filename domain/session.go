package domain

import "time"

// Session is a login session written by the community app at sign-in.
// The bridge only reads it to resolve the current user.
type Session struct {
	ID           string    `bson:"_id,omitempty"`
	SessionToken string    `bson:"session_token"`
	UserID       string    `bson:"user_id"`
	Expires      time.Time `bson:"expires"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Expires)
}
