package domain

import "time"

// User is the locally authenticated member as stored by the community app.
type User struct {
	ID          string    `bson:"_id,omitempty"`
	Name        string    `bson:"name,omitempty"`
	Email       string    `bson:"email"`
	Image       string    `bson:"image,omitempty"`
	DisplayName string    `bson:"display_name,omitempty"`
	Roles       []string  `bson:"roles,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}
