package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/forumsso/domain"
)

// UserRepository implements domain.UserRepository
type UserRepository struct {
	users *mongo.Collection
}

var _ domain.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a UserRepository on the users collection of db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		users: db.Collection(UsersCollection),
	}
}

// GetUserByID loads a user by its primary id.
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrUserNotFound
	}

	var user domain.User
	filter := bson.M{"_id": bson.M{"$in": idCandidates(id)}}
	if err := r.users.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("user_id", id).Msg("Error getting user by ID from MongoDB")
		return nil, fmt.Errorf("finding user: %w", err)
	}

	return &user, nil
}
