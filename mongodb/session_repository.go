package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/forumsso/domain"
)

// SessionRepository implements domain.SessionRepository using MongoDB.
type SessionRepository struct {
	collection *mongo.Collection
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a SessionRepository and ensures the token lookup index.
// Index failures are logged, since the collection is owned by the community app.
func NewSessionRepository(ctx context.Context, db *mongo.Database) *SessionRepository {
	repo := &SessionRepository{
		collection: db.Collection(SessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist)")
	}

	return repo
}

// GetSessionByToken looks up a session by the token stored in the session cookie.
// Expiry is left to the caller.
func (r *SessionRepository) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	var session domain.Session
	if err := r.collection.FindOne(ctx, bson.M{"session_token": token}).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		log.Error().Err(err).Msg("Error getting session by token from MongoDB")
		return nil, fmt.Errorf("finding session: %w", err)
	}

	return &session, nil
}
