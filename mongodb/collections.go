package mongodb

import "go.mongodb.org/mongo-driver/bson/primitive"

// Collections written by the community app at sign-in. The bridge only reads them.
const (
	UsersCollection    = "users"
	SessionsCollection = "sessions"
)

// idCandidates matches an id stored either as an ObjectID or as a plain string.
func idCandidates(id string) []interface{} {
	candidates := []interface{}{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, oid)
	}
	return candidates
}
