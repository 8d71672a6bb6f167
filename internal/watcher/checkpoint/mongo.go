package checkpoint

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedwatch/internal/watcher/events"
)

// MongoStore implements Store using a MongoDB collection. One document per
// watcher ID, replaced on every save.
type MongoStore struct {
	collection *mongo.Collection
	watcherID  string
}

// checkpointDoc is the MongoDB document structure for checkpoints.
type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"` // Base64-encoded resume token
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a MongoDB-backed checkpoint store. watcherID
// distinguishes checkpoints of independent watchers sharing the collection.
func NewMongoStore(db *mongo.Database, collection, watcherID string) *MongoStore {
	if collection == "" {
		collection = "_feedwatch_checkpoints"
	}
	return &MongoStore{
		collection: db.Collection(collection),
		watcherID:  watcherID,
	}
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, token events.ResumeToken) error {
	if token == nil {
		return nil
	}

	doc := checkpointDoc{
		ID:        s.watcherID,
		Token:     base64.StdEncoding.EncodeToString(token),
		UpdatedAt: time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": s.watcherID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context) (events.ResumeToken, error) {
	var doc checkpointDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": s.watcherID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	token, err := base64.StdEncoding.DecodeString(doc.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint token: %w", err)
	}
	return events.ResumeToken(token), nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": s.watcherID})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
