// ABOUTME: MongoDB implementation of ConversationStore
// ABOUTME: Also serves Cosmos DB through its MongoDB API

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds the connection settings for MongoStore.
type MongoConfig struct {
	URI        string
	Username   string
	Password   string
	Database   string
	Collection string
}

// MongoStore implements ConversationStore on a single MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoStore connects, pings, and ensures the createdOn index exists.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	logger := slog.Default().With("component", "store", "driver", "mongo")

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" || cfg.Password != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdOn", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating index: %w", err)
	}

	logger.Info("mongo store initialized", "database", cfg.Database, "collection", cfg.Collection)
	return &MongoStore{client: client, coll: coll, logger: logger}, nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	s.logger.Info("closing mongo store")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// SaveConversation upserts a conversation record. Only the title changes on an
// existing document.
func (s *MongoStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	var title any
	if conv.HasTitle() {
		title = *conv.Title
	}

	update := bson.M{
		"$set": bson.M{"title": title},
		"$setOnInsert": bson.M{
			"threadId":    conv.ThreadID,
			"assistantId": conv.AssistantID,
			"createdOn":   conv.CreatedOn.UTC(),
		},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": conv.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}

	s.logger.Debug("saved conversation", "conversation_id", conv.ID, "thread_id", conv.ThreadID)
	return nil
}

// GetConversation returns ErrNotFound if no document has the given id.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns all documents, newest createdOn first.
func (s *MongoStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdOn", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer cursor.Close(ctx)

	convs := []*Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation returns ErrNotFound if no document has the given id.
func (s *MongoStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "conversation_id", id)
	return nil
}
