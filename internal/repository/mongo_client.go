package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"chat-sync/internal/domain"
)

const DefaultCollection = "chats"

// collectionAPI is the minimal MongoDB collection interface required by Client.
// *mongo.Collection satisfies it.
type collectionAPI interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// indexAPI creates collection indexes. mongo.IndexView satisfies it.
type indexAPI interface {
	CreateMany(ctx context.Context, models []mongo.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error)
}

// ChatWriter defines the persistence operation consumed by the sync pass.
type ChatWriter interface {
	Upsert(ctx context.Context, chat domain.MinimizedSession, userID string) error
}

// Client writes minimized sessions into a MongoDB collection.
type Client struct {
	coll    collectionAPI
	indexes indexAPI
}

// New creates a new repository Client. indexes may be nil when index
// management is not wanted.
func New(coll collectionAPI, indexes indexAPI) (*Client, error) {
	if coll == nil {
		return nil, errors.New("repository: collection must not be nil")
	}
	return &Client{coll: coll, indexes: indexes}, nil
}

// chatFilter matches a chat by id and owner so that equal chat ids of
// different users never collide.
func chatFilter(chatID, userID string) bson.D {
	return bson.D{{Key: "id", Value: chatID}, {Key: "userId", Value: userID}}
}

// compositeIndex returns "{userId}-{YYYY-MM-DD}" for the UTC creation date.
func compositeIndex(userID string, chat domain.MinimizedSession) string {
	return userID + "-" + chat.CreatedAt.UTC().Format("2006-01-02")
}

// Upsert inserts the chat or fully replaces the stored document with the same
// (id, userId).
func (c *Client) Upsert(ctx context.Context, chat domain.MinimizedSession, userID string) error {
	if strings.TrimSpace(chat.ID) == "" {
		return errors.New("repository: Upsert: chat id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Upsert: user id is required")
	}

	chat.UserID = userID
	chat.UserIDAndDate = compositeIndex(userID, chat)

	_, err := c.coll.ReplaceOne(ctx, chatFilter(chat.ID, userID), chat, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository: Upsert %s/%s: %w", userID, chat.ID, err)
	}
	return nil
}

// EnsureIndexes creates the unique (id, userId) index used by Upsert and the
// userIdAndDate lookup index. It is a no-op without an index API.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if c.indexes == nil {
		return nil
	}
	_, err := c.indexes.CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}, {Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("id_userId"),
		},
		{
			Keys:    bson.D{{Key: "userIdAndDate", Value: 1}},
			Options: options.Index().SetName("userIdAndDate"),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: EnsureIndexes: %w", err)
	}
	return nil
}

// Store owns the MongoDB connection behind a Client.
type Store struct {
	*Client
	mc *mongo.Client
}

// Connect opens a MongoDB connection, verifies it with a ping and returns a
// Store bound to the given database and collection.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	if strings.TrimSpace(database) == "" {
		return nil, errors.New("repository: database name must not be empty")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("repository: Connect: %w", err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("repository: Connect: ping: %w", err)
	}
	coll := mc.Database(database).Collection(collection)
	client, err := New(coll, coll.Indexes())
	if err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, err
	}
	return &Store{Client: client, mc: mc}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	if err := s.mc.Disconnect(ctx); err != nil {
		return fmt.Errorf("repository: Close: %w", err)
	}
	return nil
}
