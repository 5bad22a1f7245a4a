// Package db manages the MongoDB connection and the indexes the document
// store relies on.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes the configured database.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db holds every document store collection (onlineUsers, community, ...)
	db *mongo.Database
}

// New connects to MongoDB, verifies the connection and selects database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping is the actual connection test
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = "classroom_db"
	}
	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// Database returns the database holding all collections.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Collection returns the named collection. MongoDB creates it on first write.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// indexes lists the secondary indexes per collection. Every ordered query
// sorts on (field, _id), so each ordered field gets an index.
var indexes = map[string][]mongo.IndexModel{
	// Presence: onlineUsers where isOnline == true, plus the reaper's lastSeen scan
	"onlineUsers": {
		{Keys: bson.D{{Key: "isOnline", Value: 1}, {Key: "lastSeen", Value: 1}}},
	},
	// Chat: newest 50 messages
	"community": {
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}}},
	},
	"homework": {
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}},
	},
	"resources": {
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}},
	},
	"doubts": {
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	},
}

// CreateIndexes creates the indexes used by the document store queries.
// Account email uniqueness is enforced by the account_emails _id.
func (c *Client) CreateIndexes(ctx context.Context) error {
	for name, models := range indexes {
		if _, err := c.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}
	return nil
}
