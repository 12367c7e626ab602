package subscription

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// AuditCollection is the default collection name of MongoAuditLog.
const AuditCollection = "subscription_audit_log"

// DocumentInserter is the part of *mongo.Collection used by MongoAuditLog.
type DocumentInserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// MongoAuditLog is an append-only subscription.AuditLog stored in MongoDB.
type MongoAuditLog struct {
	coll DocumentInserter
}

var _ sub.AuditLog = (*MongoAuditLog)(nil)

// NewMongoAuditLog writes to the AuditCollection of db.
func NewMongoAuditLog(db *mongo.Database) *MongoAuditLog {
	if db == nil {
		panic("subscription: mongo database is required")
	}
	return &MongoAuditLog{coll: db.Collection(AuditCollection)}
}

// NewMongoAuditLogWithCollection writes to an arbitrary collection.
func NewMongoAuditLogWithCollection(coll DocumentInserter) *MongoAuditLog {
	if coll == nil {
		panic("subscription: mongo collection is required")
	}
	return &MongoAuditLog{coll: coll}
}

// EnsureAuditIndexes creates the lookup index on user_id and created_at. Safe to call on every start.
func EnsureAuditIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(AuditCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("user_id_created_at"),
	})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

type auditDocument struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	ActorID      string    `bson:"actor_id"`
	PreviousTier string    `bson:"previous_tier"`
	NewTier      string    `bson:"new_tier"`
	ChangeType   string    `bson:"change_type"`
	Reason       string    `bson:"reason"`
	Notes        string    `bson:"notes,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

// Append implements subscription.AuditLog.
func (l *MongoAuditLog) Append(ctx context.Context, e sub.AuditEntry) error {
	_, err := l.coll.InsertOne(ctx, auditDocument{
		ID:           e.ID.String(),
		UserID:       e.UserID.String(),
		ActorID:      e.ActorID.String(),
		PreviousTier: string(e.PreviousTier),
		NewTier:      string(e.NewTier),
		ChangeType:   string(e.ChangeType),
		Reason:       e.Reason,
		Notes:        e.Notes,
		CreatedAt:    e.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
