// Package store is the MongoDB repository for user and barrier records.
// It is the only layer that sees raw documents; in particular, the mapping
// "no stored role means banned" happens here, exactly once, at the read
// boundary.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gkorepanov/barrier-bot/internal/auth"
	"github.com/gkorepanov/barrier-bot/internal/callback"
)

const (
	userCollection    = "user"
	barrierCollection = "barrier"

	defaultConnectTimeout = 10 * time.Second
)

// ErrNotFound reports a lookup for a record that does not exist.
var ErrNotFound = errors.New("store: not found")

// Config captures the settings required to establish the MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a client, verifies connectivity with a ping, and
// returns the store bound to its collections.
func Connect(ctx context.Context, cfg Config) (*Store, *mongo.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return New(client.Database(cfg.Database)), client, nil
}

type Store struct {
	users    *mongo.Collection
	barriers *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		users:    db.Collection(userCollection),
		barriers: db.Collection(barrierCollection),
	}
}

// Barrier is one gate: a name and the phone number wired to its controller.
type Barrier struct {
	ID          string
	PhoneNumber string
	Name        string
}

type userDoc struct {
	ID        int64                `bson:"_id"`
	Username  string               `bson:"username,omitempty"`
	FirstName string               `bson:"first_name,omitempty"`
	LastName  string               `bson:"last_name,omitempty"`
	Role      string               `bson:"role,omitempty"`
	Barriers  []primitive.ObjectID `bson:"barriers,omitempty"`
}

type barrierDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	PhoneNumber string             `bson:"phone_number"`
	Name        string             `bson:"name"`
}

// UpsertUser creates or refreshes a user record. Only the fields present in
// the identity are written; omitted fields never overwrite stored values,
// so the call is idempotent and merge-only.
func (s *Store) UpsertUser(ctx context.Context, id auth.Identity) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id.UserID},
		bson.M{"$set": userSetFields(id)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", id.UserID, err)
	}
	return nil
}

// userSetFields builds the $set document for an identity upsert. Empty
// fields are omitted so they cannot clear previously stored values.
func userSetFields(id auth.Identity) bson.M {
	set := bson.M{"_id": id.UserID}
	if id.Username != "" {
		set["username"] = id.Username
	}
	if id.FirstName != "" {
		set["first_name"] = id.FirstName
	}
	if id.LastName != "" {
		set["last_name"] = id.LastName
	}
	return set
}

// SetRole assigns a role, creating the record when needed.
func (s *Store) SetRole(ctx context.Context, userID int64, role callback.Role) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"role": string(role)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set role for user %d: %w", userID, err)
	}
	return nil
}

// GetRole returns the user's role. A missing record or a record without a
// role field reads as RoleBanned.
func (s *Store) GetRole(ctx context.Context, userID int64) (callback.Role, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return callback.RoleBanned, nil
	}
	if err != nil {
		return "", fmt.Errorf("get role for user %d: %w", userID, err)
	}
	return roleFromDoc(doc.Role)
}

func roleFromDoc(stored string) (callback.Role, error) {
	if stored == "" {
		return callback.RoleBanned, nil
	}
	role, err := callback.ParseRole(stored)
	if err != nil {
		return "", fmt.Errorf("stored role: %w", err)
	}
	return role, nil
}

// IsAllowedToOpen reports whether the user's role permits opening barriers.
func (s *Store) IsAllowedToOpen(ctx context.Context, userID int64) (bool, error) {
	role, err := s.GetRole(ctx, userID)
	if err != nil {
		return false, err
	}
	return role == callback.RoleAdmin || role == callback.RoleUser, nil
}

// AddBarrier stores a new barrier and returns its identifier.
func (s *Store) AddBarrier(ctx context.Context, phoneNumber, name string) (string, error) {
	res, err := s.barriers.InsertOne(ctx, barrierDoc{PhoneNumber: phoneNumber, Name: name})
	if err != nil {
		return "", fmt.Errorf("insert barrier: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert barrier: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// GetBarrier looks a barrier up by its identifier.
func (s *Store) GetBarrier(ctx context.Context, barrierID string) (*Barrier, error) {
	oid, err := primitive.ObjectIDFromHex(barrierID)
	if err != nil {
		return nil, fmt.Errorf("barrier id %q: %w", barrierID, err)
	}
	var doc barrierDoc
	if err := s.barriers.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get barrier %s: %w", barrierID, err)
	}
	return &Barrier{ID: doc.ID.Hex(), PhoneNumber: doc.PhoneNumber, Name: doc.Name}, nil
}

// UserBarriers returns the barriers granted to the user, in grant order.
func (s *Store) UserBarriers(ctx context.Context, userID int64) ([]Barrier, error) {
	ids, err := s.userBarrierIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	barriers := make([]Barrier, 0, len(ids))
	for _, oid := range ids {
		var doc barrierDoc
		if err := s.barriers.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// A barrier deleted from the collection may linger in
				// grant lists; skip it.
				continue
			}
			return nil, fmt.Errorf("get barrier %s: %w", oid.Hex(), err)
		}
		barriers = append(barriers, Barrier{ID: doc.ID.Hex(), PhoneNumber: doc.PhoneNumber, Name: doc.Name})
	}
	return barriers, nil
}

// HasBarrier reports whether the barrier is in the user's grant list.
func (s *Store) HasBarrier(ctx context.Context, userID int64, barrierID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(barrierID)
	if err != nil {
		return false, fmt.Errorf("barrier id %q: %w", barrierID, err)
	}
	ids, err := s.userBarrierIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == oid {
			return true, nil
		}
	}
	return false, nil
}

// GrantBarrier adds the barrier to the user's grant list; already-granted
// barriers are left as is.
func (s *Store) GrantBarrier(ctx context.Context, userID int64, barrierID string) error {
	oid, err := primitive.ObjectIDFromHex(barrierID)
	if err != nil {
		return fmt.Errorf("barrier id %q: %w", barrierID, err)
	}
	_, err = s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$addToSet": bson.M{"barriers": oid}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("grant barrier %s to user %d: %w", barrierID, userID, err)
	}
	return nil
}

// RevokeBarrier removes the barrier from the user's grant list.
func (s *Store) RevokeBarrier(ctx context.Context, userID int64, barrierID string) error {
	oid, err := primitive.ObjectIDFromHex(barrierID)
	if err != nil {
		return fmt.Errorf("barrier id %q: %w", barrierID, err)
	}
	_, err = s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"barriers": oid}},
	)
	if err != nil {
		return fmt.Errorf("revoke barrier %s from user %d: %w", barrierID, userID, err)
	}
	return nil
}

// ToggleBarrierAccess grants the barrier when absent and revokes it when
// present, returning whether the user holds it afterwards.
func (s *Store) ToggleBarrierAccess(ctx context.Context, userID int64, barrierID string) (bool, error) {
	has, err := s.HasBarrier(ctx, userID, barrierID)
	if err != nil {
		return false, err
	}
	if has {
		return false, s.RevokeBarrier(ctx, userID, barrierID)
	}
	return true, s.GrantBarrier(ctx, userID, barrierID)
}

func (s *Store) userBarrierIDs(ctx context.Context, userID int64) ([]primitive.ObjectID, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return doc.Barriers, nil
}
