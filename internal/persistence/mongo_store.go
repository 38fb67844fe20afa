package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

// MongoStore is a Store backed by a MongoDB collection with one document
// per conductor.
type MongoStore struct {
	coll  *mongo.Collection
	codec Codec
}

// Ensure it implements Store.
var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed snapshot store.
// dbName defaults to "conductor" if empty, collName defaults to "snapshots".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "conductor"
	}
	if collName == "" {
		collName = "snapshots"
	}

	return &MongoStore{
		coll:  client.Database(dbName).Collection(collName),
		codec: JSONCodec{},
	}
}

type mongoSnapshotDoc struct {
	ID             string `bson:"_id"`
	Status         string `bson:"status"`
	UpdatedAt      int64  `bson:"updated_at"`
	Data           []byte `bson:"data"`
	LeaseOwner     string `bson:"lease_owner,omitempty"`
	LeaseExpiresAt int64  `bson:"lease_expires_at,omitempty"`
}

func (s *MongoStore) Save(ctx context.Context, snap *engine.Snapshot) error {
	data, err := EncodeSnapshot(s.codec, snap)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"status":     string(snap.State),
			"updated_at": time.Now().UnixNano(),
			"data":       data,
		},
	}
	_, err = s.coll.UpdateByID(ctx, snap.ID, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Load(ctx context.Context, id string) (*engine.Snapshot, error) {
	var doc mongoSnapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return DecodeSnapshot(s.codec, doc.Data)
}

func (s *MongoStore) List(ctx context.Context, filter Filter) ([]Summary, error) {
	bfilter := bson.M{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		bfilter["status"] = bson.M{"$in": statuses}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"data": 0})
	cur, err := s.coll.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Summary
	for cur.Next(ctx) {
		var doc mongoSnapshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Summary{
			ID:        doc.ID,
			Status:    api.Status(doc.Status),
			UpdatedAt: time.Unix(0, doc.UpdatedAt),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *MongoStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	now := time.Now()
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lease_owner": bson.M{"$in": bson.A{"", nil}}},
			bson.M{"lease_owner": owner},
			bson.M{"lease_expires_at": bson.M{"$lte": now.UnixNano()}},
		},
	}
	update := bson.M{"$set": bson.M{
		"lease_owner":      owner,
		"lease_expires_at": now.Add(ttl).UnixNano(),
	}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, s.exists(ctx, id)
	}
	return true, nil
}

func (s *MongoStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	update := bson.M{"$set": bson.M{"lease_expires_at": time.Now().Add(ttl).UnixNano()}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "lease_owner": owner}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if err := s.exists(ctx, id); err != nil {
			return err
		}
		return ErrLeaseHeld
	}
	return nil
}

func (s *MongoStore) ReleaseLease(ctx context.Context, id, owner string) error {
	update := bson.M{"$unset": bson.M{"lease_owner": "", "lease_expires_at": ""}}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "lease_owner": owner}, update)
	return err
}

func (s *MongoStore) exists(ctx context.Context, id string) error {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}
