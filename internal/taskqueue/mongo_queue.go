package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of a MongoDB collection.
//
// Document schema:
//
//	{
//	  _id:          string,  // task ID
//	  conductor_id: string,
//	  payload:      []byte,  // JSON-encoded Task
//	  not_before:   int64,   // unix nanos
//	  created_at:   int64,   // unix nanos
//	}
//
// Dequeue claims the earliest due document with FindOneAndDelete.
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "conductor", collName to "action_tasks".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "conductor"
	}
	if collName == "" {
		collName = "action_tasks"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 100 * time.Millisecond,
	}
}

type mongoQueueDoc struct {
	ID          string `bson:"_id"`
	ConductorID string `bson:"conductor_id"`
	Payload     []byte `bson:"payload"`
	NotBefore   int64  `bson:"not_before"`
	CreatedAt   int64  `bson:"created_at"`
}

// Enqueue inserts a document for the given Task.
func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.coll.InsertOne(ctx, mongoQueueDoc{
		ID:          t.ID,
		ConductorID: t.ConductorID,
		Payload:     data,
		NotBefore:   t.NotBefore.UnixNano(),
		CreatedAt:   t.EnqueuedAt.UnixNano(),
	})
	return err
}

// Dequeue blocks (via polling) until a task is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	opts := options.FindOneAndDelete().
		SetSort(bson.D{{Key: "not_before", Value: 1}, {Key: "created_at", Value: 1}})
	for {
		var doc mongoQueueDoc
		filter := bson.M{"not_before": bson.M{"$lte": time.Now().UnixNano()}}
		err := q.coll.FindOneAndDelete(ctx, filter, opts).Decode(&doc)
		if err == nil {
			return DecodeTask(doc.Payload)
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Len returns an approximate number of queued tasks.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0
	}
	return int(n)
}
