package conductor

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/conductor/internal/taskqueue"
)

// Queue carries action requests from LocalRunner to its workers. Persistent
// queues keep pending requests across restarts of the runner.
type Queue = taskqueue.Queue

// NewInMemoryQueue returns the queue LocalRunner uses by default.
func NewInMemoryQueue() Queue {
	return taskqueue.NewInMemoryQueue()
}

// NewSQLiteQueue returns a Queue persisted in a SQLite database.
func NewSQLiteQueue(db *sql.DB) (Queue, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewPostgresQueue returns a Queue stored in a PostgreSQL table. Workers on
// several hosts can share it.
func NewPostgresQueue(db *sql.DB) (Queue, error) {
	q, err := taskqueue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewRedisQueue returns a Queue kept in a Redis sorted set. An empty prefix
// defaults to "conductor:".
func NewRedisQueue(client *redis.Client, prefix string) Queue {
	return taskqueue.NewRedisQueue(client, prefix)
}

// NewMongoQueue returns a Queue stored in a MongoDB collection.
func NewMongoQueue(client *mongo.Client, dbName, collName string) Queue {
	return taskqueue.NewMongoQueue(client, dbName, collName)
}
