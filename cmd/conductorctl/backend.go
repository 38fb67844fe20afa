package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/conductor/internal/persistence"
)

// backend is an open store connection.
type backend struct {
	persistence.Persistence
	close func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend connects to the store selected by cfg. Only the sqlite driver
// keeps event history; the others record none.
func openBackend(ctx context.Context, cfg StoreConfig) (*backend, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		db.SetMaxOpenConns(1)
		store, err := persistence.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		events, err := persistence.NewSQLiteEventStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &backend{
			Persistence: persistence.Persistence{Snapshots: store, Events: events},
			close:       db.Close,
		}, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := persistence.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &backend{
			Persistence: persistence.Persistence{Snapshots: store, Events: persistence.NoopEventStore{}},
			close:       db.Close,
		}, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return &backend{
			Persistence: persistence.Persistence{
				Snapshots: persistence.NewRedisStore(client, cfg.Prefix),
				Events:    persistence.NoopEventStore{},
			},
			close: client.Close,
		}, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return &backend{
			Persistence: persistence.Persistence{
				Snapshots: persistence.NewMongoStore(client, cfg.Database, cfg.Collection),
				Events:    persistence.NoopEventStore{},
			},
			close: func() error { return client.Disconnect(context.Background()) },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
