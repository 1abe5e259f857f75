// Package app assembles storage backends and services from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/db"
	mongorepo "github.com/sanaka-srujana/tars-chat/internal/repository/mongo"
	"github.com/sanaka-srujana/tars-chat/internal/repository/postgres"
	valkeyrepo "github.com/sanaka-srujana/tars-chat/internal/repository/valkey"
	"github.com/sanaka-srujana/tars-chat/internal/server"
	"github.com/sanaka-srujana/tars-chat/internal/service"
	"github.com/sanaka-srujana/tars-chat/internal/ws"
)

type Container struct {
	Config   config.Config
	Services ws.Services
	Hub      *ws.Hub
	Checks   map[string]server.HealthCheck

	// Mongo is set when messages live in MongoDB.
	Mongo *mongo.Database

	gdb    *gorm.DB
	valkey valkey.Client
}

// Build connects every configured backend, runs migrations and wires the
// services.
func Build(ctx context.Context, cfg config.Config) (*Container, error) {
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	c := &Container{Config: cfg, Hub: ws.NewHub(), gdb: gdb}
	c.Checks = map[string]server.HealthCheck{
		"postgres": func(context.Context) error { return db.Ping(gdb) },
	}

	pg := postgres.NewStore(gdb)
	var messages service.MessageStore = pg
	var typing service.TypingStore = pg

	if cfg.MessageBackend == config.BackendMongo {
		mdb, err := mongorepo.NewDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		c.Mongo = mdb
		if err := mongorepo.EnsureIndexes(ctx, mdb); err != nil {
			c.Close()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		messages = mongorepo.NewMessageRepository(mdb)
		c.Checks["mongo"] = func(ctx context.Context) error { return mdb.Client().Ping(ctx, nil) }
		log.Info().Str("database", cfg.MongoDatabase).Msg("messages stored in mongo")
	}

	if cfg.TypingBackend == config.BackendValkey {
		client, err := valkeyrepo.NewClient(cfg.ValkeyAddr)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("valkey connect: %w", err)
		}
		c.valkey = client
		typing = valkeyrepo.NewTypingStore(client, time.Minute)
		c.Checks["valkey"] = func(ctx context.Context) error {
			return client.Do(ctx, client.B().Ping().Build()).Error()
		}
		log.Info().Str("addr", cfg.ValkeyAddr).Msg("typing indicators stored in valkey")
	}

	unread := service.NewUnreadService(messages)
	convs := service.NewConversationService(pg, pg, unread)
	typingSvc := service.NewTypingService(typing, pg, pg)
	c.Services = ws.Services{
		Users:         service.NewUserService(pg, cfg),
		Conversations: convs,
		Messages:      service.NewMessageService(messages, pg, pg, convs, typingSvc),
		Typing:        typingSvc,
		Unread:        unread,
	}
	return c, nil
}

// Close releases every backend connection.
func (c *Container) Close() {
	if c.valkey != nil {
		c.valkey.Close()
	}
	if c.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Mongo.Client().Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("mongo disconnect")
		}
	}
	if c.gdb != nil {
		if sqlDB, err := c.gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
