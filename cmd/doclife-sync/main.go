// doclife-sync reconciles the declared index set of every configured
// collection against the live database. It runs at startup/schema-sync time,
// independently of the CRUD engine.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codetrek/doclife/internal/config"
	"github.com/codetrek/doclife/internal/index"
	"github.com/codetrek/doclife/internal/logging"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall sync timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logging.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		slog.Error("failed to connect to mongo", "uri", cfg.Mongo.URI, "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())

	if err := client.Ping(ctx, nil); err != nil {
		slog.Error("mongo ping failed", "uri", cfg.Mongo.URI, "error", err)
		os.Exit(1)
	}

	db := client.Database(cfg.Mongo.Database)
	failed := false
	for _, coll := range cfg.Collections {
		created, err := index.Sync(ctx, db.Collection(coll.Name), coll.Indexes, coll.PreserveIndexPrefix)
		if err != nil {
			slog.Error("index sync failed", "collection", coll.Name, "error", err)
			failed = true
			continue
		}
		slog.Info("index sync done", "collection", coll.Name, "created", created)
	}
	if failed {
		os.Exit(1)
	}
}
