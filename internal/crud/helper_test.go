package crud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codetrek/doclife/pkg/model"
)

const testMongoURI = "mongodb://localhost:27017"

var (
	globalTestClient     *mongo.Client
	globalTestClientOnce sync.Once
)

func getGlobalTestClient(t *testing.T) *mongo.Client {
	globalTestClientOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(testMongoURI))
		require.NoError(t, err)
		require.NoError(t, client.Ping(ctx, nil))
		globalTestClient = client
	})
	return globalTestClient
}

func setupTestCollection(t *testing.T) *mongo.Collection {
	t.Parallel()

	client := getGlobalTestClient(t)

	safeName := strings.ReplaceAll(t.Name(), "/", "_")
	if len(safeName) > 20 {
		safeName = safeName[len(safeName)-20:]
	}
	dbName := fmt.Sprintf("test_crud_%s_%d", safeName, time.Now().UnixNano()%100000)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database(dbName).Drop(ctx)
	})

	return client.Database(dbName).Collection("items")
}

func newTestEngine(t *testing.T, stateOnInsert model.State) *Engine {
	engine, err := NewEngine(setupTestCollection(t), stateOnInsert, nil, Options{})
	require.NoError(t, err)
	return engine
}

func testContext(userID string) Context {
	now := time.Now().UTC().Truncate(time.Millisecond)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewContext(context.Background(), userID, now, log)
}

func countDocs(t *testing.T, e *Engine) int64 {
	n, err := e.coll.CountDocuments(context.Background(), bson.M{})
	require.NoError(t, err)
	return n
}

// passthroughTranslator builds an equality filter out of the ad-hoc fields and
// ANDs in each ACL row, ignoring the raw query fragment.
type passthroughTranslator struct{}

func (passthroughTranslator) Translate(_ context.Context, _ string, fields map[string]interface{}, acls []bson.M) (bson.M, error) {
	parts := bson.A{}
	if len(fields) > 0 {
		parts = append(parts, bson.M(fields))
	}
	for _, acl := range acls {
		parts = append(parts, acl)
	}
	if len(parts) == 0 {
		return bson.M{}, nil
	}
	return bson.M{"$and": parts}, nil
}

// recordingCaster remembers what it was asked to cast.
type recordingCaster struct {
	docs     int
	commands int
	fail     error
}

func (c *recordingCaster) CastDocument(bson.M) error {
	c.docs++
	return c.fail
}

func (c *recordingCaster) CastUpdateCommands(bson.M, []string) error {
	c.commands++
	return c.fail
}

func stringID(raw string) (interface{}, error) {
	return raw, nil
}
