package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var loadTestEnvOnce sync.Once

// loadTestEnv loads the .env file from the project root (two levels up from this file).
func loadTestEnv() {
	loadTestEnvOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
		if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
			godotenv.Load()
		}
	})
}

// GetTestMongoURI returns MONGO_URI_TEST, or "" when the tests should not touch MongoDB.
func GetTestMongoURI() string {
	loadTestEnv()
	return os.Getenv("MONGO_URI_TEST")
}

// SetupTestDB connects to the MongoDB replica set named by MONGO_URI_TEST and returns a
// database with a unique name. The database is dropped when the test finishes.
// Tests are skipped when MONGO_URI_TEST is not set.
func SetupTestDB(t *testing.T, prefix string) *mongo.Database {
	t.Helper()
	uri := GetTestMongoURI()
	if uri == "" {
		t.Skip("MONGO_URI_TEST not set; skipping MongoDB-backed test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "Failed to connect to MongoDB")

	dbName := fmt.Sprintf("test_%s_%d", prefix, time.Now().UnixNano())
	db := client.Database(dbName)

	t.Cleanup(func() {
		if err := db.Drop(context.Background()); err != nil {
			t.Logf("Failed to drop database %s: %v", dbName, err)
		}
		if err := client.Disconnect(context.Background()); err != nil {
			t.Logf("Failed to disconnect MongoDB client: %v", err)
		}
	})
	return db
}

// SetupTestRedis connects to the Redis server named by REDIS_ADDR_TEST. Tests are
// skipped when it is not set; callers keep their keys unique instead of flushing.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	loadTestEnv()
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set; skipping Redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err(), "Failed to connect to Redis")
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Logf("Failed to close Redis client: %v", err)
		}
	})
	return rdb
}
