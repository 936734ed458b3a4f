package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/models"
)

// Setting keys with a meaning in code.
const (
	SettingPlatformFeePercent = "platform_fee_percent"
	SettingMaxPledgeAmount    = "max_pledge_amount"
)

const settingsUpdateChannel = "settings_updates"

// ISettingsService exposes runtime-tunable platform settings.
type ISettingsService interface {
	Load(ctx context.Context) error
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt64(ctx context.Context, key string, defaultValue int64) int64
	GetAllPublic(ctx context.Context) (map[string]interface{}, error)
	Set(ctx context.Context, key string, value interface{}, isPublic bool) error
	SubscribeToChanges(ctx context.Context) error
	PlatformFeePercent(ctx context.Context) decimal.Decimal
}

// settingsService caches the settings collection in memory. Any instance that writes a
// setting publishes its key on Redis and every instance reloads.
type settingsService struct {
	db    *mongo.Database
	cfg   *config.Config
	rdb   *redis.Client
	cache map[string]interface{}
	mutex sync.RWMutex
}

// NewSettingsService creates a SettingsService and loads the current settings.
// rdb may be nil, in which case changes made elsewhere are only seen after Load.
func NewSettingsService(database *mongo.Database, cfg *config.Config, rdb *redis.Client) ISettingsService {
	s := &settingsService{
		db:    database,
		cfg:   cfg,
		rdb:   rdb,
		cache: make(map[string]interface{}),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load settings from DB: %v. Using defaults from env", err)
	}
	return s
}

// Load replaces the cache with the contents of the settings collection.
func (s *settingsService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(models.SettingsCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query settings collection: %w", err)
	}
	defer cursor.Close(ctx)

	fresh := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry models.Setting
		if err := cursor.Decode(&entry); err != nil {
			log.Printf("Warning: Failed to decode setting during load: %v", err)
			continue
		}
		fresh[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating settings cursor: %w", err)
	}

	s.mutex.Lock()
	s.cache = fresh
	s.mutex.Unlock()
	log.Printf("Loaded %d settings into cache.", len(fresh))
	return nil
}

func (s *settingsService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()
	if exists {
		return val, nil
	}

	switch key {
	case SettingPlatformFeePercent:
		return s.cfg.PlatformFeePercent.String(), nil
	default:
		return nil, fmt.Errorf("setting '%s' not found", key)
	}
}

// GetInt64 reads a numeric setting. Mongo may hand back int32, int64 or float64.
func (s *settingsService) GetInt64(ctx context.Context, key string, defaultValue int64) int64 {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		log.Printf("Warning: Setting '%s' is not an integer type (%T), using default.", key, val)
		return defaultValue
	}
}

// PlatformFeePercent returns the fee fraction from settings, falling back to the env value
// when the stored one is missing or out of range.
func (s *settingsService) PlatformFeePercent(ctx context.Context) decimal.Decimal {
	val, err := s.Get(ctx, SettingPlatformFeePercent)
	if err != nil {
		return s.cfg.PlatformFeePercent
	}
	fee, err := config.ParseFeePercent(fmt.Sprint(val))
	if err != nil {
		log.Printf("Warning: Stored %s %v is invalid (%v), using %s", SettingPlatformFeePercent, val, err, s.cfg.PlatformFeePercent)
		return s.cfg.PlatformFeePercent
	}
	return fee
}

func (s *settingsService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	cursor, err := s.db.Collection(models.SettingsCollection).Find(ctx, bson.M{"public": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query public settings: %w", err)
	}
	defer cursor.Close(ctx)

	public := map[string]interface{}{}
	for cursor.Next(ctx) {
		var entry models.Setting
		if err := cursor.Decode(&entry); err == nil {
			public[entry.Key] = entry.Value
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public settings cursor: %w", err)
	}
	if _, exists := public["app_name"]; !exists {
		public["app_name"] = s.cfg.AppName
	}
	return public, nil
}

// Set upserts a setting and tells every instance to reload.
func (s *settingsService) Set(ctx context.Context, key string, value interface{}, isPublic bool) error {
	if key == "" {
		return newValidationError("key", "is required")
	}
	if key == SettingPlatformFeePercent {
		fee, err := config.ParseFeePercent(fmt.Sprint(value))
		if err != nil {
			return newValidationError("value", err.Error())
		}
		value = fee.String()
	}

	_, err := s.db.Collection(models.SettingsCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value, "public": isPublic}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert setting '%s': %w", key, err)
	}

	s.mutex.Lock()
	s.cache[key] = value
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, settingsUpdateChannel, key).Err(); err != nil {
			log.Printf("Warning: Failed to publish settings update for '%s': %v", key, err)
		}
	}
	log.Printf("Updated setting '%s'.", key)
	return nil
}

// SubscribeToChanges reloads the cache whenever another instance publishes an update.
// It blocks until ctx is cancelled.
func (s *settingsService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, not subscribing to settings changes.")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, settingsUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", settingsUpdateChannel, err)
	}
	log.Println("Subscribed to Redis channel for settings updates:", settingsUpdateChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			log.Printf("Settings update for '%s', reloading", msg.Payload)
			if err := s.Load(ctx); err != nil {
				log.Printf("ERROR reloading settings: %v", err)
			}
		}
	}
}
