package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const (
	entriesCollection = "cache_entries"
	scopesCollection  = "cache_scopes"
)

type cacheEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type scopeMember struct {
	ID        string    `bson:"_id"`
	Scope     string    `bson:"scope"`
	Key       string    `bson:"key"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoCacheStore relies on TTL indexes for eventual removal. Reads also
// filter on expires_at because the TTL monitor only runs once a minute.
type MongoCacheStore struct {
	client  *mongo.Client
	entries *mongo.Collection
	scopes  *mongo.Collection
}

func NewMongoCacheStore(client *mongo.Client, db *mongo.Database) repository.CacheStore {
	return &MongoCacheStore{
		client:  client,
		entries: db.Collection(entriesCollection),
		scopes:  db.Collection(scopesCollection),
	}
}

// EnsureIndexes creates the TTL indexes and the scope lookup index.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := db.Collection(entriesCollection).Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("create entries ttl index: %w", err)
	}
	if _, err := db.Collection(scopesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		ttlIndex,
		{Keys: bson.D{{Key: "scope", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create scopes indexes: %w", err)
	}
	return nil
}

func (m *MongoCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	filter := bson.M{"_id": key, "expires_at": bson.M{"$gt": time.Now().UTC()}}
	var doc cacheEntry
	if err := m.entries.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entity.ErrCacheMiss
		}
		return nil, fmt.Errorf("find cache entry: %w", err)
	}
	return doc.Value, nil
}

func (m *MongoCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := cacheEntry{Key: key, Value: value, ExpiresAt: time.Now().UTC().Add(ttl)}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.entries.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Track upserts one member document. The TTL index drops it once its entry
// has expired, so scopeTTL is not needed.
func (m *MongoCacheStore) Track(ctx context.Context, scope, key string, entryTTL, _ time.Duration) error {
	doc := scopeMember{
		ID:        scope + "|" + key,
		Scope:     scope,
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(entryTTL),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.scopes.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("upsert scope member: %w", err)
	}
	return nil
}

func (m *MongoCacheStore) DeleteScope(ctx context.Context, scope string) (int64, error) {
	cur, err := m.scopes.Find(ctx, bson.M{"scope": scope})
	if err != nil {
		return 0, fmt.Errorf("find scope members: %w", err)
	}
	var members []scopeMember
	if err := cur.All(ctx, &members); err != nil {
		return 0, fmt.Errorf("decode scope members: %w", err)
	}

	var removed int64
	if len(members) > 0 {
		keys := make([]string, 0, len(members))
		for _, member := range members {
			keys = append(keys, member.Key)
		}
		res, err := m.entries.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
		if err != nil {
			return 0, fmt.Errorf("delete scoped entries: %w", err)
		}
		removed = res.DeletedCount
	}

	if _, err := m.scopes.DeleteMany(ctx, bson.M{"scope": scope}); err != nil {
		return removed, fmt.Errorf("delete scope members: %w", err)
	}
	return removed, nil
}

func (m *MongoCacheStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoCacheStore) Name() string {
	return "mongo"
}

func (m *MongoCacheStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
