package storage

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mark47B/gh-context-cache/app/config"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
	etcdStorage "github.com/mark47B/gh-context-cache/app/infrastructure/storage/etcd"
	"github.com/mark47B/gh-context-cache/app/infrastructure/storage/memory"
	"github.com/mark47B/gh-context-cache/app/infrastructure/storage/mongodb"
	"github.com/mark47B/gh-context-cache/app/infrastructure/storage/noop"
	redisStorage "github.com/mark47B/gh-context-cache/app/infrastructure/storage/redis"
	valkeyStorage "github.com/mark47B/gh-context-cache/app/infrastructure/storage/valkey"
)

// NewCacheStore builds the configured backend. A backend that cannot be
// reached at startup is replaced by the no-op store so the service runs
// uncached instead of failing.
func NewCacheStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) repository.CacheStore {
	backend := strings.ToLower(cfg.Cache.Backend)
	log = log.WithField("backend", backend)

	switch backend {
	case "redis":
		client, err := redisStorage.Connect(ctx, redisStorage.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warnf("[Storage] redis not reachable yet, requests degrade to misses until it is: %v", err)
		}
		return redisStorage.NewRedisCacheStore(client)

	case "valkey":
		client, err := valkeyStorage.Connect(valkeyStorage.Config{
			Address:      cfg.Valkey.Address,
			Password:     cfg.Valkey.Password,
			DB:           cfg.Valkey.DB,
			DisableCache: cfg.Valkey.DisableCache,
		})
		if err != nil {
			return fallback(log, err)
		}
		return valkeyStorage.NewValkeyCacheStore(client)

	case "etcd":
		client, err := etcdStorage.Connect(etcdStorage.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return fallback(log, err)
		}
		return etcdStorage.NewETCDCacheStore(client, cfg.Etcd.Prefix)

	case "mongo":
		client, db, err := mongodb.Connect(ctx, mongodb.Config{
			URI:     cfg.Mongo.URI,
			DBName:  cfg.Mongo.DBName,
			AppName: cfg.App.Name,
		})
		if err != nil {
			return fallback(log, err)
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			log.Warnf("[Storage] mongo indexes not ensured, expired entries will not be reaped: %v", err)
		}
		return mongodb.NewMongoCacheStore(client, db)

	case "memory":
		return memory.NewStore()

	default:
		log.Info("[Storage] caching disabled")
		return noop.Store{}
	}
}

func fallback(log logrus.FieldLogger, err error) repository.CacheStore {
	log.Warnf("[Storage] cache backend unavailable, running without cache: %v", err)
	return noop.Store{}
}
