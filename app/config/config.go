package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
)

const EnvPrefix = "GHCTX"

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Valkey ValkeyConfig `mapstructure:"valkey"`
	Etcd   EtcdConfig   `mapstructure:"etcd"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	GitHub GitHubConfig `mapstructure:"github"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	GRPC   GRPCConfig   `mapstructure:"grpc"`
	Log    LogConfig    `mapstructure:"log"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type CacheConfig struct {
	// Backend is one of redis, valkey, etcd, mongo, memory, none.
	Backend       string        `mapstructure:"backend"`
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	ClearTimeout  time.Duration `mapstructure:"clear_timeout"`
	TTL           TTLConfig     `mapstructure:"ttl"`
}

type TTLConfig struct {
	File    time.Duration `mapstructure:"file"`
	Repo    time.Duration `mapstructure:"repo"`
	Profile time.Duration `mapstructure:"profile"`
	Tree    time.Duration `mapstructure:"tree"`
	Query   time.Duration `mapstructure:"query"`
}

func (t TTLConfig) Policy() entity.TTLPolicy {
	return entity.TTLPolicy{
		File:    t.File,
		Repo:    t.Repo,
		Profile: t.Profile,
		Tree:    t.Tree,
		Query:   t.Query,
	}
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ValkeyConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	DisableCache bool   `mapstructure:"disable_cache"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"db_name"`
}

type GitHubConfig struct {
	Token            string        `mapstructure:"token"`
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	// FetchTimeout bounds one upstream fetch shared by concurrent requests.
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
}

type OpenAIConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	MaxFiles int    `mapstructure:"max_files"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, then the optional config file, then GHCTX_* env vars.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Cache.Backend) {
	case "redis", "valkey", "etcd", "mongo", "memory", "none":
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Cache.OpTimeout <= 0 {
		return errors.New("cache.op_timeout must be positive")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	ttl := entity.DefaultTTLPolicy()

	v.SetDefault("app.name", "gh-context-cache")
	v.SetDefault("app.env", "local")

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.op_timeout", 300*time.Millisecond)
	v.SetDefault("cache.health_timeout", time.Second)
	v.SetDefault("cache.clear_timeout", 5*time.Second)
	v.SetDefault("cache.ttl.file", ttl.File)
	v.SetDefault("cache.ttl.repo", ttl.Repo)
	v.SetDefault("cache.ttl.profile", ttl.Profile)
	v.SetDefault("cache.ttl.tree", ttl.Tree)
	v.SetDefault("cache.ttl.query", ttl.Query)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("valkey.address", "localhost:6379")
	v.SetDefault("valkey.password", "")
	v.SetDefault("valkey.db", 0)
	v.SetDefault("valkey.disable_cache", false)
	v.SetDefault("etcd.endpoints", []string{"etcd:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/ghctx/")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db_name", "ghctx")

	// Empty defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.timeout", 30*time.Second)
	v.SetDefault("github.fetch_concurrency", 4)
	v.SetDefault("github.fetch_timeout", 60*time.Second)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_files", 12)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":1234")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
