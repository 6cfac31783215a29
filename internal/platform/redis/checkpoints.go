package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/fooddata-graph/internal/platform/envutil"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

const defaultPrefix = "fdcimport:checkpoint:"

type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

func DefaultConfig() Config {
	return Config{Prefix: defaultPrefix, TTL: 14 * 24 * time.Hour}
}

// WithEnv overlays any REDIS_* variables that are set onto c.
func (c Config) WithEnv() (Config, error) {
	c.Addr = envutil.String("REDIS_ADDR", c.Addr)
	c.Password = envutil.String("REDIS_PASSWORD", c.Password)
	c.Prefix = envutil.String("REDIS_CHECKPOINT_PREFIX", c.Prefix)

	var err error
	if c.DB, err = envutil.ParseInt("REDIS_DB", c.DB); err != nil {
		return c, err
	}
	hours, err := envutil.ParseInt("REDIS_CHECKPOINT_TTL_HOURS", int(c.TTL/time.Hour))
	if err != nil {
		return c, err
	}
	c.TTL = time.Duration(hours) * time.Hour
	return c, nil
}

// Checkpoints keeps one hash per run key; fields are phase names and values
// are the last contiguous committed batch.
type Checkpoints struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewCheckpoints dials Redis and pings it before returning.
func NewCheckpoints(ctx context.Context, cfg Config, log *logger.Logger) (*Checkpoints, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	cp := NewCheckpointsFromClient(rdb, cfg.Prefix, cfg.TTL, log)
	cp.owned = true
	cp.log.Info("redis checkpoints ready", "addr", addr, "prefix", cp.prefix)
	return cp, nil
}

// NewCheckpointsFromClient wraps an existing client. Close leaves it open.
func NewCheckpointsFromClient(rdb *goredis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Checkpoints {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Checkpoints{
		log:    log.With("service", "RedisCheckpoints"),
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *Checkpoints) Load(ctx context.Context, key, phase string) (int, error) {
	n, err := c.rdb.HGet(ctx, c.prefix+key, phase).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", phase, err)
	}
	return n, nil
}

func (c *Checkpoints) Save(ctx context.Context, key, phase string, batch int) error {
	k := c.prefix + key
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, phase, batch)
	if c.ttl > 0 {
		pipe.Expire(ctx, k, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", phase, err)
	}
	return nil
}

func (c *Checkpoints) Clear(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// ClearAll removes every checkpoint under the prefix.
func (c *Checkpoints) ClearAll(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan checkpoints: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	c.log.Debug("checkpoints cleared", "keys", len(keys))
	return nil
}

func (c *Checkpoints) Close() error {
	if c == nil || c.rdb == nil || !c.owned {
		return nil
	}
	return c.rdb.Close()
}
