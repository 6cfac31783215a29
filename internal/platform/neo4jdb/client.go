package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/fooddata-graph/internal/platform/envutil"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

type Config struct {
	URI         string `yaml:"uri"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	// Timeout bounds connection setup and the connectivity check.
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		URI:         "bolt://localhost:7687",
		User:        "neo4j",
		MaxPoolSize: 50,
		Timeout:     10 * time.Second,
	}
}

// WithEnv overlays any NEO4J_* variables that are set onto c.
func (c Config) WithEnv() (Config, error) {
	c.URI = envutil.String("NEO4J_URI", c.URI)
	c.User = envutil.String("NEO4J_USER", c.User)
	c.Password = envutil.String("NEO4J_PASSWORD", c.Password)
	c.Database = envutil.String("NEO4J_DATABASE", c.Database)

	var err error
	if c.MaxPoolSize, err = envutil.ParseInt("NEO4J_MAX_POOL_SIZE", c.MaxPoolSize); err != nil {
		return c, err
	}
	secs, err := envutil.ParseInt("NEO4J_TIMEOUT_SECONDS", int(c.Timeout/time.Second))
	if err != nil {
		return c, err
	}
	c.Timeout = time.Duration(secs) * time.Second
	return c, nil
}

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

func New(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4jdb: uri required")
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	auth := neo4j.BasicAuth(user, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	log.Info("neo4j connected", "uri", uri, "database", cfg.Database, "max_pool_size", maxPool)
	return &Client{
		Driver:   driver,
		Database: strings.TrimSpace(cfg.Database),
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// Session opens a session on the configured database.
func (c *Client) Session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.Database,
	})
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
