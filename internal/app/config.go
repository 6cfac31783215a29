package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/fooddata-graph/internal/importer"
	"github.com/yungbote/fooddata-graph/internal/ingestion/source"
	"github.com/yungbote/fooddata-graph/internal/observability"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
	"github.com/yungbote/fooddata-graph/internal/platform/envutil"
	"github.com/yungbote/fooddata-graph/internal/platform/neo4jdb"
	"github.com/yungbote/fooddata-graph/internal/platform/redis"
)

type SourceConfig struct {
	// Location is a path, "-" for stdin, or an http(s)/s3/gs URL.
	Location string `yaml:"location"`
	Selector string `yaml:"selector"`
	TempDir  string `yaml:"temp_dir"`
}

type TelemetryConfig struct {
	Otel           observability.OtelConfig `yaml:"otel"`
	PushgatewayURL string                   `yaml:"pushgateway_url"`
}

type Config struct {
	LogMode   string           `yaml:"log_mode"`
	Neo4j     neo4jdb.Config   `yaml:"neo4j"`
	Source    SourceConfig     `yaml:"source"`
	Import    importer.Options `yaml:"import"`
	Redis     redis.Config     `yaml:"redis"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	// DryRun imports into an in-memory graph instead of Neo4j.
	DryRun bool `yaml:"dry_run"`
}

func DefaultConfig() Config {
	return Config{
		LogMode: "development",
		Neo4j:   neo4jdb.DefaultConfig(),
		Source:  SourceConfig{Selector: source.DefaultSelector},
		Import:  importer.DefaultOptions(),
		Redis:   redis.DefaultConfig(),
		Telemetry: TelemetryConfig{
			Otel: observability.OtelConfig{ServiceName: "fdcimport"},
		},
	}
}

// LoadConfig applies defaults, then the YAML file at path (optional), then
// .env and the process environment. Flags are applied by the caller.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, importerr.Wrap(importerr.InvalidConfig, "load_config", "read config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, importerr.Wrap(importerr.InvalidConfig, "load_config", "parse config file", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, importerr.Wrap(importerr.InvalidConfig, "load_config", "parse .env", err)
	}
	return cfg.WithEnv()
}

// WithEnv overlays every environment variable that is set onto c. A set
// variable that does not parse is an InvalidConfig error.
func (c Config) WithEnv() (Config, error) {
	var err error
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)
	if c.Neo4j, err = c.Neo4j.WithEnv(); err != nil {
		return c, envError(err)
	}
	if c.Redis, err = c.Redis.WithEnv(); err != nil {
		return c, envError(err)
	}

	c.Source.Location = envutil.String("FDC_SOURCE", c.Source.Location)
	c.Source.Selector = envutil.String("FDC_SELECTOR", c.Source.Selector)
	c.Source.TempDir = envutil.String("FDC_TEMP_DIR", c.Source.TempDir)

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"FDC_FOOD_BATCH_SIZE", &c.Import.FoodBatchSize},
		{"FDC_EDGE_BATCH_SIZE", &c.Import.EdgeBatchSize},
		{"FDC_NUTRIENT_BATCH_SIZE", &c.Import.NutrientBatchSize},
		{"FDC_PARALLELISM", &c.Import.Parallelism},
	} {
		if *f.dst, err = envutil.ParseInt(f.name, *f.dst); err != nil {
			return c, envError(err)
		}
	}
	c.Import.Merge = envutil.Bool("FDC_MERGE", c.Import.Merge)

	c.Telemetry.PushgatewayURL = envutil.String("PUSHGATEWAY_URL", c.Telemetry.PushgatewayURL)
	c.Telemetry.Otel.Environment = envutil.String("APP_ENV", c.Telemetry.Otel.Environment)
	return c, nil
}

func envError(err error) error {
	ce := &ConfigError{Code: ConfigErrorInvalidEnv}
	var pe *envutil.ParseError
	if errors.As(err, &pe) {
		ce.Field, ce.Value = pe.Name, pe.Value
		switch pe.Name {
		case "FDC_FOOD_BATCH_SIZE", "FDC_EDGE_BATCH_SIZE", "FDC_NUTRIENT_BATCH_SIZE":
			ce.Code = ConfigErrorInvalidBatchSize
		case "FDC_PARALLELISM":
			ce.Code = ConfigErrorInvalidParallelism
		}
	}
	return importerr.Wrap(importerr.InvalidConfig, "load_config", "", ce)
}

type ConfigErrorCode string

const (
	ConfigErrorMissingSource      ConfigErrorCode = "missing_source"
	ConfigErrorMissingNeo4jURI    ConfigErrorCode = "missing_neo4j_uri"
	ConfigErrorInvalidBatchSize   ConfigErrorCode = "invalid_batch_size"
	ConfigErrorInvalidParallelism ConfigErrorCode = "invalid_parallelism"
	ConfigErrorResumeNeedsRedis   ConfigErrorCode = "resume_needs_redis"
	ConfigErrorInvalidEnv         ConfigErrorCode = "invalid_env"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid config"
	}
	switch e.Code {
	case ConfigErrorMissingSource:
		return "a source location is required (--source or FDC_SOURCE)"
	case ConfigErrorMissingNeo4jURI:
		return "NEO4J_URI is required unless --dry-run is set"
	case ConfigErrorInvalidBatchSize:
		return fmt.Sprintf("invalid %s=%q; expected positive integer", e.Field, e.Value)
	case ConfigErrorInvalidParallelism:
		return fmt.Sprintf("invalid parallelism=%q; expected integer >= 1", e.Value)
	case ConfigErrorResumeNeedsRedis:
		return "--resume needs REDIS_ADDR so checkpoints outlive the process"
	case ConfigErrorInvalidEnv:
		return fmt.Sprintf("invalid %s=%q; expected integer", e.Field, e.Value)
	default:
		return "invalid config"
	}
}

// Need says which parts of the config a command uses.
type Need struct {
	Source bool
	Graph  bool
}

// Validate checks the fields the command needs. Failures carry
// importerr.InvalidConfig with a *ConfigError cause.
func (c Config) Validate(need Need) error {
	wrap := func(ce *ConfigError) error {
		return importerr.Wrap(importerr.InvalidConfig, "validate_config", "", ce)
	}
	if need.Source {
		if strings.TrimSpace(c.Source.Location) == "" {
			return wrap(&ConfigError{Code: ConfigErrorMissingSource, Field: "source.location"})
		}
		for _, f := range []struct {
			name string
			v    int
		}{
			{"food_batch_size", c.Import.FoodBatchSize},
			{"edge_batch_size", c.Import.EdgeBatchSize},
			{"nutrient_batch_size", c.Import.NutrientBatchSize},
		} {
			if f.v <= 0 {
				return wrap(&ConfigError{Code: ConfigErrorInvalidBatchSize, Field: f.name, Value: fmt.Sprint(f.v)})
			}
		}
		if c.Import.Parallelism < 1 {
			return wrap(&ConfigError{Code: ConfigErrorInvalidParallelism, Field: "parallelism", Value: fmt.Sprint(c.Import.Parallelism)})
		}
		if c.Import.Resume && strings.TrimSpace(c.Redis.Addr) == "" {
			return wrap(&ConfigError{Code: ConfigErrorResumeNeedsRedis, Field: "redis.addr"})
		}
	}
	if need.Graph && !c.DryRun && strings.TrimSpace(c.Neo4j.URI) == "" {
		return wrap(&ConfigError{Code: ConfigErrorMissingNeo4jURI, Field: "neo4j.uri"})
	}
	return nil
}
