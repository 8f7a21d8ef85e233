// Package config gathers server settings from flags, falling back to TALLY_*
// environment variables (a .env file is honoured) for every default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"github.com/tckz/tally-counter/internal/log"
)

const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendSQLite    = "sqlite"
	BackendDatastore = "datastore"
	BackendS3        = "s3"
)

var Backends = []string{BackendFile, BackendMemory, BackendRedis, BackendSQLite, BackendDatastore, BackendS3}

type Config struct {
	Addr            string `validate:"required"`
	Backend         string `validate:"oneof=file memory redis sqlite datastore s3"`
	DataPath        string `validate:"required_if=Backend file"`
	SQLitePath      string `validate:"required_if=Backend sqlite"`
	RedisAddr       string `validate:"required_if=Backend redis"`
	RedisKey        string `validate:"required_if=Backend redis"`
	ProjectID       string `validate:"required_if=Backend datastore,required_with=PubsubTopic"`
	DatastoreNS     string
	DatastoreKind   string `validate:"required_if=Backend datastore"`
	DatastoreName   string `validate:"required_if=Backend datastore"`
	S3Bucket        string `validate:"required_if=Backend s3"`
	S3Key           string `validate:"required_if=Backend s3"`
	S3Region        string
	S3Endpoint      string        `validate:"omitempty,url"`
	S3AccessKey     string        `validate:"required_with=S3SecretKey"`
	S3SecretKey     string        `validate:"required_with=S3AccessKey"`
	CacheTTL        time.Duration `validate:"gte=0"`
	PubsubTopic     string
	TimeZone        string
	StaticDir       string
	LogLevel        string        `validate:"oneof=debug info warn error"`
	LogEncoding     string        `validate:"oneof=json console"`
	LogOutput       string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	location *time.Location
}

// Location is the zone used to decide which weekday an increment lands on.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// LogOptions turns the log settings into options for log.NewLogger.
func (c *Config) LogOptions() []log.Option {
	return []log.Option{
		log.WithLogLevel(c.LogLevel),
		log.WithEncoding(c.LogEncoding),
		log.WithOutputPaths(strings.Split(c.LogOutput, ",")...),
	}
}

// Load reads .env (if present) and parses args.
func Load(name string, args []string) (*Config, error) {
	godotenv.Load()
	return Parse(flag.NewFlagSet(name, flag.ContinueOnError), args, os.Getenv)
}

// Parse registers the options on fs, parses args and validates the result.
// getenv supplies the defaults.
func Parse(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	var envErr error
	envDuration := func(key string, fallback time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return fallback
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			envErr = errors.Join(envErr, fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		return d
	}

	c := &Config{}
	fs.StringVar(&c.Addr, "addr", env("TALLY_ADDR", ":8080"), "listen address")
	fs.StringVar(&c.Backend, "backend", env("TALLY_BACKEND", BackendFile), strings.Join(Backends, "|"))
	fs.StringVar(&c.DataPath, "data", env("TALLY_DATA_PATH", "data/data.json"), "path/to/data.json for the file backend")
	fs.StringVar(&c.SQLitePath, "sqlite", env("TALLY_SQLITE_PATH", "data/tally.db"), "path/to/tally.db for the sqlite backend")
	fs.StringVar(&c.RedisAddr, "redis", env("TALLY_REDIS_ADDR", ""), "addr:port of redis")
	fs.StringVar(&c.RedisKey, "redis-key", env("TALLY_REDIS_KEY", "tally"), "key of the redis hash")
	fs.StringVar(&c.ProjectID, "project", env("PROJECT_ID", ""), "GCP project id")
	fs.StringVar(&c.DatastoreNS, "ds-ns", env("TALLY_DATASTORE_NAMESPACE", ""), "datastore namespace")
	fs.StringVar(&c.DatastoreKind, "ds-kind", env("TALLY_DATASTORE_KIND", "Tally"), "datastore kind")
	fs.StringVar(&c.DatastoreName, "ds-name", env("TALLY_DATASTORE_NAME", "global"), "datastore key name")
	fs.StringVar(&c.S3Bucket, "s3-bucket", env("TALLY_S3_BUCKET", ""), "bucket for the s3 backend")
	fs.StringVar(&c.S3Key, "s3-key", env("TALLY_S3_KEY", "tally/data.json"), "object key for the s3 backend")
	fs.StringVar(&c.S3Region, "s3-region", env("TALLY_S3_REGION", ""), "region, default from the AWS config chain")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", env("TALLY_S3_ENDPOINT", ""), "endpoint of an S3 compatible server")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", env("TALLY_S3_ACCESS_KEY", ""), "static access key id")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", env("TALLY_S3_SECRET_KEY", ""), "static secret access key")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", envDuration("TALLY_CACHE_TTL", 0), "cache loaded records for this long [0 = off]")
	fs.StringVar(&c.PubsubTopic, "pubsub-topic", env("TALLY_PUBSUB_TOPIC", ""), "publish increment events to this topic")
	fs.StringVar(&c.TimeZone, "tz", env("TALLY_TZ", "Local"), "time zone deciding the weekday, e.g. Asia/Tokyo")
	fs.StringVar(&c.StaticDir, "static", env("TALLY_STATIC_DIR", ""), "serve the display page from this directory instead of the built-in one")
	fs.StringVar(&c.LogLevel, "log-level", env("TALLY_LOG_LEVEL", "info"), "debug|info|warn|error")
	fs.StringVar(&c.LogEncoding, "log-encoding", env("TALLY_LOG_ENCODING", "json"), "json|console")
	fs.StringVar(&c.LogOutput, "log-output", env("TALLY_LOG_OUTPUT", "stderr"), "comma separated log destinations, stderr|stdout|path")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", envDuration("TALLY_SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown timeout")

	if envErr != nil {
		return nil, envErr
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New()

// Validate checks field constraints and resolves the time zone.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", strings.Join(lo.Map(verrs, func(e validator.FieldError, _ int) string {
				return fmt.Sprintf("%s failed %s", e.Field(), tagOf(e))
			}), ", "))
		}
		return fmt.Errorf("validate.Struct: %w", err)
	}

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("time.LoadLocation: %w", err)
	}
	c.location = loc
	return nil
}

func tagOf(e validator.FieldError) string {
	if e.Param() == "" {
		return e.Tag()
	}
	return e.Tag() + "=" + e.Param()
}
