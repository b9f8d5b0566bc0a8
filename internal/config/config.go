package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "SPARK"

	StorageFile  = "file"
	StorageMongo = "mongo"

	MediaLocal = "local"
	MediaS3    = "s3"

	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
)

type Config struct {
	ServerAddr     string   `mapstructure:"addr"`
	SigningSecret  string   `mapstructure:"signing-key"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`
	Development    bool     `mapstructure:"dev"`

	StorageEngine  string        `mapstructure:"storage"`
	DataDir        string        `mapstructure:"data-dir"`
	MongoURI       string        `mapstructure:"mongo-uri"`
	MongoDatabase  string        `mapstructure:"mongo-db"`
	StorageTimeout time.Duration `mapstructure:"storage-timeout"`

	MediaBackend   string `mapstructure:"media"`
	MediaDir       string `mapstructure:"media-dir"`
	S3Bucket       string `mapstructure:"s3-bucket"`
	S3Region       string `mapstructure:"s3-region"`
	S3Endpoint     string `mapstructure:"s3-endpoint"`
	MaxUploadBytes int64  `mapstructure:"max-upload-bytes"`

	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`
	RedisPrefix   string `mapstructure:"redis-prefix"`

	KafkaBrokers []string `mapstructure:"kafka-brokers"`
	KafkaTopic   string   `mapstructure:"kafka-topic"`

	EventRate  float64 `mapstructure:"event-rate"`
	EventBurst int     `mapstructure:"event-burst"`

	// SigningKey is the decoded SigningSecret.
	SigningKey []byte `mapstructure:"-"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("signing secret cannot be empty")
	}
	return key, nil
}

// Flags returns the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("spark-chat", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file")
	fs.String("addr", "localhost:8000", "server address")
	fs.String("signing-key", defaultSigningKey, "base64 encoded signing key")
	fs.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	fs.Bool("dev", false, "development logging")

	fs.String("storage", StorageFile, "storage engine (file or mongo)")
	fs.String("data-dir", "data", "directory of the flat-file storage engine")
	fs.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection string")
	fs.String("mongo-db", "spark", "MongoDB database name")
	fs.Duration("storage-timeout", 5*time.Second, "timeout of a single storage call")

	fs.String("media", MediaLocal, "attachment backend (local or s3)")
	fs.String("media-dir", "uploads", "directory of the local attachment backend")
	fs.String("s3-bucket", "", "S3 bucket for attachments")
	fs.String("s3-region", "", "S3 region")
	fs.String("s3-endpoint", "", "custom S3 endpoint, e.g. a MinIO server")
	fs.Int64("max-upload-bytes", 50<<20, "maximum attachment size")

	fs.String("redis-addr", "", "Redis address for the presence mirror; empty disables it")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database")
	fs.String("redis-prefix", "spark", "Redis key prefix")

	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for domain events; empty disables them")
	fs.String("kafka-topic", "spark.chat.events", "Kafka topic for domain events")

	fs.Float64("event-rate", 20, "socket events per second allowed per connection")
	fs.Int("event-burst", 40, "socket event burst allowed per connection")
	return fs
}

// Load reads configuration from flags, SPARK_* environment variables, an
// optional .env file and an optional config file, in that order of
// precedence.
func Load(args []string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and decodes the signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	switch c.StorageEngine {
	case StorageFile:
		if c.DataDir == "" {
			return fmt.Errorf("data directory cannot be empty")
		}
	case StorageMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("mongo storage requires a URI and a database")
		}
	default:
		return fmt.Errorf("unknown storage engine %q", c.StorageEngine)
	}

	switch c.MediaBackend {
	case MediaLocal:
		if c.MediaDir == "" {
			return fmt.Errorf("media directory cannot be empty")
		}
	case MediaS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 media requires a bucket")
		}
	default:
		return fmt.Errorf("unknown media backend %q", c.MediaBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka topic cannot be empty")
	}

	return nil
}
