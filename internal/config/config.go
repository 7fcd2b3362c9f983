package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment     string                `mapstructure:"environment"`
	Server          ServerConfig          `mapstructure:"server"`
	DB              DBConfig              `mapstructure:"db"`
	Auth            AuthConfig            `mapstructure:"auth"`
	Webhook         WebhookConfig         `mapstructure:"webhook"`
	Storage         StorageConfig         `mapstructure:"storage"`
	Recognizer      RecognizerConfig      `mapstructure:"recognizer"`
	PlateRecognizer PlateRecognizerConfig `mapstructure:"plate_recognizer"`
	Rekognition     RekognitionConfig     `mapstructure:"rekognition"`
	Ingest          IngestConfig          `mapstructure:"ingest"`
	Log             LogConfig             `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type WebhookConfig struct {
	// Token is optional; when set, webhook deliveries must present it.
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	// Backend is "s3" or "local".
	Backend      string        `mapstructure:"backend"`
	Bucket       string        `mapstructure:"bucket"`
	Region       string        `mapstructure:"region"`
	Endpoint     string        `mapstructure:"endpoint"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	UsePathStyle bool          `mapstructure:"use_path_style"`
	LocalDir     string        `mapstructure:"local_dir"`
	PublicURL    string        `mapstructure:"public_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxImageSize int64         `mapstructure:"max_image_size"`
	// AllowPrivateFetch lets image URLs point at internal addresses.
	AllowPrivateFetch bool `mapstructure:"allow_private_fetch"`
}

type PlateRecognizerConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIToken string        `mapstructure:"api_token"`
	Regions  []string      `mapstructure:"regions"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Consecutive failures before the breaker opens.
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type RecognizerConfig struct {
	// Backend is "platerecognizer" or "rekognition".
	Backend string `mapstructure:"backend"`
}

// RekognitionConfig drives the AWS Rekognition text-detection backend.
type RekognitionConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	// PlatePattern is matched against normalized text lines.
	PlatePattern  string  `mapstructure:"plate_pattern"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type IngestConfig struct {
	// AttributePolicy is "fill" or "overwrite".
	AttributePolicy string        `mapstructure:"attribute_policy"`
	CameraCacheTTL  time.Duration `mapstructure:"camera_cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	AttributePolicyFill      = "fill"
	AttributePolicyOverwrite = "overwrite"

	RecognizerPlateRecognizer = "platerecognizer"
	RecognizerRekognition     = "rekognition"
)

// Load reads configuration from an optional .env file, an optional config
// file and ANPR_-prefixed environment variables, in increasing precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/traffic-anpr")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "host=localhost port=5432 user=anpr password=anpr dbname=traffic sslmode=disable")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "traffic-anpr")

	v.SetDefault("webhook.token", "")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.region", "me-south-1")
	v.SetDefault("storage.local_dir", "./data/blobs")
	v.SetDefault("storage.public_url", "http://localhost:8080/blobs")
	v.SetDefault("storage.fetch_timeout", 15*time.Second)
	v.SetDefault("storage.max_image_size", 10<<20)
	v.SetDefault("storage.allow_private_fetch", false)

	v.SetDefault("plate_recognizer.base_url", "https://api.platerecognizer.com/v1")
	v.SetDefault("plate_recognizer.regions", []string{"sa"})
	v.SetDefault("plate_recognizer.timeout", 30*time.Second)
	v.SetDefault("plate_recognizer.breaker_threshold", 5)
	v.SetDefault("plate_recognizer.breaker_timeout", time.Minute)

	v.SetDefault("recognizer.backend", RecognizerPlateRecognizer)
	v.SetDefault("rekognition.region", "me-south-1")
	v.SetDefault("rekognition.plate_pattern", `^([0-9]{1,4}[A-Z]{1,3}|[A-Z]{1,3}[0-9]{1,4})$`)
	v.SetDefault("rekognition.min_confidence", 80.0)

	v.SetDefault("ingest.attribute_policy", AttributePolicyFill)
	v.SetDefault("ingest.camera_cache_ttl", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DB.Driver)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("config: storage.local_dir is required for local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("config: storage.bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("config: unsupported storage backend %q", c.Storage.Backend)
	}

	switch c.Recognizer.Backend {
	case RecognizerPlateRecognizer, RecognizerRekognition:
	default:
		return fmt.Errorf("config: unsupported recognizer backend %q", c.Recognizer.Backend)
	}

	switch c.Ingest.AttributePolicy {
	case AttributePolicyFill, AttributePolicyOverwrite:
	default:
		return fmt.Errorf("config: unsupported ingest.attribute_policy %q", c.Ingest.AttributePolicy)
	}

	if c.Ingest.CameraCacheTTL < 0 {
		return errors.New("config: ingest.camera_cache_ttl must not be negative")
	}

	if c.Environment == "production" {
		if c.Auth.JWTSecret == "" {
			return errors.New("config: auth.jwt_secret is required in production")
		}
		if c.Webhook.Token == "" {
			return errors.New("config: webhook.token is required in production")
		}
	}
	return nil
}
