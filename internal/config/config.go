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

type AppCfg struct {
	Name         string        `mapstructure:"name"`
	Env          string        `mapstructure:"env"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type MongoCfg struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	UserCollection string        `mapstructure:"user_collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTCfg struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

type FirebaseCfg struct {
	ProjectID         string        `mapstructure:"project_id"`
	CredentialsFile   string        `mapstructure:"credentials_file"`
	CredentialsBase64 string        `mapstructure:"credentials_base64"`
	APIKey            string        `mapstructure:"api_key"`
	LookupURL         string        `mapstructure:"lookup_url"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
}

type BrevoCfg struct {
	APIKey      string `mapstructure:"api_key"`
	SenderEmail string `mapstructure:"sender_email"`
	SenderName  string `mapstructure:"sender_name"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SecurityCfg struct {
	BcryptCost           int           `mapstructure:"bcrypt_cost"`
	VerificationTTL      time.Duration `mapstructure:"verification_ttl"`
	ResetTTL             time.Duration `mapstructure:"reset_ttl"`
	IPRateLimitPerMinute int           `mapstructure:"ip_rate_limit_per_minute"`
	TokenRequestsPerHour int           `mapstructure:"token_requests_per_hour"`
}

type Config struct {
	App      AppCfg      `mapstructure:"app"`
	Mongo    MongoCfg    `mapstructure:"mongo"`
	Redis    RedisCfg    `mapstructure:"redis"`
	JWT      JWTCfg      `mapstructure:"jwt"`
	Firebase FirebaseCfg `mapstructure:"firebase"`
	Brevo    BrevoCfg    `mapstructure:"brevo"`
	Kafka    KafkaCfg    `mapstructure:"kafka"`
	Security SecurityCfg `mapstructure:"security"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identity-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.base_url", "http://localhost:3000")
	v.SetDefault("app.read_timeout", 15*time.Second)
	v.SetDefault("app.write_timeout", 15*time.Second)
	v.SetDefault("app.idle_timeout", 60*time.Second)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "habits")
	v.SetDefault("mongo.user_collection", "users")
	v.SetDefault("mongo.connect_timeout", 15*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 30*24*time.Hour)
	v.SetDefault("jwt.issuer", "identity-service")

	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.credentials_base64", "")
	v.SetDefault("firebase.api_key", "")
	v.SetDefault("firebase.lookup_url", "")
	v.SetDefault("firebase.lookup_timeout", 5*time.Second)

	v.SetDefault("brevo.api_key", "")
	v.SetDefault("brevo.sender_email", "")
	v.SetDefault("brevo.sender_name", "Habits")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "identity.events")

	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.verification_ttl", 24*time.Hour)
	v.SetDefault("security.reset_ttl", time.Hour)
	v.SetDefault("security.ip_rate_limit_per_minute", 60)
	v.SetDefault("security.token_requests_per_hour", 5)
}

// Load reads .env, then the optional YAML file at path, then environment
// variables. Nested keys map to env names with "_" (MONGO_URI -> mongo.uri).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required (set in .env or config.yaml)")
	}
	if c.Mongo.URI == "" {
		return errors.New("MONGO_URI is required")
	}
	if c.Security.BcryptCost < 4 {
		c.Security.BcryptCost = 4
	}
	if c.Security.BcryptCost > 31 {
		c.Security.BcryptCost = 31
	}
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
	return nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
