package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                  string   `envconfig:"PORT" default:"8080"`
	AllowedOrigin         string   `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL           string   `envconfig:"DATABASE_URL"`
	RedisAddr             string   `envconfig:"REDIS_ADDR"`
	RedisPassword         string   `envconfig:"REDIS_PASSWORD"`
	RedisDB               int      `envconfig:"REDIS_DB" default:"0"`
	Partner               string   `envconfig:"DEFAULT_PARTNER" default:"edx"`
	OrderNumberPrefix     string   `envconfig:"ORDER_NUMBER_PREFIX" default:"EDX"`
	AuthSecret            string   `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int      `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	ManagerPIN            string   `envconfig:"MANAGER_PIN"`
	LogLevel              string   `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty             bool     `envconfig:"LOG_PRETTY" default:"false"`
	JaegerEndpoint        string   `envconfig:"JAEGER_ENDPOINT"`
	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic            string   `envconfig:"KAFKA_TOPIC" default:"commerce-events"`
	ConfigFile            string   `envconfig:"CONFIG_FILE"`

	Upstream    UpstreamConfig    `ignored:"true"`
	Offers      OfferConfig       `ignored:"true"`
	Fulfillment FulfillmentConfig `ignored:"true"`
}

type UpstreamConfig struct {
	CatalogURL     string `yaml:"catalog_url"`
	EnterpriseURL  string `yaml:"enterprise_url"`
	EnrollmentURL  string `yaml:"enrollment_url"`
	PaymentURL     string `yaml:"payment_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type OfferConfig struct {
	Switches                  map[string]bool `yaml:"switches"`
	LookupCacheTTLSeconds     int             `yaml:"lookup_cache_ttl_seconds"`
	AllowedSeatTypes          []string        `yaml:"allowed_seat_types"`
	ManualEnrollmentSeatTypes []string        `yaml:"manual_enrollment_seat_types"`
}

type FulfillmentConfig struct {
	Modules []string `yaml:"modules"`
}

type fileConfig struct {
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Offers      OfferConfig       `yaml:"offers"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}

	cfg.Upstream = UpstreamConfig{
		CatalogURL:    os.Getenv("CATALOG_API_URL"),
		EnterpriseURL: os.Getenv("ENTERPRISE_API_URL"),
		EnrollmentURL: os.Getenv("ENROLLMENT_API_URL"),
		PaymentURL:    os.Getenv("PAYMENT_API_URL"),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	// Environment wins over the file for upstream endpoints.
	c.Upstream.CatalogURL = firstNonEmpty(c.Upstream.CatalogURL, file.Upstream.CatalogURL)
	c.Upstream.EnterpriseURL = firstNonEmpty(c.Upstream.EnterpriseURL, file.Upstream.EnterpriseURL)
	c.Upstream.EnrollmentURL = firstNonEmpty(c.Upstream.EnrollmentURL, file.Upstream.EnrollmentURL)
	c.Upstream.PaymentURL = firstNonEmpty(c.Upstream.PaymentURL, file.Upstream.PaymentURL)
	c.Upstream.TimeoutSeconds = file.Upstream.TimeoutSeconds
	c.Offers = file.Offers
	c.Fulfillment = file.Fulfillment
	return nil
}

func (c *Config) applyDefaults() {
	if c.Upstream.TimeoutSeconds < 1 {
		c.Upstream.TimeoutSeconds = 5
	}
	if c.Offers.LookupCacheTTLSeconds < 1 {
		c.Offers.LookupCacheTTLSeconds = 3600
	}
	if c.Offers.Switches == nil {
		c.Offers.Switches = map[string]bool{}
	}
	if len(c.Fulfillment.Modules) == 0 {
		c.Fulfillment.Modules = []string{"enrollment", "enrollment_code", "donation"}
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
