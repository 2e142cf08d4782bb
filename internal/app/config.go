package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/planthub/internal/domain/order"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PLANTHUB_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage  StorageConfig
	Order    OrderConfig
	Signal   SignalConfig
	CORS     CORSConfig
	Graceful GracefulConfig
}

// StorageConfig selects the catalog and order store.
type StorageConfig struct {
	Driver      string `default:"memory" usage:"Backing store: memory or postgres"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PLANTHUB_STORAGE_DATABASE_URL or DATABASE_URL)"`
	SeedFile    string `usage:"Catalog JSON, optionally gzipped; the memory driver loads the embedded catalog when empty"`
}

// OrderConfig bounds the commit retry loop.
type OrderConfig struct {
	CommitTimeout  time.Duration `default:"5s" usage:"Deadline for one order commit including retries"`
	MaxAttempts    int           `default:"5" usage:"Transactions tried per order before giving up"`
	InitialBackoff time.Duration `default:"10ms" usage:"First retry delay after a write conflict"`
	MaxBackoff     time.Duration `default:"200ms" usage:"Largest retry delay"`
}

// SignalConfig configures where stock-changed events are published. Empty
// addresses disable the corresponding publisher.
type SignalConfig struct {
	KafkaBrokers []string `usage:"Kafka brokers for stock-changed events"`
	KafkaTopic   string   `default:"planthub.stock-changed" usage:"Kafka topic for stock-changed events"`
	KafkaBuffer  int      `default:"1024" usage:"Pending events buffered before publishing fails fast"`
	RedisAddr    string   `usage:"Redis address for stock-changed pub/sub"`
	RedisChannel string   `default:"planthub:stock-changed" usage:"Redis pub/sub channel"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string      `default:"*" usage:"Allowed CORS origins"`
	MaxAge  time.Duration `default:"24h" usage:"How long browsers may cache a preflight"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// OrderService converts the section to the order service config.
func (c OrderConfig) OrderService() order.Config {
	return order.Config{
		CommitTimeout:  c.CommitTimeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}

// LoadConfig loads configuration from environment variables, flags, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "PLANTHUB",
		Files:     []string{"config.yaml", "/etc/planthub/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot start the server.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres driver: set PLANTHUB_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Order.MaxAttempts < 1 {
		return errors.Errorf("order max attempts must be positive, got %d", c.Order.MaxAttempts)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PLANTHUB_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Storage.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
