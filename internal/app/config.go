package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL; empty runs on the in-memory backend" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for guest carts; empty keeps guest carts in memory" flag:"redis-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	Checkout     CheckoutConfig
	Pricing      PricingConfig
	Session      SessionConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// CheckoutConfig tunes the checkout flow shown to the customer.
type CheckoutConfig struct {
	FallbackMax     int           `default:"10" usage:"Quantity bound used when availability is unknown" flag:"fallback-max"`
	SlowNoticeAfter time.Duration `default:"3s" usage:"Delay before the slow operation notice" flag:"slow-notice-after"`
	TaxEstimateRate string        `default:"0.13" usage:"Tax rate of the provisional totals" flag:"tax-estimate-rate"`
}

// PricingConfig holds the server-side pricing parameters.
type PricingConfig struct {
	TaxRate        string `default:"0.13" usage:"Tax rate applied to authorizations" flag:"tax-rate"`
	FlatRegularFee string `default:"10.00" usage:"Regular shipping fee of the legacy quoter" flag:"flat-regular"`
	FlatExpressFee string `default:"20.00" usage:"Express shipping fee of the legacy quoter" flag:"flat-express"`
}

// SessionConfig controls in-memory session lifetime.
type SessionConfig struct {
	IdleTTL          time.Duration `default:"30m" usage:"Evict sessions idle for this long" flag:"session-idle-ttl"`
	SweepInterval    time.Duration `default:"1m" usage:"Idle session sweep interval" flag:"session-sweep"`
	QuoteDebounce    time.Duration `default:"150ms" usage:"Delay before a shipping quote is requested" flag:"quote-debounce"`
	MergeConcurrency int           `default:"4" usage:"Concurrent server adds when merging a guest cart" flag:"merge-concurrency"`
	GuestCartTTL     time.Duration `default:"720h" usage:"Lifetime of a stored guest cart" flag:"guest-cart-ttl"`
}

// RateLimitConfig controls the per-session token bucket rate limiter.
type RateLimitConfig struct {
	Rate    float64       `default:"10" usage:"Sustained requests per second per session"`
	Burst   int           `default:"40" usage:"Requests a session may issue at once"`
	IdleTTL time.Duration `default:"10m" usage:"Forget limiter state of idle sessions"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// pricing is the parsed decimal part of the configuration.
type pricing struct {
	taxRate         decimal.Decimal
	taxEstimateRate decimal.Decimal
	flatRegular     decimal.Decimal
	flatExpress     decimal.Decimal
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if _, err := cfg.pricing(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) pricing() (pricing, error) {
	var (
		p   pricing
		err error
	)
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"pricing.tax_rate", c.Pricing.TaxRate, &p.taxRate},
		{"pricing.flat_regular_fee", c.Pricing.FlatRegularFee, &p.flatRegular},
		{"pricing.flat_express_fee", c.Pricing.FlatExpressFee, &p.flatExpress},
		{"checkout.tax_estimate_rate", c.Checkout.TaxEstimateRate, &p.taxEstimateRate},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.value); err != nil {
			return pricing{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if f.dst.IsNegative() {
			return pricing{}, errors.Errorf("%s must not be negative", f.name)
		}
	}
	return p, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
