package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openmod-tracker/assume/internal/market"
	"github.com/openmod-tracker/assume/internal/tier"
)

// Defaults applied when the YAML leaves a field unset. Price bounds follow
// the usual day-ahead limits; the residual epsilon of 1 MW is the threshold
// below which a leftover is not worth re-submitting.
const (
	DefaultMaxPrice        = 3000.0
	DefaultMinPrice        = -500.0
	DefaultResidualEpsilon = 1.0
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Markets []MarketConfig `yaml:"markets"`
	API     APIConfig      `yaml:"api"`
}

// MarketConfig declares one tier of the market hierarchy.
type MarketConfig struct {
	ID     string `yaml:"id"`
	Parent string `yaml:"parent"` // empty = root tier

	// OpeningDuration is how long the tier's book stays open; for dependent
	// tiers it doubles as the deadline on the wait for the parent's result.
	OpeningDuration Duration `yaml:"opening_duration"`

	MaxPrice        float64  `yaml:"max_price"`
	MinPrice        float64  `yaml:"min_price"`
	ResidualEpsilon *float64 `yaml:"residual_epsilon"`

	Products []ProductConfig `yaml:"products"`
}

// ProductConfig declares how the tier generates delivery windows per round.
type ProductConfig struct {
	Duration      Duration `yaml:"duration"`
	Count         int      `yaml:"count"`
	FirstDelivery Duration `yaml:"first_delivery"`
	OnlyHours     bool     `yaml:"only_hours"`
}

type APIConfig struct {
	Port string `yaml:"port"`
}

// Duration wraps time.Duration for YAML ("30m", "2h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads the raw config without defaults or validation. Useful
// for debugging partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadEnv applies environment overrides on top of the file config.
// Priority: ENV > .env file > YAML > defaults.
func (c *Config) LoadEnv(envPath string) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
	if port := os.Getenv("ASSUME_API_PORT"); port != "" {
		c.API.Port = port
	}
	if eps := os.Getenv("ASSUME_RESIDUAL_EPSILON"); eps != "" {
		if v, err := strconv.ParseFloat(eps, 64); err == nil {
			for i := range c.Markets {
				c.Markets[i].ResidualEpsilon = &v
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	for i := range c.Markets {
		m := &c.Markets[i]
		if m.MaxPrice == 0 {
			m.MaxPrice = DefaultMaxPrice
		}
		if m.MinPrice == 0 {
			m.MinPrice = DefaultMinPrice
		}
		if m.ResidualEpsilon == nil {
			eps := DefaultResidualEpsilon
			m.ResidualEpsilon = &eps
		}
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	byID := make(map[string]*MarketConfig, len(c.Markets))
	for i := range c.Markets {
		m := &c.Markets[i]
		if m.ID == "" {
			return errors.New("market id is required")
		}
		if _, dup := byID[m.ID]; dup {
			return fmt.Errorf("market %q: duplicate id", m.ID)
		}
		byID[m.ID] = m
	}
	for _, m := range c.Markets {
		if m.Parent != "" {
			if _, ok := byID[m.Parent]; !ok {
				return fmt.Errorf("market %q: unknown parent %q", m.ID, m.Parent)
			}
		}
		if m.OpeningDuration <= 0 {
			return fmt.Errorf("market %q: opening_duration must be > 0", m.ID)
		}
		if m.MinPrice >= m.MaxPrice {
			return fmt.Errorf("market %q: min_price must be below max_price", m.ID)
		}
		if m.ResidualEpsilon != nil && *m.ResidualEpsilon < 0 {
			return fmt.Errorf("market %q: residual_epsilon must be >= 0", m.ID)
		}
		if len(m.Products) == 0 {
			return fmt.Errorf("market %q: at least one product is required", m.ID)
		}
		for _, p := range m.Products {
			if p.Duration <= 0 {
				return fmt.Errorf("market %q: product duration must be > 0", m.ID)
			}
			if p.Count <= 0 {
				return fmt.Errorf("market %q: product count must be > 0", m.ID)
			}
		}
	}
	// Walking parents from every market must terminate at a root.
	for _, m := range c.Markets {
		seen := map[string]bool{}
		for cur := m; cur.Parent != ""; cur = *byID[cur.Parent] {
			if seen[cur.ID] {
				return fmt.Errorf("market %q: hierarchy contains a cycle", m.ID)
			}
			seen[cur.ID] = true
		}
	}
	return nil
}

func (c *Config) Market(id string) (*MarketConfig, bool) {
	for i := range c.Markets {
		if c.Markets[i].ID == id {
			return &c.Markets[i], true
		}
	}
	return nil, false
}

// TierParams converts a market declaration into tier parameters.
func (m MarketConfig) TierParams() tier.Params {
	specs := make([]market.ProductSpec, 0, len(m.Products))
	for _, p := range m.Products {
		specs = append(specs, market.ProductSpec{
			Duration:      p.Duration.Std(),
			Count:         p.Count,
			FirstDelivery: p.FirstDelivery.Std(),
			OnlyHours:     p.OnlyHours,
		})
	}
	return tier.Params{
		ID:              m.ID,
		ParentID:        m.Parent,
		Products:        specs,
		MinPrice:        m.MinPrice,
		MaxPrice:        m.MaxPrice,
		OpeningDuration: m.OpeningDuration.Std(),
	}
}

// Epsilon returns the market's residual significance threshold.
func (m MarketConfig) Epsilon() float64 {
	if m.ResidualEpsilon == nil {
		return DefaultResidualEpsilon
	}
	return *m.ResidualEpsilon
}
