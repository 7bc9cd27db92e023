package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/awa/go-iap/appstore"

	"github.com/code-payments/receipt-validator/iap"
)

const envPrefix = "RV_"

// Config holds the settings shared by the validate and serve commands.
type Config struct {
	BundleID     string `yaml:"bundle_id"`
	SharedSecret string `yaml:"shared_secret"`

	// Environment is the environment tried first: "production" or "sandbox".
	Environment   string        `yaml:"environment"`
	ProductionURL string        `yaml:"production_url"`
	SandboxURL    string        `yaml:"sandbox_url"`
	Timeout       time.Duration `yaml:"timeout"`

	// CacheTTL enables the response cache when positive.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DatabaseURL selects the postgres store. Empty uses memory.
	DatabaseURL string `yaml:"database_url"`

	// NatsURL selects the NATS publisher. Empty uses memory.
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`

	ListenAddr string `yaml:"listen_addr"`
}

func Default() *Config {
	return &Config{
		Environment:   iap.EnvironmentProduction.String(),
		ProductionURL: appstore.ProductionURL,
		SandboxURL:    appstore.SandboxURL,
		Timeout:       30 * time.Second,
		ListenAddr:    ":8085",
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty), a .env file in the working directory (when present) and RV_*
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open config file")
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env file")
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.Wrap(err, "failed to parse config")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	values := map[string]*string{
		"BUNDLE_ID":      &c.BundleID,
		"SHARED_SECRET":  &c.SharedSecret,
		"ENVIRONMENT":    &c.Environment,
		"PRODUCTION_URL": &c.ProductionURL,
		"SANDBOX_URL":    &c.SandboxURL,
		"DATABASE_URL":   &c.DatabaseURL,
		"NATS_URL":       &c.NatsURL,
		"NATS_SUBJECT":   &c.NatsSubject,
		"LISTEN_ADDR":    &c.ListenAddr,
	}
	for name, dst := range values {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":   &c.Timeout,
		"CACHE_TTL": &c.CacheTTL,
	}
	for name, dst := range durations {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s%s", envPrefix, name)
		}
		*dst = d
	}

	return nil
}

func (c *Config) Validate() error {
	if _, err := iap.ParseEnvironment(c.Environment); err != nil {
		return err
	}
	if c.ProductionURL == "" || c.SandboxURL == "" {
		return errors.New("production_url and sandbox_url are required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	return nil
}

// InitialEnvironment returns the parsed Environment setting.
func (c *Config) InitialEnvironment() iap.Environment {
	env, _ := iap.ParseEnvironment(c.Environment)
	return env
}
