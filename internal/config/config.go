// Package config loads the helpdesk YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/helpdesk.yaml"

// Config maps the config file through YAML tags.
type Config struct {
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Queue struct {
		Name        string        `yaml:"name"`
		Concurrency int           `yaml:"concurrency"`
		TaskTimeout time.Duration `yaml:"task_timeout"` // 0 keeps the broker default
	} `yaml:"queue"`

	Results struct {
		Backend       string        `yaml:"backend"` // redis | sqlite | postgres
		DSN           string        `yaml:"dsn"`
		Retention     time.Duration `yaml:"retention"`
		PurgeSchedule string        `yaml:"purge_schedule"`
	} `yaml:"results"`

	Stores struct {
		Backend string `yaml:"backend"` // memory | redis
	} `yaml:"stores"`

	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	c := &Config{}
	c.Redis.URL = "redis://localhost:6379/0"
	c.Queue.Name = "default"
	c.Queue.Concurrency = 10
	c.Results.Backend = "redis"
	c.Results.DSN = "file:helpdesk.db?_pragma=busy_timeout(5000)"
	c.Results.Retention = 24 * time.Hour
	c.Results.PurgeSchedule = "@every 10m"
	c.Stores.Backend = "memory"
	c.OpenAI.Model = "gpt-3.5-turbo"
	c.HTTP.Addr = ":8000"
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"REDIS_URL":          &c.Redis.URL,
		"OPENAI_API_KEY":     &c.OpenAI.APIKey,
		"OPENAI_BASE_URL":    &c.OpenAI.BaseURL,
		"HELPDESK_HTTP_ADDR": &c.HTTP.Addr,
		"HELPDESK_LOG_LEVEL": &c.Log.Level,
	}
	for key, dst := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
}

func (c *Config) Validate() error {
	switch c.Results.Backend {
	case "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown results backend %q", c.Results.Backend)
	}
	switch c.Stores.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown stores backend %q", c.Stores.Backend)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.TaskTimeout < 0 {
		return fmt.Errorf("queue task_timeout must not be negative, got %s", c.Queue.TaskTimeout)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	return nil
}

// RedisOptions parses redis.url for go-redis.
func (c *Config) RedisOptions() (*redis.Options, error) {
	return redis.ParseURL(c.Redis.URL)
}

// AsynqRedisOpt converts redis.url for the broker.
func (c *Config) AsynqRedisOpt() (asynq.RedisClientOpt, error) {
	o, err := c.RedisOptions()
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}, nil
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// AsynqLogLevel maps the configured level onto asynq's levels.
func (c *Config) AsynqLogLevel() asynq.LogLevel {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return asynq.InfoLevel
	}
	switch {
	case lvl >= logrus.DebugLevel:
		return asynq.DebugLevel
	case lvl == logrus.InfoLevel:
		return asynq.InfoLevel
	case lvl == logrus.WarnLevel:
		return asynq.WarnLevel
	case lvl == logrus.ErrorLevel:
		return asynq.ErrorLevel
	default:
		return asynq.FatalLevel
	}
}
