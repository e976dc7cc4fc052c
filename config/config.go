// Package config loads the runtime configuration shared by the tasksetu
// commands.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"tasksetu-api/activity"
	"tasksetu-api/storage"
)

// Config is the complete tasksetu configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// LocalMode keeps everything in memory; no Azure or Redis is needed.
	LocalMode bool `yaml:"local_mode"`
	Debug     bool `yaml:"debug"`

	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Activity ActivityConfig `yaml:"activity"`
	Feed     FeedConfig     `yaml:"feed"`
}

// StorageConfig names the Azure Storage account and its tables and queue.
type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	TasksTable       string `yaml:"tasks_table"`
	SubtasksTable    string `yaml:"subtasks_table"`
	ActivityTable    string `yaml:"activity_table"`
	ActivityQueue    string `yaml:"activity_queue"`
}

type RedisConfig struct {
	// ConnectionString is a redis:// URL or the Azure
	// "host:port,password=...,ssl=true" form.
	ConnectionString string        `yaml:"connection_string"`
	ActivityChannel  string        `yaml:"activity_channel"`
	TaskCacheTTL     time.Duration `yaml:"task_cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
}

type AuthConfig struct {
	Domain     string `yaml:"domain"`
	Audience   string `yaml:"audience"`
	TestMode   bool   `yaml:"test_mode"`
	TestSecret string `yaml:"test_secret"`
}

// ActivityConfig sizes the activity dispatcher.
type ActivityConfig struct {
	Workers        int           `yaml:"workers"`
	Buffer         int           `yaml:"buffer"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`
	AppendTimeout  time.Duration `yaml:"append_timeout"`
}

type FeedConfig struct {
	// IdleWait is how long the projector sleeps when the queue is empty.
	IdleWait time.Duration `yaml:"idle_wait"`
}

// DefaultConfig returns a Config with the defaults used when neither the
// file nor the environment set a value.
func DefaultConfig() *Config {
	d := activity.DefaultDispatcherConfig()
	return &Config{
		ListenAddr: ":8080",
		Storage: StorageConfig{
			TasksTable:    "Tasks",
			SubtasksTable: "Subtasks",
			ActivityTable: "TaskActivity",
			ActivityQueue: "task-activity",
		},
		Redis: RedisConfig{
			ActivityChannel: "task-activity",
			TaskCacheTTL:    5 * time.Minute,
			DeduperTTL:      24 * time.Hour,
		},
		Activity: ActivityConfig{
			Workers:        d.Workers,
			Buffer:         d.Buffer,
			HandoffTimeout: d.HandoffTimeout,
			AppendTimeout:  d.AppendTimeout,
		},
		Feed: FeedConfig{IdleWait: time.Second},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and finally the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORAGE_CONNECTION_STRING": &c.Storage.ConnectionString,
		"TASKS_TABLE":               &c.Storage.TasksTable,
		"SUBTASKS_TABLE":            &c.Storage.SubtasksTable,
		"ACTIVITY_TABLE":            &c.Storage.ActivityTable,
		"ACTIVITY_QUEUE":            &c.Storage.ActivityQueue,
		"REDIS_CONNECTION_STRING":   &c.Redis.ConnectionString,
		"ACTIVITY_CHANNEL":          &c.Redis.ActivityChannel,
		"AUTH0_DOMAIN":              &c.Auth.Domain,
		"AUTH0_AUDIENCE":            &c.Auth.Audience,
		"TEST_JWT_SECRET":           &c.Auth.TestSecret,
		"LISTEN_ADDR":               &c.ListenAddr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.ListenAddr = ":" + port
	}

	var errs []error
	ints := map[string]*int{
		"ACTIVITY_WORKERS": &c.Activity.Workers,
		"ACTIVITY_BUFFER":  &c.Activity.Buffer,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				continue
			}
			*dst = n
		}
	}
	durations := map[string]*time.Duration{
		"TASK_CACHE_TTL":           &c.Redis.TaskCacheTTL,
		"DEDUPER_TTL":              &c.Redis.DeduperTTL,
		"ACTIVITY_HANDOFF_TIMEOUT": &c.Activity.HandoffTimeout,
		"ACTIVITY_APPEND_TIMEOUT":  &c.Activity.AppendTimeout,
		"FEED_IDLE_WAIT":           &c.Feed.IdleWait,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				continue
			}
			*dst = d
		}
	}
	bools := map[string]*bool{
		"AUTH0_TEST_MODE": &c.Auth.TestMode,
		"LOCAL_MODE":      &c.LocalMode,
		"DEBUG":           &c.Debug,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				continue
			}
			*dst = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Activity.Workers <= 0 {
		errs = append(errs, errors.New("activity.workers must be greater than zero"))
	}
	if c.Activity.Buffer < 0 {
		errs = append(errs, errors.New("activity.buffer must not be negative"))
	}
	if c.Activity.HandoffTimeout <= 0 {
		errs = append(errs, errors.New("activity.handoff_timeout must be positive"))
	}
	if c.Activity.AppendTimeout <= 0 {
		errs = append(errs, errors.New("activity.append_timeout must be positive"))
	}
	if c.Redis.DeduperTTL <= 0 {
		errs = append(errs, errors.New("redis.deduper_ttl must be positive"))
	}
	if c.Redis.TaskCacheTTL <= 0 {
		errs = append(errs, errors.New("redis.task_cache_ttl must be positive"))
	}
	if c.Feed.IdleWait <= 0 {
		errs = append(errs, errors.New("feed.idle_wait must be positive"))
	}
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			errs = append(errs, errors.New("auth.test_secret is required in test mode"))
		}
	} else if c.Auth.Domain == "" || c.Auth.Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	if !c.LocalMode {
		s := c.Storage
		if s.ConnectionString == "" || s.TasksTable == "" || s.SubtasksTable == "" || s.ActivityTable == "" || s.ActivityQueue == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
		if c.Redis.ConnectionString == "" {
			errs = append(errs, errors.New("missing redis config"))
		}
		if c.Redis.ActivityChannel == "" {
			errs = append(errs, errors.New("redis.activity_channel is required"))
		}
	}
	return errors.Join(errs...)
}

// StorageNames returns the table and queue names for storage.New.
func (c *Config) StorageNames() storage.Names {
	return storage.Names{
		Tasks:         c.Storage.TasksTable,
		Subtasks:      c.Storage.SubtasksTable,
		Activity:      c.Storage.ActivityTable,
		ActivityQueue: c.Storage.ActivityQueue,
	}
}

func (c *Config) DispatcherConfig() activity.DispatcherConfig {
	return activity.DispatcherConfig{
		Workers:        c.Activity.Workers,
		Buffer:         c.Activity.Buffer,
		HandoffTimeout: c.Activity.HandoffTimeout,
		AppendTimeout:  c.Activity.AppendTimeout,
	}
}

// RedisOptions parses Redis.ConnectionString.
func (c *Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.Redis.ConnectionString)
}

// ParseRedis accepts a redis:// URL or an Azure Cache for Redis connection
// string such as "name.redis.cache.windows.net:6380,password=...,ssl=True".
func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
