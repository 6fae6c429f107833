package monitor_engine_config

import (
	"time"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	"github.com/NordCoder/Pulsewatch/internal/notify"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	"github.com/NordCoder/Pulsewatch/internal/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
	"github.com/NordCoder/Pulsewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pulsewatch/internal/repository/postgres"
	"github.com/NordCoder/Pulsewatch/internal/repository/redis"
)

const (
	CacheRedis    = "redis"
	CachePostgres = "postgres"
	CacheMemory   = "memory"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
	// Instance identifies this process in lock values and cross-instance commands.
	// A random id is used when empty.
	Instance string `mapstructure:"instance"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// AsOTELConfig must be called after the instance id is settled.
func (c *Config) AsOTELConfig() obs.OTELConfig {
	name := c.OTEL.ServiceName
	if name == "" {
		name = c.App.Name
	}
	return obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.OTLPEndpoint,
		SampleRatio: c.OTEL.SampleRatio,
		ServiceName: name,
		Version:     c.App.Version,
		Env:         c.App.Env,
		Instance:    c.App.Instance,
	}
}

type Log struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		App:        c.App.Name,
		Env:        c.App.Env,
		Ver:        c.App.Version,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

type Cache struct {
	Backend    string        `mapstructure:"backend"`
	StateTTL   time.Duration `mapstructure:"state_ttl"`
	PurgeEvery time.Duration `mapstructure:"purge_every"`
}

type Kafka struct {
	Enable        bool     `mapstructure:"enable"`
	Brokers       []string `mapstructure:"brokers"`
	EventsTopic   string   `mapstructure:"events_topic"`
	CommandsTopic string   `mapstructure:"commands_topic"`
	GroupPrefix   string   `mapstructure:"group_prefix"`
	Partitions    int      `mapstructure:"partitions"`
}

// AsCommandsConsumerConfig gives every instance its own group so each one
// sees every command.
func (k *Kafka) AsCommandsConsumerConfig(instance string) *kafka.ConsumerConfig {
	return &kafka.ConsumerConfig{
		Brokers: k.Brokers,
		GroupID: k.GroupPrefix + "-" + instance,
		Topic:   k.CommandsTopic,
	}
}

func (k *Kafka) EventsTopicSpec() kafka.TopicSpec {
	return kafka.TopicSpec{Name: k.EventsTopic, NumPartitions: k.Partitions, ReplicationFactor: 1}
}

func (k *Kafka) CommandsTopicSpec() kafka.TopicSpec {
	return kafka.TopicSpec{Name: k.CommandsTopic, NumPartitions: 1, ReplicationFactor: 1}
}

type Bus struct {
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type Engine struct {
	CycleLockTimeout time.Duration `mapstructure:"cycle_lock_timeout"`
	PushLockTimeout  time.Duration `mapstructure:"push_lock_timeout"`
	LockRetryEvery   time.Duration `mapstructure:"lock_retry_every"`
	LockMaxRetries   int           `mapstructure:"lock_max_retries"`
}

func (e *Engine) CycleLock() cache.LockOptions {
	o := cache.DefaultLockOptions()
	if e.CycleLockTimeout > 0 {
		o.Timeout = e.CycleLockTimeout
	}
	return o
}

func (e *Engine) PushLock() cache.LockOptions {
	o := cache.DefaultLockOptions()
	o.SkipOnFailure = false
	if e.PushLockTimeout > 0 {
		o.Timeout = e.PushLockTimeout
	}
	if e.LockRetryEvery > 0 {
		o.RetryInterval = e.LockRetryEvery
	}
	if e.LockMaxRetries > 0 {
		o.MaxRetries = e.LockMaxRetries
	}
	return o
}

type HTTPProbe struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
}

func (h *HTTPProbe) AsClientConfig() provider.HTTPClientConfig {
	return provider.HTTPClientConfig{Timeout: h.Timeout, UserAgent: h.UserAgent, VerifyTLS: h.VerifyTLS}
}

type DNSProbe struct {
	Resolver string `mapstructure:"resolver"`
}

type Script struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CallStack int           `mapstructure:"call_stack"`
	Registry  int           `mapstructure:"registry"`
}

func (s *Script) AsScriptConfig() provider.ScriptConfig {
	return provider.ScriptConfig{Enabled: s.Enabled, Timeout: s.Timeout, CallStack: s.CallStack, Registry: s.Registry}
}

type Notify struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ResendAPIKey  string        `mapstructure:"resend_api_key"`
	ResendFrom    string        `mapstructure:"resend_from"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
}

func (n *Notify) AsRetryConfig() notify.RetryConfig {
	return notify.RetryConfig{MaxRetries: n.MaxRetries, BaseDelay: n.BaseDelay, MaxDelay: n.MaxDelay}
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

func (o *Outbox) AsOptions() outbox.Options {
	return outbox.Options{
		Workers:       o.Workers,
		BatchSize:     o.BatchSize,
		Poll:          o.WaitTime,
		InProgressTTL: o.InProgressTTL,
	}
}

type Config struct {
	App    App          `mapstructure:"app"`
	Server Server       `mapstructure:"server"`
	DB     pg.Config    `mapstructure:"db"`
	Redis  redis.Config `mapstructure:"redis"`
	Cache  Cache        `mapstructure:"cache"`
	Kafka  Kafka        `mapstructure:"kafka"`
	Bus    Bus          `mapstructure:"bus"`
	Engine Engine       `mapstructure:"engine"`
	HTTP   HTTPProbe    `mapstructure:"http"`
	DNS    DNSProbe     `mapstructure:"dns"`
	Script Script       `mapstructure:"script"`
	Notify Notify       `mapstructure:"notify"`
	Outbox Outbox       `mapstructure:"outbox"`
	OTEL   OTEL         `mapstructure:"otel"`
	Log    Log          `mapstructure:"log"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
