package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Inbox          InboxConfig          `mapstructure:"inbox"`
	Dedup          DedupConfig          `mapstructure:"dedup"`
	Polling        PollingConfig        `mapstructure:"polling"`
	Relay          RelayConfig          `mapstructure:"relay"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GatewayConfig points at the WhatsApp-style messaging gateway.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Session string        `mapstructure:"session"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// InboxConfig points at the customer-conversation platform agents use.
// InternalURL is the address the bridge can actually reach; attachment
// URLs the platform hands out are built from its public hostname, which
// is frequently not routable from the bridge process.
type InboxConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	InternalURL string        `mapstructure:"internal_url"`
	AccountID   string        `mapstructure:"account_id"`
	InboxID     string        `mapstructure:"inbox_id"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type DedupConfig struct {
	Store      string      `mapstructure:"store"` // "memory" or "redis"
	TTLSeconds int         `mapstructure:"ttl_seconds"`
	MaxEntries int         `mapstructure:"max_entries"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PollingConfig struct {
	BootDelay        time.Duration `mapstructure:"boot_delay"`
	InboundInterval  time.Duration `mapstructure:"inbound_interval"`
	OutboundInterval time.Duration `mapstructure:"outbound_interval"`
	ChatsPerTick     int           `mapstructure:"chats_per_tick"`
	MessagesPerChat  int           `mapstructure:"messages_per_chat"`
	StalenessWindow  time.Duration `mapstructure:"staleness_window"`
}

// RelayConfig carries optional operator-defined CEL expressions; an
// inbound message matching any of them is dropped before relay.
type RelayConfig struct {
	IgnoreRules []string `mapstructure:"ignore_rules"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
