package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chatbridge/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.session", "GATEWAY_SESSION")
	viper.BindEnv("gateway.token", "GATEWAY_TOKEN")

	viper.BindEnv("inbox.base_url", "INBOX_BASE_URL")
	viper.BindEnv("inbox.internal_url", "INBOX_INTERNAL_URL")
	viper.BindEnv("inbox.account_id", "INBOX_ACCOUNT_ID")
	viper.BindEnv("inbox.inbox_id", "INBOX_INBOX_ID")
	viper.BindEnv("inbox.token", "INBOX_TOKEN")

	viper.BindEnv("dedup.store", "DEDUP_STORE")
	viper.BindEnv("dedup.ttl_seconds", "DEDUP_TTL_SECONDS")
	viper.BindEnv("dedup.redis.host", "DEDUP_REDIS_HOST")
	viper.BindEnv("dedup.redis.port", "DEDUP_REDIS_PORT")
	viper.BindEnv("dedup.redis.password", "DEDUP_REDIS_PASSWORD")
	viper.BindEnv("dedup.redis.db", "DEDUP_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("polling.boot_delay", "POLLING_BOOT_DELAY")
	viper.BindEnv("polling.inbound_interval", "POLLING_INBOUND_INTERVAL")
	viper.BindEnv("polling.outbound_interval", "POLLING_OUTBOUND_INTERVAL")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("gateway.timeout", constants.DefaultUpstreamTimeout)
	viper.SetDefault("inbox.timeout", constants.DefaultUpstreamTimeout)

	viper.SetDefault("dedup.store", constants.DedupStoreMemory)
	viper.SetDefault("dedup.ttl_seconds", int(constants.DedupTTL/time.Second))
	viper.SetDefault("dedup.max_entries", constants.DedupMaxEntries)

	viper.SetDefault("polling.boot_delay", constants.DefaultBootDelay)
	viper.SetDefault("polling.inbound_interval", constants.DefaultInboundInterval)
	viper.SetDefault("polling.outbound_interval", constants.DefaultOutboundInterval)
	viper.SetDefault("polling.chats_per_tick", constants.MaxChatsPerTick)
	viper.SetDefault("polling.messages_per_chat", constants.MessagesPerChat)
	viper.SetDefault("polling.staleness_window", constants.StalenessWindow)

	viper.SetDefault("logging.level", "info")
}
