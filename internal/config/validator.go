package config

import (
	"fmt"
	"net/url"
	"strings"

	"chatbridge/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateGateway(cfg.Gateway); err != nil {
		errs = append(errs, err)
	}

	if err := validateInbox(cfg.Inbox); err != nil {
		errs = append(errs, err)
	}

	if err := validateDedup(cfg.Dedup); err != nil {
		errs = append(errs, err)
	}

	if err := validatePolling(cfg.Polling); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateGateway(cfg GatewayConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "gateway.base_url",
			Message: "gateway base URL is required",
		}
	}
	if err := validateURL(cfg.BaseURL); err != nil {
		return &ValidationError{
			Field:   "gateway.base_url",
			Message: err.Error(),
		}
	}
	if cfg.Timeout <= 0 {
		return &ValidationError{
			Field:   "gateway.timeout",
			Message: "timeout must be positive",
		}
	}
	return nil
}

func validateInbox(cfg InboxConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "inbox.base_url",
			Message: "inbox base URL is required",
		}
	}
	if err := validateURL(cfg.BaseURL); err != nil {
		return &ValidationError{
			Field:   "inbox.base_url",
			Message: err.Error(),
		}
	}
	if cfg.AccountID == "" {
		return &ValidationError{
			Field:   "inbox.account_id",
			Message: "inbox account id is required",
		}
	}
	if cfg.InboxID == "" {
		return &ValidationError{
			Field:   "inbox.inbox_id",
			Message: "inbox channel id is required",
		}
	}
	if cfg.Token == "" {
		return &ValidationError{
			Field:   "inbox.token",
			Message: "inbox API token is required",
		}
	}
	return nil
}

func validateDedup(cfg DedupConfig) error {
	switch cfg.Store {
	case constants.DedupStoreMemory:
	case constants.DedupStoreRedis:
		if cfg.Redis.Host == "" {
			return &ValidationError{
				Field:   "dedup.redis.host",
				Message: "redis host is required when dedup.store is \"redis\"",
			}
		}
	default:
		return &ValidationError{
			Field:   "dedup.store",
			Message: fmt.Sprintf("store must be %q or %q, got %q", constants.DedupStoreMemory, constants.DedupStoreRedis, cfg.Store),
		}
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "dedup.ttl_seconds",
			Message: "TTL must be positive",
		}
	}

	if cfg.MaxEntries <= 0 {
		return &ValidationError{
			Field:   "dedup.max_entries",
			Message: "max entries must be positive",
		}
	}

	return nil
}

func validatePolling(cfg PollingConfig) error {
	if cfg.InboundInterval <= 0 {
		return &ValidationError{
			Field:   "polling.inbound_interval",
			Message: "inbound poll interval must be positive",
		}
	}
	if cfg.OutboundInterval <= 0 {
		return &ValidationError{
			Field:   "polling.outbound_interval",
			Message: "outbound poll interval must be positive",
		}
	}
	if cfg.ChatsPerTick <= 0 {
		return &ValidationError{
			Field:   "polling.chats_per_tick",
			Message: "chats per tick must be positive",
		}
	}
	if cfg.MessagesPerChat <= 0 {
		return &ValidationError{
			Field:   "polling.messages_per_chat",
			Message: "messages per chat must be positive",
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if !strings.HasPrefix(u.Scheme, "http") {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL host is empty")
	}
	return nil
}
