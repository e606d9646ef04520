package bridge

import (
	"context"
	"sync"
	"time"

	"chatbridge/internal/config"
	"chatbridge/internal/constants"
	"chatbridge/internal/gateway"
	"chatbridge/internal/logger"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/metrics"
)

// InboundPoller periodically scans the gateway for chats with unread
// messages. Documented gateway behavior is that webhook push does not
// reliably fire, so this loop is the primary inbound delivery path in
// practice; the webhook is a latency optimization when it does arrive.
// The shared dedup store reconciles the two.
type InboundPoller struct {
	gateway *gateway.Client
	service *InboundService
	cfg     config.PollingConfig
	logger  logger.Logger

	mu         sync.Mutex
	watermarks map[string]int64 // chat id -> newest relayed timestamp (seconds)
}

func NewInboundPoller(gw *gateway.Client, service *InboundService, cfg config.PollingConfig, log logger.Logger) *InboundPoller {
	if cfg.InboundInterval <= 0 {
		cfg.InboundInterval = constants.DefaultInboundInterval
	}
	if cfg.ChatsPerTick <= 0 {
		cfg.ChatsPerTick = constants.MaxChatsPerTick
	}
	if cfg.MessagesPerChat <= 0 {
		cfg.MessagesPerChat = constants.MessagesPerChat
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = constants.StalenessWindow
	}

	return &InboundPoller{
		gateway:    gw,
		service:    service,
		cfg:        cfg,
		logger:     log,
		watermarks: make(map[string]int64),
	}
}

// Run blocks until ctx is cancelled. The initial boot delay gives the
// gateway client time to finish connecting its session.
func (p *InboundPoller) Run(ctx context.Context) error {
	select {
	case <-time.After(p.cfg.BootDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Infow("Inbound poller started",
		"interval", p.cfg.InboundInterval.String(),
		"chats_per_tick", p.cfg.ChatsPerTick,
	)

	ticker := time.NewTicker(p.cfg.InboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *InboundPoller) tick(ctx context.Context) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.ObservePollTick("inbound", status, time.Since(start))
	}()

	chats, err := p.gateway.ListChats(ctx)
	if err != nil {
		status = "error"
		p.logger.WarnwCtx(ctx, "Inbound poll tick failed to list chats",
			"error", err,
		)
		return
	}

	processed := 0
	for i := range chats {
		if processed >= p.cfg.ChatsPerTick {
			break
		}
		chat := &chats[i]
		if chat.IsGroupChat() || chat.UnreadCount == 0 {
			continue
		}
		processed++
		p.processChat(ctx, chat.ID.String())
	}
}

func (p *InboundPoller) processChat(ctx context.Context, chatID string) {
	messages, err := p.gateway.ListMessages(ctx, chatID, p.cfg.MessagesPerChat)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to fetch chat messages",
			"chat_id", chatID,
			"error", err,
		)
		return
	}

	cutoff := time.Now().Add(-p.cfg.StalenessWindow).Unix()
	watermark := p.watermark(chatID)
	newest := watermark

	// The batch arrives oldest-first; relaying in listing order preserves
	// in-chat order. The watermark only advances over messages that
	// relayed cleanly: a failed message freezes it so the next tick
	// retries from there, with the dedup store absorbing the re-fetch of
	// anything that did go through.
	advancing := true
	for i := range messages {
		msg := messages[i]
		if msg.FromMe || msg.Timestamp < cutoff || msg.Timestamp <= watermark {
			continue
		}
		if !p.relayOne(ctx, msg) {
			advancing = false
		}
		if advancing && msg.Timestamp > newest {
			newest = msg.Timestamp
		}
	}

	p.advance(chatID, newest)
}

// relayOne isolates a single message: a panic or error in one message
// never aborts the rest of the batch. Returns false when the relay
// errored and the message should stay eligible for the next tick.
func (p *InboundPoller) relayOne(ctx context.Context, msg gateway.EventMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic while relaying polled message",
				"message_id", msg.ID.String(),
				"error", err,
			)
			ok = false
		}
	}()

	outcome, err := p.service.Relay(ctx, msg, "poll")
	if err != nil {
		p.logger.WarnwCtx(ctx, "Polled message relay failed",
			"message_id", msg.ID.String(),
			"status", outcome.Status,
			"error", err,
		)
		return false
	}
	return true
}

func (p *InboundPoller) watermark(chatID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks[chatID]
}

func (p *InboundPoller) advance(chatID string, ts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts > p.watermarks[chatID] {
		p.watermarks[chatID] = ts
	}
}
