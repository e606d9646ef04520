package bridge

import (
	"context"
	"sync"
	"time"

	"chatbridge/internal/config"
	"chatbridge/internal/constants"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/metrics"
)

// OutboundPoller scans open inbox conversations for newly created
// outgoing messages that carry attachments. The inbox platform does not
// fire a webhook for an attachment-only send; this loop exists purely
// to cover that gap. Messages the webhook path already relayed are
// suppressed by the shared outbound dedup store.
type OutboundPoller struct {
	inbox   *inbox.Client
	service *OutboundService
	cfg     config.PollingConfig
	logger  logger.Logger

	mu         sync.Mutex
	watermarks map[int]int64 // conversation id -> highest inspected message id
}

func NewOutboundPoller(ib *inbox.Client, service *OutboundService, cfg config.PollingConfig, log logger.Logger) *OutboundPoller {
	if cfg.OutboundInterval <= 0 {
		cfg.OutboundInterval = constants.DefaultOutboundInterval
	}

	return &OutboundPoller{
		inbox:      ib,
		service:    service,
		cfg:        cfg,
		logger:     log,
		watermarks: make(map[int]int64),
	}
}

func (p *OutboundPoller) Run(ctx context.Context) error {
	select {
	case <-time.After(p.cfg.BootDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Infow("Outbound poller started",
		"interval", p.cfg.OutboundInterval.String(),
	)

	ticker := time.NewTicker(p.cfg.OutboundInterval)
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

func (p *OutboundPoller) tick(ctx context.Context) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.ObservePollTick("outbound", status, time.Since(start))
	}()

	conversations, err := p.inbox.ListOpenConversations(ctx)
	if err != nil {
		status = "error"
		p.logger.WarnwCtx(ctx, "Outbound poll tick failed to list conversations",
			"error", err,
		)
		return
	}

	for i := range conversations {
		p.processConversation(ctx, conversations[i].ID)
	}
}

func (p *OutboundPoller) processConversation(ctx context.Context, conversationID int) {
	messages, err := p.inbox.ListMessages(ctx, conversationID)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to list conversation messages",
			"conversation_id", conversationID,
			"error", err,
		)
		return
	}

	watermark := p.watermark(conversationID)
	newest := watermark
	first := watermark == 0

	for i := range messages {
		msg := messages[i]
		if msg.ID <= watermark {
			continue
		}
		if msg.ID > newest {
			newest = msg.ID
		}
		// On the first pass the watermark is empty; everything already
		// in the conversation is history, not new activity.
		if first {
			continue
		}
		if !msg.IsOutgoing() || len(msg.Attachments) == 0 {
			continue
		}
		p.relayOne(ctx, conversationID, msg)
	}

	p.advance(conversationID, newest)
}

func (p *OutboundPoller) relayOne(ctx context.Context, conversationID int, msg inbox.MessageRecord) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic while relaying polled outgoing message",
				"inbox_message_id", msg.ID,
				"error", err,
			)
		}
	}()

	outcome, err := p.service.RelayRecord(ctx, conversationID, msg)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Polled outgoing message relay failed",
			"inbox_message_id", msg.ID,
			"status", outcome.Status,
			"error", err,
		)
	}
}

func (p *OutboundPoller) watermark(conversationID int) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks[conversationID]
}

func (p *OutboundPoller) advance(conversationID int, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id > p.watermarks[conversationID] {
		p.watermarks[conversationID] = id
	}
}
