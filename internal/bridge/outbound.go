package bridge

import (
	"context"
	"strconv"
	"time"

	"chatbridge/internal/dedup"
	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/cel"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/logging"
	"chatbridge/pkg/metrics"
	"chatbridge/pkg/models"
)

// OutboundOutcome describes what happened to one agent reply.
type OutboundOutcome struct {
	Status          string `json:"status"`
	AttachmentsSent int    `json:"attachments_sent,omitempty"`
	TextSent        bool   `json:"text_sent,omitempty"`
}

// OutboundService relays agent replies from the inbox platform to the
// gateway. The webhook listener and the outbound poller both feed it;
// the dedup store reconciles the two, and also absorbs the platform's
// created-then-updated double fire for a single send.
type OutboundService struct {
	pipeline *Pipeline
	gateway  *gateway.Client
	inbox    *inbox.Client
	dedup    dedup.Store
	rules    *cel.Evaluator
	logger   logger.Logger
}

func NewOutboundService(pipeline *Pipeline, gw *gateway.Client, ib *inbox.Client, store dedup.Store, rules *cel.Evaluator, log logger.Logger) *OutboundService {
	return &OutboundService{
		pipeline: pipeline,
		gateway:  gw,
		inbox:    ib,
		dedup:    store,
		rules:    rules,
		logger:   log,
	}
}

// Relay processes one inbox webhook event. Only "message created,
// outgoing" events are relayed; everything else is ignored.
func (s *OutboundService) Relay(ctx context.Context, ev inbox.WebhookEvent) (OutboundOutcome, error) {
	start := time.Now()
	outcome, err := s.relay(ctx, ev, "webhook")

	metrics.RelayMessagesTotal.WithLabelValues("outbound", "webhook", outcome.Status).Inc()
	metrics.ObserveRelayDuration("outbound", time.Since(start), outcome.Status)
	return outcome, err
}

// RelayRecord processes an outgoing message discovered by the outbound
// poller. The record is reshaped into the webhook envelope so both
// entry points share one path.
func (s *OutboundService) RelayRecord(ctx context.Context, conversationID int, msg inbox.MessageRecord) (OutboundOutcome, error) {
	ev := inbox.WebhookEvent{
		Event:       inbox.EventMessageCreated,
		MessageType: inbox.MessageTypeOutgoing,
		ID:          msg.ID,
		Content:     msg.Content,
		Conversation: &inbox.EventConversation{
			ID: conversationID,
		},
		Attachments: msg.Attachments,
	}

	start := time.Now()
	outcome, err := s.relay(ctx, ev, "poll")

	metrics.RelayMessagesTotal.WithLabelValues("outbound", "poll", outcome.Status).Inc()
	metrics.ObserveRelayDuration("outbound", time.Since(start), outcome.Status)
	return outcome, err
}

func (s *OutboundService) relay(ctx context.Context, ev inbox.WebhookEvent, entry string) (OutboundOutcome, error) {
	if ev.Event != inbox.EventMessageCreated || ev.MessageType != inbox.MessageTypeOutgoing {
		metrics.IgnoredEventsTotal.WithLabelValues("outbound", "event_kind").Inc()
		return OutboundOutcome{Status: StatusIgnored}, nil
	}
	if ev.ID == 0 || ev.Conversation == nil {
		metrics.IgnoredEventsTotal.WithLabelValues("outbound", "missing_fields").Inc()
		return OutboundOutcome{Status: StatusError}, errors.ErrMalformed.WithDetail("reason", "event lacks message id or conversation")
	}

	key := strconv.FormatInt(ev.ID, 10)
	ctx = logging.WithMessageID(ctx, key)

	seen, err := s.dedup.Seen(ctx, key)
	if err != nil {
		metrics.DedupChecksTotal.WithLabelValues("outbound", "error").Inc()
		s.logger.WarnwCtx(ctx, "Dedup check failed, relaying anyway",
			"error", err,
		)
	} else if seen {
		return OutboundOutcome{Status: StatusDuplicateIgnored}, nil
	}

	phone, err := s.destinationPhone(ctx, ev)
	if err != nil {
		return OutboundOutcome{Status: StatusError}, err
	}
	ctx = logging.WithChatID(ctx, phone)

	text := TrimTrailingNewlines(ev.Content)

	if s.rules != nil {
		msg := models.Message{
			ID:        key,
			Direction: models.DirectionOutbound,
			Text:      text,
			ChatID:    phone,
		}
		ignored, rule, ruleErr := s.rules.ShouldIgnore(ctx, msg)
		if ruleErr != nil {
			s.logger.WarnwCtx(ctx, "Ignore rule evaluation error",
				"error", ruleErr,
			)
		}
		if ignored {
			metrics.IgnoredEventsTotal.WithLabelValues("outbound", "rule").Inc()
			s.logger.InfowCtx(ctx, "Outbound message suppressed by ignore rule",
				"rule", rule,
			)
			return OutboundOutcome{Status: StatusIgnored}, nil
		}
	}

	records, err := s.pipeline.CollectOutbound(ctx, ev.Conversation.ID, ev.ID, ev.Attachments)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Attachment discovery failed, relaying text only",
			"conversation_id", ev.Conversation.ID,
			"error", err,
		)
		records = nil
	}

	outcome := OutboundOutcome{Status: StatusSuccess}

	// Text rides as the caption on the first attachment that actually
	// goes out. If no send carries it, it falls through to the separate
	// text send below so a failed first attachment never drops it.
	captionDelivered := false
	for _, rec := range records {
		attachment, resErr := s.pipeline.ResolveBytes(ctx, rec)
		if resErr != nil {
			s.logger.WarnwCtx(ctx, "Could not resolve attachment bytes",
				"attachment_id", rec.ID,
				"error", resErr,
			)
			continue
		}

		caption := ""
		if !captionDelivered {
			caption = text
		}

		if sendErr := s.pipeline.SendToGateway(ctx, phone, attachment, caption); sendErr != nil {
			s.logger.ErrorwCtx(ctx, "Failed to send attachment to gateway",
				"attachment_id", rec.ID,
				"error", sendErr,
			)
			continue
		}
		if caption != "" {
			captionDelivered = true
		}
		outcome.AttachmentsSent++
	}

	if !captionDelivered && text != "" {
		if err := s.gateway.SendText(ctx, phone, text); err != nil {
			outcome.Status = StatusError
			return outcome, err
		}
		outcome.TextSent = true
	}

	if outcome.AttachmentsSent == 0 && !outcome.TextSent {
		if len(records) > 0 || text != "" {
			outcome.Status = StatusError
			return outcome, errors.ErrNoAttachment.WithDetail("inbox_message_id", ev.ID)
		}
		// Nothing to relay at all.
		outcome.Status = StatusIgnored
		return outcome, nil
	}

	s.logger.InfowCtx(ctx, "Relayed agent reply to gateway",
		"entry", entry,
		"attachments_sent", outcome.AttachmentsSent,
		"text_sent", outcome.TextSent,
	)
	return outcome, nil
}

// destinationPhone pulls the counterpart phone number from the event's
// conversation metadata, falling back to a conversation fetch when the
// webhook omitted it.
func (s *OutboundService) destinationPhone(ctx context.Context, ev inbox.WebhookEvent) (string, error) {
	if ev.Conversation.Meta != nil && ev.Conversation.Meta.Sender != nil && ev.Conversation.Meta.Sender.PhoneNumber != "" {
		return NormalizeAddress(ev.Conversation.Meta.Sender.PhoneNumber), nil
	}

	record, err := s.inbox.GetConversation(ctx, ev.Conversation.ID)
	if err != nil {
		return "", err
	}

	phone := record.SenderPhone()
	if phone == "" {
		return "", errors.ErrNotFound.
			WithDetail("reason", "conversation has no sender phone number").
			WithDetail("conversation_id", ev.Conversation.ID)
	}
	return NormalizeAddress(phone), nil
}
