package bridge

import (
	"context"
	"time"

	"chatbridge/internal/dedup"
	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/cel"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/logging"
	"chatbridge/pkg/metrics"
)

// Relay outcome discriminators shared by the webhook handlers and the
// pollers.
const (
	StatusIgnored          = "ignored"
	StatusDuplicateIgnored = "duplicate_ignored"
	StatusSuccess          = "success"
	StatusError            = "error"
)

// InboundOutcome describes what happened to one gateway event.
type InboundOutcome struct {
	Status         string `json:"status"`
	ContactID      string `json:"contactId,omitempty"`
	ConversationID int    `json:"conversationId,omitempty"`
}

// InboundService relays gateway messages into the inbox platform. Both
// the webhook listener and the polling loop feed it; the dedup store
// keeps the two entry points from double-delivering.
type InboundService struct {
	normalizer *Normalizer
	resolver   *Resolver
	pipeline   *Pipeline
	inbox      *inbox.Client
	dedup      dedup.Store
	rules      *cel.Evaluator
	logger     logger.Logger
}

func NewInboundService(resolver *Resolver, pipeline *Pipeline, ib *inbox.Client, store dedup.Store, rules *cel.Evaluator, log logger.Logger) *InboundService {
	return &InboundService{
		normalizer: NewNormalizer(),
		resolver:   resolver,
		pipeline:   pipeline,
		inbox:      ib,
		dedup:      store,
		rules:      rules,
		logger:     log,
	}
}

// Relay processes one gateway event end to end. entry names the path
// that observed the event ("webhook" or "poll") for metrics. Errors are
// reflected in the outcome status; the returned error carries detail
// for logging but must not abort a batch.
func (s *InboundService) Relay(ctx context.Context, ev gateway.EventMessage, entry string) (InboundOutcome, error) {
	start := time.Now()
	outcome, err := s.relay(ctx, ev, entry)

	metrics.RelayMessagesTotal.WithLabelValues("inbound", entry, outcome.Status).Inc()
	metrics.ObserveRelayDuration("inbound", time.Since(start), outcome.Status)
	return outcome, err
}

func (s *InboundService) relay(ctx context.Context, ev gateway.EventMessage, entry string) (InboundOutcome, error) {
	ctx = logging.WithMessageID(ctx, ev.ID.String())
	ctx = logging.WithChatID(ctx, ev.ChatAddress())

	if ev.FromMe {
		metrics.IgnoredEventsTotal.WithLabelValues("inbound", "self_sent").Inc()
		return InboundOutcome{Status: StatusIgnored}, nil
	}
	if ev.IsGroupChat() {
		metrics.IgnoredEventsTotal.WithLabelValues("inbound", "group_chat").Inc()
		return InboundOutcome{Status: StatusIgnored}, nil
	}
	if ev.ID.String() == "" {
		metrics.IgnoredEventsTotal.WithLabelValues("inbound", "missing_id").Inc()
		return InboundOutcome{Status: StatusError}, errors.ErrMalformed.WithDetail("reason", "event carries no message id")
	}

	seen, err := s.dedup.Seen(ctx, ev.ID.String())
	if err != nil {
		// Dedup store trouble fails open: a rare duplicate beats a
		// dropped message.
		metrics.DedupChecksTotal.WithLabelValues("inbound", "error").Inc()
		s.logger.WarnwCtx(ctx, "Dedup check failed, relaying anyway",
			"error", err,
		)
	} else if seen {
		s.logger.DebugwCtx(ctx, "Duplicate gateway message suppressed",
			"entry", entry,
		)
		return InboundOutcome{Status: StatusIgnored}, nil
	}

	msg, hint := s.normalizer.FromGateway(ev)

	if s.rules != nil {
		ignored, rule, ruleErr := s.rules.ShouldIgnore(ctx, msg)
		if ruleErr != nil {
			s.logger.WarnwCtx(ctx, "Ignore rule evaluation error",
				"error", ruleErr,
			)
		}
		if ignored {
			metrics.IgnoredEventsTotal.WithLabelValues("inbound", "rule").Inc()
			s.logger.InfowCtx(ctx, "Message suppressed by ignore rule",
				"rule", rule,
			)
			return InboundOutcome{Status: StatusIgnored}, nil
		}
	}

	contact, err := s.resolver.ResolveContact(ctx, ev.From, ev.NotifyName)
	if err != nil {
		return InboundOutcome{Status: StatusError}, err
	}

	conversation, err := s.resolver.ResolveConversation(ctx, contact)
	if err != nil {
		return InboundOutcome{Status: StatusError}, err
	}

	outcome := InboundOutcome{
		Status:         StatusSuccess,
		ContactID:      contact.InboxContactID,
		ConversationID: conversation.InboxConversationID,
	}

	if msg.HasMedia() {
		attachment, dlErr := s.pipeline.Download(ctx, msg, hint)
		if dlErr != nil {
			if msg.Text == "" {
				// Nothing left to relay; drop with a trace.
				s.logger.WarnwCtx(ctx, "Dropping media message, no attachment and no text",
					"media_type", string(msg.MediaType),
					"error", dlErr,
				)
				outcome.Status = StatusIgnored
				return outcome, nil
			}
			s.logger.WarnwCtx(ctx, "Attachment unavailable, degrading to text-only relay",
				"media_type", string(msg.MediaType),
				"error", dlErr,
			)
		} else {
			msg.Attachment = attachment
		}
	}

	if err := s.inbox.CreateMessage(ctx, conversation.InboxConversationID, msg.Text, inbox.MessageTypeIncoming, msg.Attachment); err != nil {
		outcome.Status = StatusError
		return outcome, err
	}

	s.logger.InfowCtx(ctx, "Relayed gateway message to inbox",
		"entry", entry,
		"conversation_id", conversation.InboxConversationID,
		"has_media", msg.Attachment != nil,
	)
	return outcome, nil
}
