package bridge

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/health"
)

// Handler exposes the bridge's HTTP surface: the two webhook endpoints
// and the health check. Webhook responses are always 200 with a status
// discriminator in the body; a 5xx would make either platform retry
// forever and amplify load.
type Handler struct {
	inbound  *InboundService
	outbound *OutboundService
	checks   *health.CheckerRegistry
	logger   logger.Logger
}

func NewHandler(in *InboundService, out *OutboundService, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	return &Handler{
		inbound:  in,
		outbound: out,
		checks:   checks,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	webhook := router.Group("/webhook")
	{
		webhook.POST("/gateway", h.GatewayWebhook)
		webhook.POST("/inbox", h.InboxWebhook)
	}
	router.GET("/health", h.Health)
}

// GatewayWebhook receives the gateway's push notification for a new
// message.
func (h *Handler) GatewayWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var ev gateway.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.logger.WarnwCtx(ctx, "Unparseable gateway webhook payload",
			"error", err,
		)
		c.JSON(http.StatusOK, InboundOutcome{Status: StatusError})
		return
	}

	if ev.Event != gateway.EventReceivedMessage {
		c.JSON(http.StatusOK, InboundOutcome{Status: StatusIgnored})
		return
	}

	outcome, err := h.inbound.Relay(ctx, ev.Data, "webhook")
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Inbound relay failed",
			"message_id", ev.Data.ID.String(),
			"status", outcome.Status,
			"error", err,
		)
	}
	c.JSON(http.StatusOK, outcome)
}

// InboxWebhook receives the inbox platform's push notification for an
// agent action.
func (h *Handler) InboxWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var ev inbox.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.logger.WarnwCtx(ctx, "Unparseable inbox webhook payload",
			"error", err,
		)
		c.JSON(http.StatusOK, OutboundOutcome{Status: StatusError})
		return
	}

	outcome, err := h.outbound.Relay(ctx, ev)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Outbound relay failed",
			"inbox_message_id", ev.ID,
			"status", outcome.Status,
			"error", err,
		)
	}
	c.JSON(http.StatusOK, outcome)
}

// Health reports whether both upstream base URLs are configured. The
// config object carries exactly the gateway and inbox booleans; any
// other registered checker (the redis ping, for one) reports under a
// separate checks object.
func (h *Handler) Health(c *gin.Context) {
	report := h.checks.Check(c.Request.Context())

	status := "ok"
	if report.Status != health.StatusHealthy {
		status = "degraded"
	}

	config := make(map[string]bool, 2)
	extra := make(map[string]bool)
	for name, result := range report.Checks {
		healthy := result.Status == health.StatusHealthy
		switch name {
		case "gateway", "inbox":
			config[name] = healthy
		default:
			extra[name] = healthy
		}
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"config":    config,
	}
	if len(extra) > 0 {
		body["checks"] = extra
	}

	c.JSON(http.StatusOK, body)
}
