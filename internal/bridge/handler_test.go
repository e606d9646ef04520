package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/logger"
	"chatbridge/pkg/health"
)

func newTestRouter(t *testing.T, in *InboundService, out *OutboundService, gatewayURL, inboxURL string) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewConfiguredChecker("gateway", gatewayURL))
	checks.Register(health.NewConfiguredChecker("inbox", inboxURL))

	handler := NewHandler(in, out, checks, logger.NopLogger())
	handler.RegisterRoutes(router)
	return router
}

func TestHandler_GatewayWebhook_AlwaysRespondsOK(t *testing.T) {
	double := &inboxDouble{}
	svc := newTestInboundService(t, double, nil)
	router := newTestRouter(t, svc, nil, "http://gw", "http://ib")

	tests := []struct {
		name       string
		body       string
		wantStatus string
	}{
		{"malformed json", `{not json`, StatusError},
		{"wrong event kind", `{"event":"onack","data":{}}`, StatusIgnored},
		{"self sent", `{"event":"onmessage","data":{"id":"m1","from":"5511999999999@c.us","body":"x","fromMe":true}}`, StatusIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			// Never a 5xx: the gateway would retry forever.
			assert.Equal(t, http.StatusOK, w.Code)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp["status"])
		})
	}
}

func TestHandler_GatewayWebhook_RelaysMessage(t *testing.T) {
	double := &inboxDouble{}
	svc := newTestInboundService(t, double, nil)
	router := newTestRouter(t, svc, nil, "http://gw", "http://ib")

	body := `{"event":"onmessage","data":{"id":{"_serialized":"msg-1"},"from":"351900000000@c.us","body":"Hi","type":"chat","notifyName":"Alice","timestamp":` + timestampNow() + `}}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp InboundOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.ContactID)
	assert.Equal(t, 100, resp.ConversationID)
	assert.Equal(t, []string{"Hi"}, double.postedMessages())
}

func TestHandler_InboxWebhook_AlwaysRespondsOK(t *testing.T) {
	gw := &gatewayDouble{}
	svc, _ := newTestOutboundService(t, gw, noCalls(t))
	router := newTestRouter(t, nil, svc, "http://gw", "http://ib")

	req := httptest.NewRequest(http.MethodPost, "/webhook/inbox", strings.NewReader(`{broken`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusError, resp["status"])
}

func TestHandler_InboxWebhook_RelaysReply(t *testing.T) {
	gw := &gatewayDouble{}
	svc, _ := newTestOutboundService(t, gw, noCalls(t))
	router := newTestRouter(t, nil, svc, "http://gw", "http://ib")

	body := `{"event":"message_created","message_type":"outgoing","id":9,"content":"On it","conversation":{"id":100,"meta":{"sender":{"phone_number":"+5511999999999"}}}}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/inbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp OutboundOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.True(t, resp.TextSent)
	require.Len(t, gw.texts, 1)
	assert.Equal(t, "On it", gw.texts[0]["message"])
}

func TestHandler_Health(t *testing.T) {
	router := newTestRouter(t, nil, nil, "http://gw", "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status    string          `json:"status"`
		Timestamp string          `json:"timestamp"`
		Config    map[string]bool `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.True(t, resp.Config["gateway"])
	assert.False(t, resp.Config["inbox"])
	assert.NotEmpty(t, resp.Timestamp)
}

func TestHandler_Health_ExtraCheckersStayOutOfConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewConfiguredChecker("gateway", "http://gw"))
	checks.Register(health.NewConfiguredChecker("inbox", "http://ib"))
	checks.Register(health.NewConfiguredChecker("redis", "localhost:6379"))

	handler := NewHandler(nil, nil, checks, logger.NopLogger())
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Config map[string]bool `json:"config"`
		Checks map[string]bool `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// The config object carries exactly the two upstream booleans.
	assert.Equal(t, map[string]bool{"gateway": true, "inbox": true}, resp.Config)
	assert.Equal(t, map[string]bool{"redis": true}, resp.Checks)
}

func timestampNow() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
