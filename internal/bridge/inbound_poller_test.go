package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/config"
	"chatbridge/internal/dedup"
	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
)

// pollGatewayDouble serves the chat and message listings the inbound
// poller walks. Message listings are oldest-first, matching the
// gateway's documented order.
type pollGatewayDouble struct {
	mu       sync.Mutex
	chats    []map[string]interface{}
	messages map[string][]map[string]interface{}
	fetched  []string
}

func (d *pollGatewayDouble) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/test/list-chats", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success", "response": d.chats,
		})
	})

	mux.HandleFunc("/api/test/all-messages-in-chat/", func(w http.ResponseWriter, r *http.Request) {
		chatID := strings.TrimPrefix(r.URL.Path, "/api/test/all-messages-in-chat/")
		d.mu.Lock()
		d.fetched = append(d.fetched, chatID)
		msgs := d.messages[chatID]
		d.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success", "response": msgs,
		})
	})

	return mux
}

func (d *pollGatewayDouble) fetchedChats() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fetched...)
}

func chatEntry(id string, unread int, group bool) map[string]interface{} {
	return map[string]interface{}{"id": id, "unreadCount": unread, "isGroup": group}
}

func chatMessage(id, from, body string, ts int64) map[string]interface{} {
	return map[string]interface{}{
		"id": id, "from": from, "body": body, "type": "chat", "timestamp": ts,
	}
}

func newTestInboundPoller(t *testing.T, gw *pollGatewayDouble, inboxHandler http.Handler, cfg config.PollingConfig, dedupTTL time.Duration) *InboundPoller {
	t.Helper()

	gatewaySrv := httptest.NewServer(gw.handler(t))
	t.Cleanup(gatewaySrv.Close)
	inboxSrv := httptest.NewServer(inboxHandler)
	t.Cleanup(inboxSrv.Close)

	gatewayClient := gateway.NewClient(config.GatewayConfig{
		BaseURL: gatewaySrv.URL, Session: "test", Timeout: 5 * time.Second,
	}, logger.NopLogger(), nil)

	inboxClient, err := inbox.NewClient(config.InboxConfig{
		BaseURL: inboxSrv.URL, AccountID: "1", InboxID: "7", Token: "secret", Timeout: 5 * time.Second,
	}, logger.NopLogger(), nil)
	require.NoError(t, err)

	store := dedup.NewMemoryStore("inbound-poll-test", dedupTTL, 1000)
	t.Cleanup(func() { store.Close() })

	resolver := NewResolver(inboxClient, logger.NopLogger())
	pipeline := NewPipeline(gatewayClient, inboxClient, logger.NopLogger())
	service := NewInboundService(resolver, pipeline, inboxClient, store, nil, logger.NopLogger())

	return NewInboundPoller(gatewayClient, service, cfg, logger.NopLogger())
}

func TestInboundPoller_RelaysOldestFirst(t *testing.T) {
	now := time.Now().Unix()
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{chatEntry("351900000000@c.us", 2, false)},
		messages: map[string][]map[string]interface{}{
			"351900000000@c.us": {
				chatMessage("m1", "351900000000@c.us", "first hello", now-60),
				chatMessage("m2", "351900000000@c.us", "second hello", now-30),
			},
		},
	}
	double := &inboxDouble{}
	poller := newTestInboundPoller(t, gw, double.handler(t), config.PollingConfig{}, 10*time.Second)

	poller.tick(context.Background())

	assert.Equal(t, []string{"first hello", "second hello"}, double.postedMessages())
}

func TestInboundPoller_SkipsGroupsAndUnreadZeroAndCapsChats(t *testing.T) {
	now := time.Now().Unix()
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{
			chatEntry("1110@c.us", 1, false),
			chatEntry("groupchat@g.us", 3, true),
			chatEntry("1111@c.us", 0, false),
			chatEntry("1112@c.us", 1, false),
			chatEntry("1113@c.us", 1, false),
		},
		messages: map[string][]map[string]interface{}{},
	}
	for _, id := range []string{"1110@c.us", "1112@c.us", "1113@c.us"} {
		gw.messages[id] = []map[string]interface{}{chatMessage("m-"+id, id, "hi", now)}
	}
	double := &inboxDouble{}
	poller := newTestInboundPoller(t, gw, double.handler(t), config.PollingConfig{ChatsPerTick: 2}, 10*time.Second)

	poller.tick(context.Background())

	// Group and zero-unread chats are skipped; the cap stops after two
	// eligible chats.
	assert.Equal(t, []string{"1110@c.us", "1112@c.us"}, gw.fetchedChats())
}

func TestInboundPoller_SkipsStaleMessages(t *testing.T) {
	now := time.Now().Unix()
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{chatEntry("351900000000@c.us", 2, false)},
		messages: map[string][]map[string]interface{}{
			"351900000000@c.us": {
				chatMessage("m1", "351900000000@c.us", "old backlog", now-2*3600),
				chatMessage("m2", "351900000000@c.us", "fresh", now-30),
			},
		},
	}
	double := &inboxDouble{}
	poller := newTestInboundPoller(t, gw, double.handler(t), config.PollingConfig{}, 10*time.Second)

	poller.tick(context.Background())

	assert.Equal(t, []string{"fresh"}, double.postedMessages())
}

func TestInboundPoller_SkipsSelfSent(t *testing.T) {
	now := time.Now().Unix()
	own := chatMessage("m1", "351900000000@c.us", "my own reply", now-20)
	own["fromMe"] = true
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{chatEntry("351900000000@c.us", 1, false)},
		messages: map[string][]map[string]interface{}{
			"351900000000@c.us": {
				own,
				chatMessage("m2", "351900000000@c.us", "their question", now-10),
			},
		},
	}
	double := &inboxDouble{}
	poller := newTestInboundPoller(t, gw, double.handler(t), config.PollingConfig{}, 10*time.Second)

	poller.tick(context.Background())

	assert.Equal(t, []string{"their question"}, double.postedMessages())
}

func TestInboundPoller_WatermarkSkipsRelayedOnNextTick(t *testing.T) {
	now := time.Now().Unix()
	chatID := "351900000000@c.us"
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{chatEntry(chatID, 1, false)},
		messages: map[string][]map[string]interface{}{
			chatID: {chatMessage("m1", chatID, "hello", now-60)},
		},
	}
	double := &inboxDouble{}
	poller := newTestInboundPoller(t, gw, double.handler(t), config.PollingConfig{}, 10*time.Second)

	poller.tick(context.Background())
	require.Equal(t, []string{"hello"}, double.postedMessages())
	assert.Equal(t, now-60, poller.watermark(chatID))

	// Second tick sees the same listing plus one newer message; only the
	// new one is relayed even though the dedup cache would also catch the
	// replay.
	gw.mu.Lock()
	gw.messages[chatID] = append(gw.messages[chatID], chatMessage("m2", chatID, "follow-up", now-10))
	gw.mu.Unlock()

	poller.tick(context.Background())
	assert.Equal(t, []string{"hello", "follow-up"}, double.postedMessages())
	assert.Equal(t, now-10, poller.watermark(chatID))
}

func TestInboundPoller_FailedRelayFreezesWatermark(t *testing.T) {
	now := time.Now().Unix()
	chatID := "351900000000@c.us"
	gw := &pollGatewayDouble{
		chats: []map[string]interface{}{chatEntry(chatID, 1, false)},
		messages: map[string][]map[string]interface{}{
			chatID: {chatMessage("m1", chatID, "needs retry", now-60)},
		},
	}

	// The inbox rejects message creation on the first tick, then
	// recovers.
	double := &inboxDouble{}
	inner := double.handler(t)
	var mu sync.Mutex
	failing := true
	inboxHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		down := failing
		mu.Unlock()
		if down && r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/conversations/100/messages") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	})

	// The failed attempt leaves a dedup entry behind; a short TTL lets
	// it lapse so the retry path is observable.
	poller := newTestInboundPoller(t, gw, inboxHandler, config.PollingConfig{}, 50*time.Millisecond)

	poller.tick(context.Background())
	assert.Empty(t, double.postedMessages())
	// The delivery failed, so the watermark must not have moved past it.
	assert.Equal(t, int64(0), poller.watermark(chatID))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	failing = false
	mu.Unlock()

	poller.tick(context.Background())
	assert.Equal(t, []string{"needs retry"}, double.postedMessages())
	assert.Equal(t, now-60, poller.watermark(chatID))
}
