package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/config"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/models"
)

func newTestResolver(t *testing.T, handler http.Handler) *Resolver {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := inbox.NewClient(config.InboxConfig{
		BaseURL:   srv.URL,
		AccountID: "1",
		InboxID:   "7",
		Token:     "secret",
		Timeout:   5 * time.Second,
	}, logger.NopLogger(), nil)
	require.NoError(t, err)

	return NewResolver(client, logger.NopLogger())
}

func contactJSON(id int, phone, sourceID string) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"name":         "Alice",
		"phone_number": phone,
		"contact_inboxes": []map[string]interface{}{
			{"source_id": sourceID, "inbox": map[string]int{"id": 7}},
		},
	}
}

func TestResolver_ResolveContact_ExistingContact(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts/1/contacts/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payload": []interface{}{contactJSON(42, "+5511999999999", "binding-1")},
		})
	})

	resolver := newTestResolver(t, handler)

	contact, err := resolver.ResolveContact(context.Background(), "5511999999999@c.us", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "+5511999999999", contact.GatewayAddress)
	assert.Equal(t, "42", contact.InboxContactID)
	assert.Equal(t, "binding-1", contact.SourceID)
}

func TestResolver_ResolveContact_CreatesWhenAbsent(t *testing.T) {
	var created map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/accounts/1/contacts/search":
			json.NewEncoder(w).Encode(map[string]interface{}{"payload": []interface{}{}})
		case r.URL.Path == "/api/v1/accounts/1/contacts" && r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"payload": map[string]interface{}{
					"contact": contactJSON(43, "+351900000000", "binding-2"),
				},
			})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	})

	resolver := newTestResolver(t, handler)

	contact, err := resolver.ResolveContact(context.Background(), "351900000000@c.us", "")
	require.NoError(t, err)
	assert.Equal(t, "+351900000000", contact.GatewayAddress)
	assert.Equal(t, "binding-2", contact.SourceID)

	// Canonical address doubles as the display name when no hint exists.
	assert.Equal(t, "+351900000000", created["name"])
	assert.Equal(t, "+351900000000", created["phone_number"])
	assert.Equal(t, float64(7), created["inbox_id"])
}

func TestResolver_ResolveContact_ConflictRetriesSearch(t *testing.T) {
	searches := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/accounts/1/contacts/search":
			searches++
			if searches == 1 {
				json.NewEncoder(w).Encode(map[string]interface{}{"payload": []interface{}{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"payload": []interface{}{contactJSON(44, "+5511888888888", "binding-3")},
			})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"Phone number has already been taken"}`))
		}
	})

	resolver := newTestResolver(t, handler)

	contact, err := resolver.ResolveContact(context.Background(), "5511888888888", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 2, searches)
	assert.Equal(t, "44", contact.InboxContactID)
}

func TestResolver_ResolveConversation_ReusesOpenConversation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"payload": []map[string]interface{}{
					{
						"id":       99,
						"inbox_id": 7,
						"status":   "open",
						"meta": map[string]interface{}{
							"sender": map[string]interface{}{"id": 42, "phone_number": "+5511999999999"},
						},
					},
				},
			},
		})
	})

	resolver := newTestResolver(t, handler)

	conv, err := resolver.ResolveConversation(context.Background(), &models.Contact{
		GatewayAddress: "+5511999999999",
		InboxContactID: "42",
		SourceID:       "binding-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 99, conv.InboxConversationID)
}

func TestResolver_ResolveConversation_CreatesWithSourceID(t *testing.T) {
	var created map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"payload": []interface{}{}},
			})
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			json.NewEncoder(w).Encode(map[string]interface{}{"id": 100, "inbox_id": 7, "status": "open"})
		}
	})

	resolver := newTestResolver(t, handler)

	conv, err := resolver.ResolveConversation(context.Background(), &models.Contact{
		GatewayAddress: "+5511999999999",
		InboxContactID: "42",
		SourceID:       "binding-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, conv.InboxConversationID)

	// The channel binding id, never the phone number.
	assert.Equal(t, "binding-1", created["source_id"])
	assert.Equal(t, float64(42), created["contact_id"])
}

func TestResolver_ResolveConversation_NoBindingFails(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"payload": []interface{}{}},
		})
	})

	resolver := newTestResolver(t, handler)

	_, err := resolver.ResolveConversation(context.Background(), &models.Contact{
		GatewayAddress: "+5511999999999",
		InboxContactID: "42",
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
