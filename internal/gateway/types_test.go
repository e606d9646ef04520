package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleID_UnmarshalString(t *testing.T) {
	var id FlexibleID
	require.NoError(t, json.Unmarshal([]byte(`"true_5511999999999@c.us_ABC123"`), &id))
	assert.Equal(t, "true_5511999999999@c.us_ABC123", id.String())
}

func TestFlexibleID_UnmarshalObject(t *testing.T) {
	var id FlexibleID
	require.NoError(t, json.Unmarshal([]byte(`{"_serialized":"false_123@c.us_XYZ","fromMe":false}`), &id))
	assert.Equal(t, "false_123@c.us_XYZ", id.String())
}

func TestEventMessage_ChatAddress(t *testing.T) {
	m := EventMessage{From: "5511999999999@c.us"}
	assert.Equal(t, "5511999999999@c.us", m.ChatAddress())

	m = EventMessage{From: "5511999999999@c.us", ChatID: "12345-67890@g.us"}
	assert.Equal(t, "12345-67890@g.us", m.ChatAddress())
}

func TestEventMessage_IsGroupChat(t *testing.T) {
	assert.True(t, (&EventMessage{IsGroupMsg: true}).IsGroupChat())
	assert.True(t, (&EventMessage{From: "12345-67890@g.us"}).IsGroupChat())
	assert.False(t, (&EventMessage{From: "5511999999999@c.us"}).IsGroupChat())
}

func TestWebhookEvent_Decode(t *testing.T) {
	raw := `{
		"event": "onmessage",
		"data": {
			"id": {"_serialized": "msg-9"},
			"from": "5511999999999@c.us",
			"body": "hello",
			"type": "chat",
			"fromMe": false,
			"notifyName": "Alice",
			"timestamp": 1700000000
		}
	}`

	var ev WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, EventReceivedMessage, ev.Event)
	assert.Equal(t, "msg-9", ev.Data.ID.String())
	assert.Equal(t, "hello", ev.Data.Body)
	assert.Equal(t, int64(1700000000), ev.Data.Timestamp)
}
