package gateway

import (
	"encoding/json"
	"strings"
)

// Event kinds the gateway pushes to the bridge's webhook.
const (
	EventReceivedMessage = "onmessage"
)

// Message type discriminators used by the gateway.
const (
	TypeChat     = "chat"
	TypeImage    = "image"
	TypeDocument = "document"
	TypeAudio    = "audio"
	TypePTT      = "ptt"
	TypeVideo    = "video"
	TypeSticker  = "sticker"
)

// FlexibleID absorbs the gateway's two id encodings: a plain string and
// an object carrying a "_serialized" form. Both occur in the wild
// depending on the gateway version.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var obj struct {
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FlexibleID(obj.Serialized)
	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}

// WebhookEvent is the envelope the gateway POSTs to /webhook/gateway.
type WebhookEvent struct {
	Event string       `json:"event"`
	Data  EventMessage `json:"data"`
}

// EventMessage is a gateway-native message, as seen in webhook pushes
// and in chat message listings.
type EventMessage struct {
	ID         FlexibleID `json:"id"`
	From       string     `json:"from"`
	ChatID     FlexibleID `json:"chatId"`
	Body       string     `json:"body"`
	Type       string     `json:"type"`
	FromMe     bool       `json:"fromMe"`
	IsGroupMsg bool       `json:"isGroupMsg"`
	NotifyName string     `json:"notifyName"`
	Caption    string     `json:"caption"`
	MimeType   string     `json:"mimetype"`
	Filename   string     `json:"filename"`
	// MediaData carries the inline payload some gateway versions attach
	// to media events. For small images and documents it holds only a
	// preview, never the full content.
	MediaData *MediaData `json:"mediaData,omitempty"`
	// Timestamp is in Unix seconds.
	Timestamp int64 `json:"timestamp"`
}

// ChatAddress returns the chat the message belongs to, preferring the
// explicit chat id over the sender address.
func (m *EventMessage) ChatAddress() string {
	if m.ChatID != "" {
		return m.ChatID.String()
	}
	return m.From
}

// IsGroupChat also catches group suffixes on the address itself, since
// not every gateway version sets the isGroupMsg flag.
func (m *EventMessage) IsGroupChat() bool {
	return m.IsGroupMsg || strings.HasSuffix(m.ChatAddress(), "@g.us")
}

type MediaData struct {
	Preview  string `json:"preview,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

// Chat is one entry from the gateway's chat listing.
type Chat struct {
	ID          FlexibleID `json:"id"`
	Name        string     `json:"name"`
	IsGroup     bool       `json:"isGroup"`
	UnreadCount int        `json:"unreadCount"`
}

func (c *Chat) IsGroupChat() bool {
	return c.IsGroup || strings.HasSuffix(c.ID.String(), "@g.us")
}

// DownloadedMedia is the gateway's media download response.
type DownloadedMedia struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
	Filename string `json:"filename"`
}

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendFileRequest struct {
	Phone    string `json:"phone"`
	Base64   string `json:"base64"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type sendVoiceRequest struct {
	Phone  string `json:"phone"`
	Base64 string `json:"base64Ptt"`
}

type listChatsRequest struct {
	OnlyWithUnreadMessages bool `json:"onlyWithUnreadMessages,omitempty"`
}

// apiResponse is the gateway's generic envelope: the interesting part
// sits under "response".
type apiResponse[T any] struct {
	Status   string `json:"status"`
	Response T      `json:"response"`
}
