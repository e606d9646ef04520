package models

// Direction indicates which way a message travels through the bridge.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // gateway -> inbox
	DirectionOutbound Direction = "outbound" // inbox -> gateway
)

// MediaType classifies the binary content a message carries.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaImage    MediaType = "image"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaSticker  MediaType = "sticker"
)

// Message is the bridge's canonical, platform-agnostic representation of a
// single chat message. It is built once by the normalizer and discarded
// after relay; the bridge keeps no message history.
type Message struct {
	ID          string      `json:"id"`
	Direction   Direction   `json:"direction"`
	Text        string      `json:"text"`
	MediaType   MediaType   `json:"media_type"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	TimestampMs int64       `json:"timestamp_ms"`
	ChatID      string      `json:"chat_id"`
	SenderName  string      `json:"sender_name,omitempty"`
}

// HasMedia reports whether the message was classified as carrying media,
// regardless of whether the bytes have been resolved yet.
func (m *Message) HasMedia() bool {
	return m.MediaType != MediaNone
}

// Attachment holds resolved binary content. Filename and MimeType are never
// empty: the attachment pipeline synthesizes them when the platform omits
// them.
type Attachment struct {
	Bytes    []byte `json:"-"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// Contact links a gateway address to its inbox-side record. GatewayAddress
// is always in canonical "+<digits>" form.
type Contact struct {
	GatewayAddress string `json:"gateway_address"`
	InboxContactID string `json:"inbox_contact_id"`
	DisplayName    string `json:"display_name"`
	// SourceID is the inbox platform's channel-binding key for this
	// contact. Conversation creation must reuse it; inventing one (or
	// passing the phone number) makes the inbox reject the conversation.
	SourceID string `json:"source_id"`
}

// Conversation is an open inbox conversation bound to a contact.
type Conversation struct {
	InboxConversationID int    `json:"inbox_conversation_id"`
	ContactID           string `json:"contact_id"`
	SourceID            string `json:"source_id"`
}
