package inbox

// Webhook event kinds the inbox platform pushes to /webhook/inbox.
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
)

// Message direction discriminators. Webhook payloads use the string
// form; REST listings use the numeric form.
const (
	MessageTypeOutgoing = "outgoing"
	MessageTypeIncoming = "incoming"

	MessageTypeCodeIncoming = 0
	MessageTypeCodeOutgoing = 1
)

// WebhookEvent is the envelope the inbox platform POSTs when an agent
// acts on a conversation. The platform fires several events per logical
// send (created, then updated), so consumers must deduplicate on ID.
type WebhookEvent struct {
	Event        string             `json:"event"`
	MessageType  string             `json:"message_type"`
	ID           int64              `json:"id"`
	Content      string             `json:"content"`
	Conversation *EventConversation `json:"conversation,omitempty"`
	Attachments  []AttachmentRecord `json:"attachments,omitempty"`
}

type EventConversation struct {
	ID   int               `json:"id"`
	Meta *ConversationMeta `json:"meta,omitempty"`
}

// ContactRecord is the inbox platform's contact shape.
type ContactRecord struct {
	ID             int            `json:"id"`
	Name           string         `json:"name"`
	PhoneNumber    string         `json:"phone_number"`
	ContactInboxes []ContactInbox `json:"contact_inboxes,omitempty"`
}

// ContactInbox is a channel binding: the platform's internal key linking
// a contact to a channel instance. Its SourceID is mandatory when
// creating a conversation.
type ContactInbox struct {
	SourceID string   `json:"source_id"`
	Inbox    InboxRef `json:"inbox"`
}

type InboxRef struct {
	ID int `json:"id"`
}

// SourceIDFor returns the contact's channel binding for the given inbox
// channel, or "" when the contact is not bound to it.
func (c *ContactRecord) SourceIDFor(inboxID int) string {
	for _, ci := range c.ContactInboxes {
		if ci.Inbox.ID == inboxID {
			return ci.SourceID
		}
	}
	return ""
}

// ConversationRecord is an inbox conversation as returned by the REST
// API.
type ConversationRecord struct {
	ID      int               `json:"id"`
	InboxID int               `json:"inbox_id"`
	Status  string            `json:"status"`
	Meta    *ConversationMeta `json:"meta,omitempty"`
}

type ConversationMeta struct {
	Sender *SenderMeta `json:"sender,omitempty"`
}

type SenderMeta struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// SenderPhone returns the conversation's counterpart phone number, or ""
// when the metadata was omitted.
func (c *ConversationRecord) SenderPhone() string {
	if c.Meta == nil || c.Meta.Sender == nil {
		return ""
	}
	return c.Meta.Sender.PhoneNumber
}

// MessageRecord is one message in a conversation listing.
type MessageRecord struct {
	ID          int64              `json:"id"`
	Content     string             `json:"content"`
	MessageType int                `json:"message_type"`
	CreatedAt   int64              `json:"created_at"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
}

func (m *MessageRecord) IsOutgoing() bool {
	return m.MessageType == MessageTypeCodeOutgoing
}

// AttachmentRecord describes an attachment on an inbox message. Data
// carries inline base64 (or a full data URI) when the platform includes
// it; FileURL points at the platform's own hostname otherwise.
type AttachmentRecord struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	FileType  string `json:"file_type"`
	Extension string `json:"extension,omitempty"`
	Data      string `json:"data_url_base64,omitempty"`
	DataURL   string `json:"data_url,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
}

// URL returns the best remote reference for the attachment bytes.
func (a *AttachmentRecord) URL() string {
	if a.FileURL != "" {
		return a.FileURL
	}
	return a.DataURL
}

type createContactRequest struct {
	InboxID     int    `json:"inbox_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type createConversationRequest struct {
	SourceID  string `json:"source_id"`
	InboxID   int    `json:"inbox_id"`
	ContactID int    `json:"contact_id"`
	Status    string `json:"status"`
}

type searchContactsResponse struct {
	Payload []ContactRecord `json:"payload"`
}

type createContactResponse struct {
	Payload struct {
		Contact ContactRecord `json:"contact"`
	} `json:"payload"`
}

type listConversationsResponse struct {
	Data struct {
		Payload []ConversationRecord `json:"payload"`
	} `json:"data"`
}

type listMessagesResponse struct {
	Payload []MessageRecord `json:"payload"`
}

type listAttachmentsResponse struct {
	Payload []AttachmentRecord `json:"payload"`
	Meta    struct {
		NextPage int `json:"next_page,omitempty"`
	} `json:"meta"`
}
