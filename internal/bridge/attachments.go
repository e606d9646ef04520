package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"chatbridge/internal/constants"
	"chatbridge/internal/gateway"
	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/metrics"
	"chatbridge/pkg/models"
)

// Pipeline resolves attachment bytes on both legs of the bridge. The
// download side (gateway to inbox) walks an ordered fallback chain; the
// upload side (inbox to gateway) discovers attachment records the
// webhook may have omitted and frames the bytes the way the gateway's
// send API demands.
type Pipeline struct {
	gateway *gateway.Client
	inbox   *inbox.Client
	logger  logger.Logger
}

func NewPipeline(gw *gateway.Client, ib *inbox.Client, log logger.Logger) *Pipeline {
	return &Pipeline{
		gateway: gw,
		inbox:   ib,
		logger:  log,
	}
}

// Download resolves the binary content for an inbound media message.
// Chain, first success wins: trusted inline payload, full-quality
// download by message id, legacy download by message id. Exhausting the
// chain returns NoAttachment; callers degrade to text-only rather than
// fail the message.
func (p *Pipeline) Download(ctx context.Context, msg models.Message, hint *MediaHint) (*models.Attachment, error) {
	if hint == nil {
		return nil, errors.ErrNoAttachment.WithDetail("message_id", msg.ID)
	}

	if hint.TrustInline {
		att, err := p.decodeInline(hint)
		if err == nil {
			metrics.AttachmentFetchesTotal.WithLabelValues("inline", "ok").Inc()
			return att, nil
		}
		metrics.AttachmentFetchesTotal.WithLabelValues("inline", "error").Inc()
		p.logger.WarnwCtx(ctx, "Inline payload decode failed, falling back to download",
			"message_id", msg.ID,
			"error", err,
		)
	}

	if att, err := p.downloadVia(ctx, msg, hint, "full_quality", p.gateway.DownloadMedia); err == nil {
		return att, nil
	}

	if att, err := p.downloadVia(ctx, msg, hint, "legacy", p.gateway.DownloadMediaLegacy); err == nil {
		return att, nil
	}

	return nil, errors.ErrNoAttachment.WithDetail("message_id", msg.ID)
}

func (p *Pipeline) downloadVia(ctx context.Context, msg models.Message, hint *MediaHint, strategy string, fetch func(context.Context, string) (*gateway.DownloadedMedia, error)) (*models.Attachment, error) {
	media, err := fetch(ctx, msg.ID)
	if err != nil {
		metrics.AttachmentFetchesTotal.WithLabelValues(strategy, "error").Inc()
		p.logger.WarnwCtx(ctx, "Media download attempt failed",
			"message_id", msg.ID,
			"strategy", strategy,
			"error", err,
		)
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(stripDataURI(media.Base64))
	if err != nil {
		metrics.AttachmentFetchesTotal.WithLabelValues(strategy, "error").Inc()
		return nil, errors.ErrMalformed.WithCause(err).WithDetail("message_id", msg.ID)
	}

	metrics.AttachmentFetchesTotal.WithLabelValues(strategy, "ok").Inc()

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = hint.MimeType
	}
	filename := media.Filename
	if filename == "" {
		filename = hint.Filename
	}
	return newAttachment(raw, filename, mimeType, msg.TimestampMs), nil
}

func (p *Pipeline) decodeInline(hint *MediaHint) (*models.Attachment, error) {
	raw, err := base64.StdEncoding.DecodeString(stripDataURI(hint.InlineBase64))
	if err != nil {
		return nil, errors.ErrMalformed.WithCause(err)
	}
	return newAttachment(raw, hint.Filename, hint.MimeType, time.Now().UnixMilli()), nil
}

// CollectOutbound finds the attachment records of an outgoing inbox
// message. Discovery order: the webhook payload's own attachments
// field, re-fetching the message by id, then listing the conversation's
// attachments and filtering by message id. The later steps cover the
// platform's habit of omitting attachment metadata from push events.
func (p *Pipeline) CollectOutbound(ctx context.Context, conversationID int, messageID int64, inline []inbox.AttachmentRecord) ([]inbox.AttachmentRecord, error) {
	if len(inline) > 0 {
		return inline, nil
	}

	msg, err := p.inbox.GetMessage(ctx, conversationID, messageID)
	if err == nil && len(msg.Attachments) > 0 {
		return msg.Attachments, nil
	}
	if err != nil && !errors.IsNotFound(err) {
		p.logger.WarnwCtx(ctx, "Message re-fetch failed during attachment discovery",
			"conversation_id", conversationID,
			"inbox_message_id", messageID,
			"error", err,
		)
	}

	all, err := p.inbox.ListAttachments(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var matched []inbox.AttachmentRecord
	for _, rec := range all {
		if rec.MessageID == messageID {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// ResolveBytes turns an inbox attachment record into concrete bytes.
// Inline base64 wins; otherwise the record's URL is fetched, with
// localhost origins rewritten to the platform's internal address.
func (p *Pipeline) ResolveBytes(ctx context.Context, rec inbox.AttachmentRecord) (*models.Attachment, error) {
	mimeType := mimeFromRecord(rec)
	filename := filenameFromRecord(rec, mimeType)

	if rec.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(stripDataURI(rec.Data))
		if err != nil {
			return nil, errors.ErrMalformed.WithCause(err).WithDetail("attachment_id", rec.ID)
		}
		if m := dataURIMime(rec.Data); m != "" {
			mimeType = m
		}
		return newAttachment(raw, filename, mimeType, time.Now().UnixMilli()), nil
	}

	url := rec.URL()
	if url == "" {
		return nil, errors.ErrNoAttachment.WithDetail("attachment_id", rec.ID)
	}

	raw, err := p.inbox.FetchAttachment(ctx, url)
	if err != nil {
		return nil, err
	}
	return newAttachment(raw, filename, mimeType, time.Now().UnixMilli()), nil
}

// SendToGateway delivers an attachment to a phone number. The gateway's
// send API rejects bare base64, so the payload is framed as a data URI.
// Voice notes go through the dedicated voice operation.
func (p *Pipeline) SendToGateway(ctx context.Context, phone string, att *models.Attachment, caption string) error {
	dataURI := WrapDataURI(att.MimeType, att.Bytes)

	if IsVoiceNote(att.MimeType) {
		return p.gateway.SendVoiceBase64(ctx, phone, dataURI)
	}
	return p.gateway.SendFileBase64(ctx, phone, dataURI, att.Filename, caption)
}

// WrapDataURI frames raw bytes as data:<mime>;base64,<payload>.
func WrapDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// IsVoiceNote reports whether a mime type denotes a voice recording.
func IsVoiceNote(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/ogg") || strings.HasPrefix(mimeType, "audio/opus")
}

func newAttachment(raw []byte, filename, mimeType string, timestampMs int64) *models.Attachment {
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}
	if filename == "" {
		filename = SynthesizeFilename(mimeType, timestampMs/1000)
	}
	return &models.Attachment{
		Bytes:    raw,
		Filename: filename,
		MimeType: mimeType,
	}
}

func stripDataURI(s string) string {
	if payload := dataURIPayload(s); payload != "" {
		return payload
	}
	return s
}

func mimeFromRecord(rec inbox.AttachmentRecord) string {
	switch rec.FileType {
	case "image":
		return "image/jpeg"
	case "video":
		return "video/mp4"
	case "audio":
		return "audio/ogg"
	default:
		if rec.Extension != "" {
			if mt := mime.TypeByExtension("." + strings.TrimPrefix(rec.Extension, ".")); mt != "" {
				return mt
			}
		}
		return constants.DefaultMimeType
	}
}

func filenameFromRecord(rec inbox.AttachmentRecord, mimeType string) string {
	url := rec.URL()
	if url != "" {
		if idx := strings.LastIndex(url, "/"); idx >= 0 && idx < len(url)-1 {
			name := url[idx+1:]
			if q := strings.Index(name, "?"); q >= 0 {
				name = name[:q]
			}
			if name != "" {
				return name
			}
		}
	}
	if rec.Extension != "" {
		return fmt.Sprintf("attachment-%d.%s", rec.ID, strings.TrimPrefix(rec.Extension, "."))
	}
	return SynthesizeFilename(mimeType, time.Now().Unix())
}
