package bridge

import (
	"fmt"
	"mime"
	"strings"

	"chatbridge/internal/constants"
	"chatbridge/internal/gateway"
	"chatbridge/pkg/models"
)

// MediaHint carries what the normalizer learned about a media message's
// inline payload so the attachment pipeline can decide between decoding
// it and downloading the full-quality original.
type MediaHint struct {
	InlineBase64 string
	MimeType     string
	Filename     string

	// TrustInline is false when the inline payload is likely a preview
	// thumbnail. Documents never trust inline data; image payloads below
	// the thumbnail threshold do not either.
	TrustInline bool
}

// Normalizer converts platform-native message shapes into the canonical
// form. It is stateless and safe for concurrent use.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// FromGateway classifies a gateway event message and produces the
// canonical message plus, for media, a hint for the attachment
// pipeline. The canonical message carries no attachment bytes yet.
func (n *Normalizer) FromGateway(ev gateway.EventMessage) (models.Message, *MediaHint) {
	mediaType := classifyGatewayType(ev.Type, ev.MimeType)

	body := ev.Body
	if mediaType == models.MediaNone {
		// A text-typed message whose body is an encoded payload is
		// media in disguise.
		if isDataURI(body) || isLongBase64(body) {
			mediaType = mediaTypeFromMime(dataURIMime(body))
			if mediaType == models.MediaNone {
				mediaType = models.MediaDocument
			}
		}
	}

	msg := models.Message{
		ID:          ev.ID.String(),
		Direction:   models.DirectionInbound,
		MediaType:   mediaType,
		TimestampMs: ev.Timestamp * 1000,
		ChatID:      ev.ChatAddress(),
		SenderName:  ev.NotifyName,
	}

	if mediaType == models.MediaNone {
		msg.Text = body
		return msg, nil
	}

	msg.Text = mediaText(ev.Caption)
	hint := n.mediaHint(ev, mediaType, body)
	return msg, hint
}

func (n *Normalizer) mediaHint(ev gateway.EventMessage, mediaType models.MediaType, body string) *MediaHint {
	hint := &MediaHint{
		MimeType: ev.MimeType,
		Filename: ev.Filename,
	}

	// Prefer the dedicated media payload over the body; the body only
	// ever holds a preview.
	if ev.MediaData != nil && ev.MediaData.Base64 != "" {
		hint.InlineBase64 = ev.MediaData.Base64
		if hint.MimeType == "" {
			hint.MimeType = ev.MediaData.MimeType
		}
	} else if isDataURI(body) {
		hint.InlineBase64 = dataURIPayload(body)
		if hint.MimeType == "" {
			hint.MimeType = dataURIMime(body)
		}
	} else if isLongBase64(body) {
		hint.InlineBase64 = body
	}

	if hint.MimeType == "" {
		hint.MimeType = constants.DefaultMimeType
	}
	if hint.Filename == "" {
		hint.Filename = SynthesizeFilename(hint.MimeType, ev.Timestamp)
	}

	hint.TrustInline = trustInline(mediaType, hint.InlineBase64)
	return hint
}

func trustInline(mediaType models.MediaType, inline string) bool {
	if inline == "" {
		return false
	}
	if mediaType == models.MediaDocument {
		return false
	}
	if mediaType == models.MediaImage && len(inline) <= constants.ThumbnailBase64Threshold {
		return false
	}
	return true
}

// mediaText derives displayable text for a media message. Encoded
// payloads never surface as conversation text.
func mediaText(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return ""
	}
	if isDataURI(caption) || isLongBase64(caption) {
		return constants.MediaPlaceholderText
	}
	return caption
}

func classifyGatewayType(msgType, mimeType string) models.MediaType {
	switch msgType {
	case gateway.TypeChat, "":
		return models.MediaNone
	case gateway.TypeImage:
		return models.MediaImage
	case gateway.TypeDocument:
		return models.MediaDocument
	case gateway.TypeAudio, gateway.TypePTT:
		return models.MediaAudio
	case gateway.TypeVideo:
		return models.MediaVideo
	case gateway.TypeSticker:
		return models.MediaSticker
	default:
		if mt := mediaTypeFromMime(mimeType); mt != models.MediaNone {
			return mt
		}
		return models.MediaDocument
	}
}

func mediaTypeFromMime(mimeType string) models.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.MediaImage
	case strings.HasPrefix(mimeType, "audio/"):
		return models.MediaAudio
	case strings.HasPrefix(mimeType, "video/"):
		return models.MediaVideo
	case mimeType == "":
		return models.MediaNone
	default:
		return models.MediaDocument
	}
}

// SynthesizeFilename builds a filename from the mime type and the
// message timestamp when the platform supplied none.
func SynthesizeFilename(mimeType string, timestamp int64) string {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("attachment-%d%s", timestamp, ext)
}

// TrimTrailingNewlines strips the stray newline runs the inbox platform
// appends to outbound text.
func TrimTrailingNewlines(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func isDataURI(s string) bool {
	if !strings.HasPrefix(s, "data:") {
		return false
	}
	return strings.Contains(s, ";base64,")
}

func dataURIMime(s string) string {
	if !isDataURI(s) {
		return ""
	}
	rest := strings.TrimPrefix(s, "data:")
	if idx := strings.Index(rest, ";"); idx >= 0 {
		return rest[:idx]
	}
	return ""
}

func dataURIPayload(s string) string {
	idx := strings.Index(s, ";base64,")
	if idx < 0 {
		return ""
	}
	return s[idx+len(";base64,"):]
}

func isLongBase64(s string) bool {
	if len(s) <= constants.Base64TextThreshold {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=':
		default:
			return false
		}
	}
	return true
}
