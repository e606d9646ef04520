package cel

// IgnoreExpressionExamples shows the shapes operators can use in the
// relay.ignore_rules config list. Variables: id, direction ("inbound"
// or "outbound"), chat_id, sender_name, text, media_type, has_media.
var IgnoreExpressionExamples = map[string]string{
	"mute_chat":          `chat_id == "5511999999999"`,
	"drop_stickers":      `media_type == "sticker"`,
	"drop_empty_inbound": `direction == "inbound" && text == "" && !has_media`,
	"keyword_filter":     `text.contains("PROMO")`,
	"sender_prefix":      `sender_name.startsWith("Bot ")`,
	"combined":           `direction == "outbound" && media_type == "video"`,
}
