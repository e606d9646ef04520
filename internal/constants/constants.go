package constants

import "time"

const (
	// DefaultUpstreamTimeout bounds every call to the gateway or the inbox
	// platform. Media downloads can be large, so this is generous.
	DefaultUpstreamTimeout = 60 * time.Second

	ShutdownTimeout = 5 * time.Second
)

const (
	// DedupTTL is how long a processed message id suppresses reprocessing.
	DedupTTL = 10 * time.Second

	// DedupMaxEntries caps each in-memory dedup cache; past the ceiling
	// the oldest half is evicted.
	DedupMaxEntries = 1000

	CacheKeyPrefixInbound  = "bridge:dedup:in:"
	CacheKeyPrefixOutbound = "bridge:dedup:out:"
)

const (
	DefaultBootDelay        = 8 * time.Second
	DefaultInboundInterval  = 3 * time.Second
	DefaultOutboundInterval = 3 * time.Second

	// MaxChatsPerTick bounds inbound poll latency per tick.
	MaxChatsPerTick = 5

	// MessagesPerChat is how many recent messages are fetched per
	// eligible chat.
	MessagesPerChat = 5

	// StalenessWindow: messages older than this are residual backlog,
	// not new activity, and are skipped by the poller.
	StalenessWindow = time.Hour
)

const (
	// MediaPlaceholderText replaces caption text that is itself an
	// encoded payload; raw base64 must never surface as conversation
	// text.
	MediaPlaceholderText = "Media message received"

	// Base64TextThreshold: a body longer than this consisting purely of
	// base64 alphabet is treated as inline media, not text.
	Base64TextThreshold = 1000

	DefaultMimeType = "application/octet-stream"

	// ThumbnailBase64Threshold: an inline image payload at or below this
	// size is assumed to be a low-resolution preview and a full-quality
	// download is performed instead.
	ThumbnailBase64Threshold = 8192
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	DedupStoreMemory = "memory"
	DedupStoreRedis  = "redis"
)
