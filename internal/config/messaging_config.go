package config

import "time"

const (
	// Attachments
	MaxAttachmentBytes = 20 << 20
	AttachmentPrefix   = "chat_images"

	// Session
	DefaultHandshakeTimeout = 10 * time.Second
	SendBufferSize          = 256
	InflightTimeout         = 5 * time.Second
	MaxFrameBytes           = 32 << 20
	FrameRateLimit          = 10
	FrameRateBurst          = 20

	// Offline notices run after the frame is handled
	OfflineNoticeTimeout = 15 * time.Second

	// Tokens
	TokenTTL    = 72 * time.Hour
	TokenIssuer = "clinicmsg-service"
)

// Close codes sent to the client when the server ends a session.
const (
	CloseNoCredential      = 4001
	CloseInvalidCredential = 4002
	CloseUserNotFound      = 4003
	ClosePeerNotFound      = 4004
	CloseSelfConversation  = 4005
	CloseHandshakeTimeout  = 4008

	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseGoingAway       = 1001
	CloseNormal          = 1000
)

// Error event codes.
const (
	ErrCodeMalformedFrame     = "malformed_frame"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodeAttachmentTooLarge = "attachment_too_large"
	ErrCodeInvalidAttachment  = "invalid_attachment"
	ErrCodeStorage            = "storage_error"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodePeerNotFound       = "peer_not_found"
	ErrCodeSelfConversation   = "self_conversation"
	ErrCodeUnsupportedFrame   = "unsupported_frame"
	ErrCodeStatusRegression   = "status_regression"
	ErrCodeDeliveryFailed     = "delivery_failed"
)
