package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTranscribeConnect   ReasonCode = "transcribe_connect"
	ReasonTranscribeTimeout   ReasonCode = "transcribe_timeout"
	ReasonTranscribeOversize  ReasonCode = "transcribe_oversize"
	ReasonTranscribeRateLimit ReasonCode = "transcribe_rate_limit"

	ReasonSynthesizeConnect   ReasonCode = "synthesize_connect"
	ReasonSynthesizeTimeout   ReasonCode = "synthesize_timeout"
	ReasonSynthesizeRateLimit ReasonCode = "synthesize_rate_limit"

	ReasonReplyGenerate  ReasonCode = "reply_generate"
	ReasonReplyRateLimit ReasonCode = "reply_rate_limit"

	ReasonCodecDecode ReasonCode = "codec_decode"
	ReasonCodecLength ReasonCode = "codec_length"

	ReasonStreamDuplicate ReasonCode = "stream_duplicate"
	ReasonStreamClosed    ReasonCode = "stream_closed"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportBadFrame         ReasonCode = "transport_bad_frame"
	ReasonTransportSend             ReasonCode = "transport_send"
)
