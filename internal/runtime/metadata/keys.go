package metadata

// Keys stamped on every dispatched delivery. They are reserved and should not
// be used for custom metadata.
const (
	KeyMessageID        = "kernel_message_id"
	KeySender           = "kernel_sender"
	KeyRecipient        = "kernel_recipient"
	KeyInReplyTo        = "kernel_in_reply_to"
	KeyBodyKind         = "kernel_body_kind"
	KeyResponseRequired = "kernel_response_required"
	KeyContentType      = "kernel_content_type"

	// KeyCorrelationID groups a request with its replies: the request id for
	// fresh messages, the answered id for replies.
	KeyCorrelationID = "correlation_id"

	// KeyEnqueuedAt records when the pipeline handed the delivery to its dispatcher.
	KeyEnqueuedAt = "kernel_enqueued_at"
)
