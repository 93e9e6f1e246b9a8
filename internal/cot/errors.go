package cot

import "errors"

// Decode failures. Each is a distinct value so callers can tell protocol
// incompatibility apart from irrelevant traffic and from truncated input.
var (
	// ErrMalformedXML wraps an XML syntax error from the underlying parser.
	ErrMalformedXML = errors.New("cot: malformed xml")

	// ErrMissingUID means the event carries no uid attribute.
	ErrMissingUID = errors.New("cot: event has no uid")

	// ErrNotChat means the event is valid CoT but not typed as chat.
	ErrNotChat = errors.New("cot: event is not a chat message")

	// ErrMissingChatDetail means a chat-typed event has no chat-group
	// container under any accepted element spelling.
	ErrMissingChatDetail = errors.New("cot: chat event has no chat detail")

	// ErrMissingRemarks means a chat-typed event has no remarks element.
	ErrMissingRemarks = errors.New("cot: chat event has no remarks")

	// ErrEmptyBody means the remarks element is present but empty. An
	// event without body text is not a valid chat message.
	ErrEmptyBody = errors.New("cot: chat event has empty body")

	// ErrNoSenderUID means no fallback source yielded a sender identity.
	ErrNoSenderUID = errors.New("cot: cannot determine sender uid")
)

// Encode failures.
var (
	ErrNoSenderIdentity = errors.New("cot: send request has no sender uid")
	ErrEmptyMessage     = errors.New("cot: send request has no message text")
	ErrNoRecipient      = errors.New("cot: direct send request has no recipient")
)
