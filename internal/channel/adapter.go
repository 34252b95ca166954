package channel

import "context"

// Handler is invoked for each inbound event. The receiver dispatches it
// through the router's sequencer, so implementations may block on I/O
// without stalling other users.
type Handler func(ctx context.Context, ev Event)

// Sender delivers outbound messages. Message IDs returned by SendText and
// SendDocument key the relay table, so they must be the platform-assigned
// IDs of the messages actually sent.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (messageID int64, err error)
	SendDocument(ctx context.Context, chatID int64, doc Document) (messageID int64, err error)
	SendTyping(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// AttachmentResolver fetches the bytes behind an attachment reference.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, att Attachment) ([]byte, error)
}

// Receiver runs the long-lived inbound loop, delivering each event to the
// handler. Run blocks until ctx is cancelled; transient connection
// failures are retried internally with backoff so the caller's state
// survives a recycled connection.
type Receiver interface {
	Run(ctx context.Context, handler Handler) error
}
