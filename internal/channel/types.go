// Package channel defines the transport-facing types and interfaces the
// router consumes. The concrete Telegram adapter lives in the telegram
// subpackage; the router itself is platform-agnostic.
package channel

import (
	"strconv"
	"strings"
	"time"
)

// EventKind tags an inbound event.
type EventKind string

const (
	// EventStart is the /start command.
	EventStart EventKind = "start"
	// EventMenu is an inline-keyboard selection.
	EventMenu EventKind = "menu"
	// EventText is a plain text message from an end user.
	EventText EventKind = "text"
	// EventAttachment is a document or photo from an end user.
	EventAttachment EventKind = "attachment"
	// EventManagerReply is a message in the manager chat replying to a
	// previously forwarded message.
	EventManagerReply EventKind = "manager_reply"
)

// Identity describes the sender of an event.
type Identity struct {
	UserID    int64
	FirstName string
	Username  string
}

// Summary renders the identity the way managers see it: name, @username
// (or an explicit "none"), and the numeric ID.
func (i Identity) Summary() string {
	username := strings.TrimSpace(i.Username)
	if username == "" {
		username = "нет"
	} else {
		username = "@" + username
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(i.FirstName))
	b.WriteString(" (")
	b.WriteString(username)
	b.WriteString(", ID: ")
	b.WriteString(strconv.FormatInt(i.UserID, 10))
	b.WriteString(")")
	return b.String()
}

// Attachment references a file on the platform, resolvable to bytes
// through an AttachmentResolver.
type Attachment struct {
	FileID string
	Name   string
	Size   int64
}

// Event is one inbound occurrence from the transport.
type Event struct {
	Kind       EventKind
	ChatID     int64
	Sender     Identity
	Text       string
	MenuSelect string
	// CallbackID answers the platform's callback query for menu events.
	CallbackID string
	Attachment *Attachment
	// RepliedToMessageID is set for manager replies: the ID of the message
	// the manager replied to.
	RepliedToMessageID int64
	ReceivedAt         time.Time
}

// Button is one inline-keyboard button.
type Button struct {
	Label string
	Data  string
}

// Keyboard is an inline keyboard, one row per inner slice. A nil Keyboard
// sends the message without markup.
type Keyboard [][]Button

// Document is an outbound file payload.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}
