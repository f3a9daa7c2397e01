// Package chatapps runs the onboarding dialogue over external chat
// platforms. A platform adapter turns webhook payloads into incoming
// messages and delivers assistant replies back; the dialogue itself stays
// in the onboarding engine.
package chatapps

import "time"

// MessageType classifies an incoming message. The dialogue is text only;
// anything else is surfaced as unsupported so the caller can answer with
// a hint instead of dropping the update silently.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeUnsupported
)

// String returns the string representation of MessageType.
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "text"
	case MessageTypeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Platform identifies a supported chat platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
)

// IsValid checks if the platform is supported.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformTelegram:
		return true
	default:
		return false
	}
}

// IncomingMessage is a message received from a chat platform.
type IncomingMessage struct {
	Platform       Platform          // Source platform
	PlatformUserID string            // Platform-specific user ID
	PlatformChatID string            // Platform-specific chat ID
	Type           MessageType       // Text or unsupported
	Content        string            // Text content
	Metadata       map[string]string // Additional platform-specific metadata
	Timestamp      time.Time         // Receive timestamp
}

// OutgoingMessage is a message to deliver to a chat platform.
type OutgoingMessage struct {
	PlatformChatID string // Destination chat ID
	Content        string // Text content, markdown allowed
	ParseMode      string // Platform parse mode; empty means flatten to plain text
}

// Credential binds a platform account to a household identity. The bot
// token is encrypted before it reaches this struct and stays encrypted
// at rest.
type Credential struct {
	ID             int64
	FamilyID       string
	UserID         string
	Platform       Platform
	PlatformUserID string
	PlatformChatID string
	BotToken       string // Encrypted at rest
	Enabled        bool
	CreatedTs      int64
	UpdatedTs      int64
}
