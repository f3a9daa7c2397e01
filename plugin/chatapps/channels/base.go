// Package channels defines the ChatChannel interface that every chat
// platform adapter implements, plus the router that dispatches webhook
// traffic to the registered adapter.
package channels

import (
	"context"
	"io"
	"sync"

	"github.com/hearth-home/hearth/plugin/chatapps"
)

// ChatChannel is a chat platform adapter. The onboarding dialogue is text
// only, so the surface is deliberately small: validate and parse inbound
// webhooks, deliver replies, and stream a growing draft.
type ChatChannel interface {
	// Name returns the platform name (e.g. "telegram").
	Name() chatapps.Platform

	// ValidateWebhook verifies the incoming webhook request.
	// Returns an error if the request signature is invalid.
	ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error

	// ParseMessage parses the platform-specific webhook payload into an
	// IncomingMessage.
	ParseMessage(ctx context.Context, payload []byte) (*chatapps.IncomingMessage, error)

	// SendMessage delivers a single message to the chat platform.
	SendMessage(ctx context.Context, msg *chatapps.OutgoingMessage) error

	// SendChunkedMessage streams reply chunks into the chat. The draft
	// grows as chunks arrive and is finalized when the channel closes.
	SendChunkedMessage(ctx context.Context, chatID string, chunks <-chan string) error

	// Close releases any open connections.
	Close() error
}

// ChannelRouter holds the registered channel per platform and fans webhook
// traffic out to it. Concurrent-safe for Register and GetChannel.
type ChannelRouter struct {
	mu       sync.RWMutex
	registry map[chatapps.Platform]ChatChannel
}

// NewChannelRouter creates an empty channel router.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{
		registry: make(map[chatapps.Platform]ChatChannel),
	}
}

// Register registers a chat channel for its platform, replacing any
// previous registration.
func (r *ChannelRouter) Register(channel ChatChannel) {
	r.mu.Lock()
	r.registry[channel.Name()] = channel
	r.mu.Unlock()
}

// GetChannel returns the channel for a platform, or nil if not registered.
func (r *ChannelRouter) GetChannel(platform chatapps.Platform) ChatChannel {
	r.mu.RLock()
	ch := r.registry[platform]
	r.mu.RUnlock()
	return ch
}

// HandleWebhook validates and parses an incoming webhook request for the
// given platform.
func (r *ChannelRouter) HandleWebhook(ctx context.Context, platform chatapps.Platform, headers map[string]string, body []byte) (*chatapps.IncomingMessage, error) {
	channel := r.GetChannel(platform)
	if channel == nil {
		return nil, ErrNoChannelForPlatform
	}

	if err := channel.ValidateWebhook(ctx, headers, body); err != nil {
		return nil, err
	}

	return channel.ParseMessage(ctx, body)
}

// SendResponse delivers a single reply to a chat platform.
func (r *ChannelRouter) SendResponse(ctx context.Context, platform chatapps.Platform, msg *chatapps.OutgoingMessage) error {
	channel := r.GetChannel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}

	return channel.SendMessage(ctx, msg)
}

// SendChunkedResponse streams a reply to a chat platform.
func (r *ChannelRouter) SendChunkedResponse(ctx context.Context, platform chatapps.Platform, chatID string, chunks <-chan string) error {
	channel := r.GetChannel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}

	return channel.SendChunkedMessage(ctx, chatID, chunks)
}

// Errors
var (
	ErrNoChannelForPlatform = &ChannelError{Code: "NO_CHANNEL", Message: "no channel registered for platform"}
	ErrInvalidSignature     = &ChannelError{Code: "INVALID_SIGNATURE", Message: "webhook signature validation failed"}
	ErrInvalidPayload       = &ChannelError{Code: "INVALID_PAYLOAD", Message: "could not parse webhook payload"}
	ErrUnsupportedMessage   = &ChannelError{Code: "UNSUPPORTED_MESSAGE", Message: "message type is not supported"}
)

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether redelivering the same request could succeed.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "NO_CHANNEL", "INVALID_SIGNATURE", "INVALID_PAYLOAD", "UNSUPPORTED_MESSAGE":
		return false
	default:
		return true
	}
}

var _ io.Closer = (*ChannelRouter)(nil)

// Close closes all registered channels.
func (r *ChannelRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, channel := range r.registry {
		if err := channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
