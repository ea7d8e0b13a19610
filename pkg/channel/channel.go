// Package channel defines the interface for chat channels.
// The bot receives commands and delivers notifications through a Channel.
package channel

import "context"

// Message represents an incoming chat message.
type Message struct {
	// Source identifies the channel (e.g., "matrix")
	Source string

	// SenderID is the channel-specific sender identifier
	SenderID string

	// RoomID is the channel-specific room identifier
	RoomID string

	// Content is the plain message text
	Content string

	// Timestamp is the message timestamp in milliseconds
	Timestamp int64
}

// Response represents an outgoing message.
type Response struct {
	// RoomID is the target room
	RoomID string

	// Content is Markdown text
	Content string

	// ImageURL is an optional image shown with the message
	ImageURL string
}

// Sender delivers responses. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, resp Response) error
}

// Channel is the interface for a chat channel.
type Channel interface {
	Sender

	// Name returns the channel identifier (e.g., "matrix").
	Name() string

	// Start begins listening for messages. Blocks until ctx is cancelled.
	// Received messages are passed to handler in arrival order.
	Start(ctx context.Context, handler MessageHandler) error

	// Stop gracefully shuts down the channel.
	Stop() error
}

// MessageHandler is called for each received message.
type MessageHandler func(ctx context.Context, msg Message) error
