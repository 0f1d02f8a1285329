package chatsync

import "encoding/json"

// Event is a decoded inbound frame.
type Event interface {
	EventType() string
}

// NewMessageEvent delivers a message created on the server, including the
// echo of messages this client sent.
type NewMessageEvent struct {
	Message Message
}

// StatusUpdateEvent moves a message forward in sent < delivered < seen.
type StatusUpdateEvent struct {
	MessageID      int64
	ConversationID int64
	Status         Status
}

// MessageDeletedEvent tombstones a message.
type MessageDeletedEvent struct {
	MessageID      int64
	ConversationID int64
}

// MessageEditedEvent replaces a message's content.
type MessageEditedEvent struct {
	MessageID      int64
	ConversationID int64
	Content        string
}

// ReactionChangedEvent carries the full reaction aggregate for a message.
type ReactionChangedEvent struct {
	MessageID      int64
	ConversationID int64
	Reactions      Reactions
}

// FriendRequestEvent is raised when a friend request is received. The
// request body is passed through undecoded for the friends collaborator.
type FriendRequestEvent struct {
	Request json.RawMessage
}

// TypingEvent reports a remote user's typing state.
type TypingEvent struct {
	ConversationID int64
	UserID         int64
	IsTyping       bool
}

// PongEvent answers a keepalive ping.
type PongEvent struct{}

func (NewMessageEvent) EventType() string      { return frameMessage }
func (StatusUpdateEvent) EventType() string    { return frameMessageStatus }
func (MessageDeletedEvent) EventType() string  { return frameMessageDeleted }
func (MessageEditedEvent) EventType() string   { return frameMessageEdited }
func (ReactionChangedEvent) EventType() string { return frameReaction }
func (FriendRequestEvent) EventType() string   { return frameFriendRequest }
func (TypingEvent) EventType() string          { return frameTyping }
func (PongEvent) EventType() string            { return framePong }
