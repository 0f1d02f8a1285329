package chatsync

import "encoding/json"

const (
	// inbound frame types (server -> client)
	frameMessage        = "message"
	frameMessageStatus  = "message_status"
	frameMessageDeleted = "message_deleted"
	frameMessageEdited  = "message_edited"
	frameReaction       = "reaction"
	frameFriendRequest  = "friend_request"
	frameTyping         = "typing"
	framePong           = "pong"

	// outbound frame types (client -> server)
	framePing = "ping"

	friendRequestReceived = "received"
)

// envelope is the part of every inbound frame needed to route it.
type envelope struct {
	Type string `json:"type"`
}

type messageFrame struct {
	Message *Message `json:"message"`
}

type statusFrame struct {
	MessageID      int64  `json:"message_id"`
	ConversationID int64  `json:"chat_id"`
	Status         Status `json:"status"`
}

type deletedFrame struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"chat_id"`
}

type editedFrame struct {
	MessageID      int64  `json:"message_id"`
	ConversationID int64  `json:"chat_id"`
	Content        string `json:"content"`
}

type reactionFrame struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"chat_id"`
	Reactions      Reactions `json:"reactions"`
}

type friendRequestFrame struct {
	Action  string          `json:"action"`
	Request json.RawMessage `json:"request"`
}

type typingFrame struct {
	ConversationID int64 `json:"chat_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// OutboundMessage is the frame that submits a new message.
type OutboundMessage struct {
	Type           string       `json:"type"`
	Content        string       `json:"content"`
	ConversationID int64        `json:"chat_id"`
	MessageType    MessageType  `json:"message_type"`
	Attachments    []Attachment `json:"attachments"`
	ReplyToID      *int64       `json:"reply_to_message_id"`
}

// OutboundTyping announces local typing state.
type OutboundTyping struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"chat_id"`
	IsTyping       bool   `json:"is_typing"`
}

// OutboundPing is the keepalive frame.
type OutboundPing struct {
	Type string `json:"type"`
}

// frameType names an outbound frame for logs and metrics.
func frameType(v any) string {
	switch f := v.(type) {
	case OutboundMessage:
		return f.Type
	case OutboundTyping:
		return f.Type
	case OutboundPing:
		return f.Type
	default:
		return "other"
	}
}
