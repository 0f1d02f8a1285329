package chatsync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the longest message body, in characters, the sender accepts.
const MaxContentLength = 500

// OutgoingMessage is a message the user is submitting.
type OutgoingMessage struct {
	ConversationID int64
	Content        string
	Type           MessageType // defaults to text
	Attachments    []Attachment
	ReplyToID      *int64
}

// frameSender is the part of the connection manager the sender writes to.
type frameSender interface {
	Send(frame any) error
}

// Sender translates user intents into channel frames or historical API calls.
// Nothing is applied locally: the store changes only when the server echoes
// the result on the live channel.
type Sender struct {
	loop    runner
	conn    frameSender
	history HistoryAPI
	bus     *Bus
	logger  Logger
}

// NewSender creates a sender.
func NewSender(loop runner, conn frameSender, history HistoryAPI, bus *Bus, logger Logger) *Sender {
	if logger == nil {
		logger = noopLogger{}
	}
	if bus == nil {
		bus = &Bus{}
	}
	return &Sender{loop: loop, conn: conn, history: history, bus: bus, logger: logger}
}

// Send submits msg over the live channel. Must run on the loop.
// The message appears in the timeline only when its echo arrives.
func (s *Sender) Send(msg OutgoingMessage) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" && len(msg.Attachments) == 0 {
		return NewError(ErrorInvalidArgument, "message has no content or attachments")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return NewError(ErrorInvalidArgument, fmt.Sprintf("message is %d characters, limit is %d", n, MaxContentLength))
	}
	if msg.ConversationID == 0 {
		return NewError(ErrorInvalidArgument, "message has no conversation")
	}
	typ := msg.Type
	if typ == "" {
		typ = MessageTypeText
	}
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	return s.conn.Send(OutboundMessage{
		Type:           frameMessage,
		Content:        content,
		ConversationID: msg.ConversationID,
		MessageType:    typ,
		Attachments:    attachments,
		ReplyToID:      msg.ReplyToID,
	})
}

// SetTyping announces the local user's typing state. Must run on the loop.
func (s *Sender) SetTyping(conversationID int64, typing bool) error {
	return s.conn.Send(OutboundTyping{Type: frameTyping, ConversationID: conversationID, IsTyping: typing})
}

// MarkSeen marks every message in the conversation seen and, on success,
// asks conversation lists to refresh their unread counts.
// Must not run on the loop.
func (s *Sender) MarkSeen(ctx context.Context, conversationID int64) error {
	if err := s.history.MarkSeen(ctx, conversationID); err != nil {
		s.logger.Warn("mark seen failed", map[string]any{"conversation_id": conversationID, "error": err.Error()})
		return WrapError(ErrorRequest, fmt.Sprintf("mark conversation %d seen", conversationID), err)
	}
	return s.loop.Do(ctx, func() {
		s.bus.Unread.Publish(conversationID, UnreadRefresh{ConversationID: conversationID})
	})
}

// Edit asks the server to replace a message's content.
func (s *Sender) Edit(ctx context.Context, messageID int64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return NewError(ErrorInvalidArgument, "edited content is empty")
	}
	if err := s.history.EditMessage(ctx, messageID, content); err != nil {
		return WrapError(ErrorRequest, fmt.Sprintf("edit message %d", messageID), err)
	}
	return nil
}

// Delete asks the server to delete a message.
func (s *Sender) Delete(ctx context.Context, messageID int64) error {
	if err := s.history.DeleteMessage(ctx, messageID); err != nil {
		return WrapError(ErrorRequest, fmt.Sprintf("delete message %d", messageID), err)
	}
	return nil
}

// React toggles the user's emoji reaction on a message.
func (s *Sender) React(ctx context.Context, messageID int64, emoji string) error {
	if emoji == "" {
		return NewError(ErrorInvalidArgument, "reaction emoji is empty")
	}
	if err := s.history.AddReaction(ctx, messageID, emoji); err != nil {
		return WrapError(ErrorRequest, fmt.Sprintf("react to message %d", messageID), err)
	}
	return nil
}

// Upload stores a file and returns the attachment to send with a message.
func (s *Sender) Upload(ctx context.Context, filename string, r io.Reader) (Attachment, error) {
	a, err := s.history.Upload(ctx, filename, r)
	if err != nil {
		return Attachment{}, WrapError(ErrorRequest, fmt.Sprintf("upload %s", filename), err)
	}
	return a, nil
}
