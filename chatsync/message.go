package chatsync

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// TombstoneContent replaces the content of a deleted message.
const TombstoneContent = "This message was deleted"

// Status is the delivery lifecycle marker of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Rank orders statuses sent < delivered < seen. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// MessageType is the server's content kind for a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeFile  MessageType = "file"
	MessageTypeImage MessageType = "image"
)

// Attachment is a file attached to a message. Immutable once attached.
type Attachment struct {
	Filename string `json:"filename"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// HumanSize renders FileSize for display, e.g. "1.2 MB".
func (a Attachment) HumanSize() string {
	if a.FileSize < 0 {
		return humanize.Bytes(0)
	}
	return humanize.Bytes(uint64(a.FileSize))
}

// IsImage reports whether the attachment MIME type is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.FileType, "image/")
}

// Reaction is the aggregate for one emoji on one message.
type Reaction struct {
	Count int
	Users map[int64]struct{}
}

// Reactions maps emoji to its aggregate. The server always sends the full
// recomputed set, so a Reactions value is authoritative and total.
type Reactions map[string]Reaction

type wireReaction struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// UnmarshalJSON decodes the server's [{emoji, count, users}] array.
func (r *Reactions) UnmarshalJSON(data []byte) error {
	var list []wireReaction
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := make(Reactions, len(list))
	for _, w := range list {
		users := make(map[int64]struct{}, len(w.Users))
		for _, u := range w.Users {
			users[u] = struct{}{}
		}
		out[w.Emoji] = Reaction{Count: w.Count, Users: users}
	}
	*r = out
	return nil
}

// MarshalJSON encodes reactions back into the server's array form, ordered by emoji.
func (r Reactions) MarshalJSON() ([]byte, error) {
	list := make([]wireReaction, 0, len(r))
	for _, emoji := range r.Emojis() {
		agg := r[emoji]
		users := make([]int64, 0, len(agg.Users))
		for u := range agg.Users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		list = append(list, wireReaction{Emoji: emoji, Count: agg.Count, Users: users})
	}
	return json.Marshal(list)
}

// Emojis returns the reacted emoji in a stable order.
func (r Reactions) Emojis() []string {
	out := make([]string, 0, len(r))
	for e := range r {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// ReactedBy reports whether userID is among the reactors for emoji.
func (r Reactions) ReactedBy(emoji string, userID int64) bool {
	_, ok := r[emoji].Users[userID]
	return ok
}

func (r Reactions) clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for e, agg := range r {
		users := make(map[int64]struct{}, len(agg.Users))
		for u := range agg.Users {
			users[u] = struct{}{}
		}
		out[e] = Reaction{Count: agg.Count, Users: users}
	}
	return out
}

// Timestamp is a time that also accepts the server's zone-less UTC format.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON parses RFC3339 or a zone-less timestamp interpreted as UTC.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON encodes the timestamp as RFC3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Message is one entry of a conversation timeline.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"chat_id"`
	SenderID       int64        `json:"sender_id"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"message_type,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Status         Status       `json:"status"`
	IsEdited       bool         `json:"is_edited"`
	IsDeleted      bool         `json:"is_deleted"`
	ReplyToID      *int64       `json:"reply_to_message_id,omitempty"`
	Reactions      Reactions    `json:"reactions,omitempty"`
	CreatedAt      Timestamp    `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the loop.
func (m *Message) Clone() Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		out.ReplyToID = &id
	}
	out.Reactions = m.Reactions.clone()
	return out
}
