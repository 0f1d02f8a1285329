package chatsync

import "github.com/google/uuid"

// allConversations keys global subscribers.
const allConversations int64 = 0

// Topic is a typed publish/subscribe channel confined to the loop.
// Subscribers register globally or for one conversation.
type Topic[T any] struct {
	subs  map[string]*subscriber[T]
	order []string
}

type subscriber[T any] struct {
	conversationID int64
	fn             func(T)
}

// Subscribe registers fn for every published value. It returns the
// subscription id.
func (t *Topic[T]) Subscribe(fn func(T)) string {
	return t.SubscribeConversation(allConversations, fn)
}

// SubscribeConversation registers fn for values published for conversationID.
func (t *Topic[T]) SubscribeConversation(conversationID int64, fn func(T)) string {
	if t.subs == nil {
		t.subs = make(map[string]*subscriber[T])
	}
	id := uuid.NewString()
	t.subs[id] = &subscriber[T]{conversationID: conversationID, fn: fn}
	t.order = append(t.order, id)
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (t *Topic[T]) Unsubscribe(id string) {
	if _, ok := t.subs[id]; !ok {
		return
	}
	delete(t.subs, id)
	for i, cur := range t.order {
		if cur == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// Publish delivers v to global subscribers and to those registered for
// conversationID, in subscription order.
func (t *Topic[T]) Publish(conversationID int64, v T) {
	order := t.order
	for _, id := range order {
		s, ok := t.subs[id]
		if !ok {
			continue
		}
		if s.conversationID == allConversations || s.conversationID == conversationID {
			s.fn(v)
		}
	}
}

// Len returns the number of live subscriptions.
func (t *Topic[T]) Len() int {
	return len(t.subs)
}

// TimelineChangeKind says what happened to a conversation timeline.
type TimelineChangeKind int

const (
	TimelineLoaded TimelineChangeKind = iota
	TimelinePrepended
	TimelineAppended
	TimelineStatus
	TimelineEdited
	TimelineDeleted
	TimelineReactions
	TimelineCleared
)

func (k TimelineChangeKind) String() string {
	switch k {
	case TimelineLoaded:
		return "loaded"
	case TimelinePrepended:
		return "prepended"
	case TimelineAppended:
		return "appended"
	case TimelineStatus:
		return "status"
	case TimelineEdited:
		return "edited"
	case TimelineDeleted:
		return "deleted"
	case TimelineReactions:
		return "reactions"
	case TimelineCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// TimelineChange notifies that a conversation's messages changed.
type TimelineChange struct {
	ConversationID int64
	Kind           TimelineChangeKind
	MessageID      int64 // zero for page loads and teardown
	Count          int   // messages added by loads
}

// TypingChange carries who is typing in a conversation after a change.
type TypingChange struct {
	ConversationID int64
	Users          []int64
}

// UnreadRefresh asks conversation-list views to refresh unread counts.
type UnreadRefresh struct {
	ConversationID int64
}

// Bus groups the topics the sync core publishes on.
type Bus struct {
	State          Topic[StateEvent]
	Timeline       Topic[TimelineChange]
	Typing         Topic[TypingChange]
	Unread         Topic[UnreadRefresh]
	FriendRequests Topic[FriendRequestEvent]
	Errors         Topic[error]
}
