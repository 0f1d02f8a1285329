package chatsync

import (
	"sort"
	"time"
)

type typingKey struct {
	conversationID int64
	userID         int64
}

type localTyping struct {
	active bool
	timer  Timer
}

// TypingAggregator drives the local typing announcement and tracks who else
// is typing. It is confined to the loop.
type TypingAggregator struct {
	sched   scheduler
	sender  *Sender
	bus     *Bus
	logger  Logger
	silence time.Duration
	expiry  time.Duration

	local  map[int64]*localTyping
	remote map[typingKey]Timer
}

// NewTypingAggregator creates an aggregator. silence is how long local input
// may pause before typing(false) is sent; expiry is how long a remote
// typing(true) is shown without a refresh.
func NewTypingAggregator(sched scheduler, sender *Sender, bus *Bus, logger Logger, silence, expiry time.Duration) *TypingAggregator {
	if logger == nil {
		logger = noopLogger{}
	}
	if bus == nil {
		bus = &Bus{}
	}
	return &TypingAggregator{
		sched:   sched,
		sender:  sender,
		bus:     bus,
		logger:  logger,
		silence: silence,
		expiry:  expiry,
		local:   make(map[int64]*localTyping),
		remote:  make(map[typingKey]Timer),
	}
}

// InputActivity records a keystroke in the conversation's composer.
func (t *TypingAggregator) InputActivity(conversationID int64) {
	lt := t.local[conversationID]
	if lt == nil {
		lt = &localTyping{}
		t.local[conversationID] = lt
	}
	if !lt.active {
		lt.active = true
		t.announce(conversationID, true)
	}
	if lt.timer != nil {
		lt.timer.Stop()
	}
	lt.timer = t.sched.AfterFunc(t.silence, func() {
		lt.timer = nil
		t.StopTyping(conversationID)
	})
}

// StopTyping ends the local typing state at once, as when a message is submitted.
func (t *TypingAggregator) StopTyping(conversationID int64) {
	lt := t.local[conversationID]
	if lt == nil {
		return
	}
	if lt.timer != nil {
		lt.timer.Stop()
	}
	delete(t.local, conversationID)
	if lt.active {
		t.announce(conversationID, false)
	}
}

func (t *TypingAggregator) announce(conversationID int64, typing bool) {
	if err := t.sender.SetTyping(conversationID, typing); err != nil {
		t.logger.Debug("typing not sent", map[string]any{
			"conversation_id": conversationID,
			"typing":          typing,
			"error":           err.Error(),
		})
	}
}

// Handle applies a remote typing event. It is subscribed to the Dispatcher.
func (t *TypingAggregator) Handle(ev Event) {
	e, ok := ev.(TypingEvent)
	if !ok {
		return
	}
	key := typingKey{conversationID: e.ConversationID, userID: e.UserID}
	timer, present := t.remote[key]
	if present {
		timer.Stop()
	}
	if !e.IsTyping {
		if present {
			delete(t.remote, key)
			t.publish(e.ConversationID)
		}
		return
	}
	t.remote[key] = t.sched.AfterFunc(t.expiry, func() {
		delete(t.remote, key)
		t.publish(key.conversationID)
	})
	if !present {
		t.publish(e.ConversationID)
	}
}

// Typing returns the ids of users currently typing in a conversation, ascending.
func (t *TypingAggregator) Typing(conversationID int64) []int64 {
	users := make([]int64, 0)
	for k := range t.remote {
		if k.conversationID == conversationID {
			users = append(users, k.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Clear forgets remote typing state for a conversation whose view closed.
func (t *TypingAggregator) Clear(conversationID int64) {
	changed := false
	for k, timer := range t.remote {
		if k.conversationID == conversationID {
			timer.Stop()
			delete(t.remote, k)
			changed = true
		}
	}
	t.StopTyping(conversationID)
	if changed {
		t.publish(conversationID)
	}
}

func (t *TypingAggregator) publish(conversationID int64) {
	t.bus.Typing.Publish(conversationID, TypingChange{ConversationID: conversationID, Users: t.Typing(conversationID)})
}
