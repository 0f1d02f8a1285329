package chatsync

import (
	"context"
	"fmt"
	"io"
	"time"
)

// HistoryAPI is the server-owned historical API.
type HistoryAPI interface {
	// GetMessages returns up to limit messages newest-first, skipping offset.
	GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error)
	MarkSeen(ctx context.Context, conversationID int64) error
	EditMessage(ctx context.Context, messageID int64, content string) error
	DeleteMessage(ctx context.Context, messageID int64) error
	AddReaction(ctx context.Context, messageID int64, emoji string) error
	Upload(ctx context.Context, filename string, r io.Reader) (Attachment, error)
}

// runner executes a function on the loop and waits for it.
type runner interface {
	Do(ctx context.Context, fn func()) error
}

// PageResult describes an applied page load.
type PageResult struct {
	Received int  // messages returned by the API
	Added    int  // messages not already in the timeline
	HasMore  bool // whether an older page may exist
}

type conversation struct {
	id       int64
	messages []*Message
	index    map[int64]int
	offset   int
	hasMore  bool
	loaded   bool

	groups    []DateGroup
	groupsLoc *time.Location
}

func (c *conversation) reindex() {
	c.index = make(map[int64]int, len(c.messages))
	for i, m := range c.messages {
		c.index[m.ID] = i
	}
}

func (c *conversation) changed() {
	c.groups = nil
	c.groupsLoc = nil
}

// Store holds the ordered, deduplicated timeline of every conversation the
// client has seen. Apply methods must run on the loop; LoadPage must not.
type Store struct {
	loop    runner
	history HistoryAPI
	bus     *Bus
	logger  Logger

	conversations map[int64]*conversation
	owner         map[int64]int64 // message id -> conversation id
	generations   map[int64]uint64
}

// NewStore creates an empty store.
func NewStore(loop runner, history HistoryAPI, bus *Bus, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	if bus == nil {
		bus = &Bus{}
	}
	return &Store{
		loop:          loop,
		history:       history,
		bus:           bus,
		logger:        logger,
		conversations: make(map[int64]*conversation),
		owner:         make(map[int64]int64),
		generations:   make(map[int64]uint64),
	}
}

// LoadPage fetches a page from the historical API and merges it. A failed
// fetch leaves the store unchanged and returns a request error. A response
// that arrives after the conversation was torn down is discarded with a
// stale error.
func (s *Store) LoadPage(ctx context.Context, conversationID int64, limit, offset int) (PageResult, error) {
	var gen uint64
	if err := s.loop.Do(ctx, func() { gen = s.generations[conversationID] }); err != nil {
		return PageResult{}, err
	}

	page, err := s.history.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return PageResult{}, WrapError(ErrorRequest,
			fmt.Sprintf("load messages for conversation %d at offset %d", conversationID, offset), err)
	}

	var res PageResult
	var applyErr error
	if err := s.loop.Do(ctx, func() {
		res, applyErr = s.ApplyPage(conversationID, gen, page, limit, offset)
	}); err != nil {
		return PageResult{}, err
	}
	return res, applyErr
}

// Generation returns the current view generation of a conversation.
func (s *Store) Generation(conversationID int64) uint64 {
	return s.generations[conversationID]
}

// ApplyPage merges a newest-first page fetched under generation gen.
// Offset 0 replaces the timeline, keeping live messages the page does not
// contain after it; a later offset prepends. Ids already present keep their
// current record.
func (s *Store) ApplyPage(conversationID int64, gen uint64, page []Message, limit, offset int) (PageResult, error) {
	if s.generations[conversationID] != gen {
		s.logger.Debug("discarding stale page", map[string]any{
			"conversation_id": conversationID,
			"offset":          offset,
		})
		return PageResult{}, NewError(ErrorStale, fmt.Sprintf("conversation %d view changed during load", conversationID))
	}

	c := s.ensure(conversationID)
	res := PageResult{Received: len(page), HasMore: len(page) == limit}

	chrono := make([]*Message, 0, len(page))
	seen := make(map[int64]struct{}, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.ConversationID == 0 {
			m.ConversationID = conversationID
		}
		if pos, ok := c.index[m.ID]; ok {
			chrono = append(chrono, c.messages[pos])
			continue
		}
		if owner, ok := s.owner[m.ID]; ok && owner != conversationID {
			continue
		}
		clone := m.Clone()
		chrono = append(chrono, &clone)
		s.owner[m.ID] = conversationID
		res.Added++
	}

	kind := TimelinePrepended
	if offset == 0 {
		kind = TimelineLoaded
		for _, m := range c.messages {
			if _, ok := seen[m.ID]; !ok {
				chrono = append(chrono, m)
			}
		}
		c.messages = chrono
	} else {
		fresh := chrono[:0:0]
		for _, m := range chrono {
			if _, ok := c.index[m.ID]; !ok {
				fresh = append(fresh, m)
			}
		}
		c.messages = append(fresh, c.messages...)
	}
	c.reindex()
	c.offset = offset
	c.hasMore = res.HasMore
	c.loaded = true
	c.changed()

	s.bus.Timeline.Publish(conversationID, TimelineChange{ConversationID: conversationID, Kind: kind, Count: res.Added})
	return res, nil
}

// ApplyLive appends a live message. Ids already held are ignored.
func (s *Store) ApplyLive(m Message) bool {
	if _, ok := s.owner[m.ID]; ok {
		s.logger.Debug("duplicate live message", map[string]any{"message_id": m.ID})
		return false
	}
	c := s.ensure(m.ConversationID)
	clone := m.Clone()
	c.messages = append(c.messages, &clone)
	c.index[m.ID] = len(c.messages) - 1
	s.owner[m.ID] = m.ConversationID
	c.changed()

	s.bus.Timeline.Publish(m.ConversationID, TimelineChange{ConversationID: m.ConversationID, Kind: TimelineAppended, MessageID: m.ID, Count: 1})
	return true
}

// ApplyStatus moves a message forward in sent < delivered < seen.
// Regressions, repeats and unknown ids are ignored.
func (s *Store) ApplyStatus(id int64, status Status) bool {
	c, m := s.find(id)
	if m == nil {
		s.conflict("status for unknown message", id)
		return false
	}
	if status.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = status
	s.mutated(c, TimelineStatus, id)
	return true
}

// ApplyEdit replaces content and marks the message edited.
func (s *Store) ApplyEdit(id int64, content string) bool {
	c, m := s.find(id)
	if m == nil {
		s.conflict("edit for unknown message", id)
		return false
	}
	if m.IsDeleted {
		s.conflict("edit for deleted message", id)
		return false
	}
	m.Content = content
	m.IsEdited = true
	s.mutated(c, TimelineEdited, id)
	return true
}

// ApplyDelete tombstones a message. Id, creation time and reactions stay.
func (s *Store) ApplyDelete(id int64) bool {
	c, m := s.find(id)
	if m == nil {
		s.conflict("delete for unknown message", id)
		return false
	}
	if m.IsDeleted {
		return false
	}
	m.IsDeleted = true
	m.Content = TombstoneContent
	s.mutated(c, TimelineDeleted, id)
	return true
}

// ApplyReaction replaces the reaction aggregate wholesale.
func (s *Store) ApplyReaction(id int64, reactions Reactions) bool {
	c, m := s.find(id)
	if m == nil {
		s.conflict("reaction for unknown message", id)
		return false
	}
	m.Reactions = reactions.clone()
	s.mutated(c, TimelineReactions, id)
	return true
}

// Handle applies a dispatched event. It is subscribed to the Dispatcher.
func (s *Store) Handle(ev Event) {
	switch e := ev.(type) {
	case NewMessageEvent:
		s.ApplyLive(e.Message)
	case StatusUpdateEvent:
		s.ApplyStatus(e.MessageID, e.Status)
	case MessageEditedEvent:
		s.ApplyEdit(e.MessageID, e.Content)
	case MessageDeletedEvent:
		s.ApplyDelete(e.MessageID)
	case ReactionChangedEvent:
		s.ApplyReaction(e.MessageID, e.Reactions)
	}
}

// Teardown drops a conversation and invalidates loads still in flight for it.
func (s *Store) Teardown(conversationID int64) {
	s.generations[conversationID]++
	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for _, m := range c.messages {
		delete(s.owner, m.ID)
	}
	delete(s.conversations, conversationID)
	s.bus.Timeline.Publish(conversationID, TimelineChange{ConversationID: conversationID, Kind: TimelineCleared})
}

// Messages returns a copy of the timeline in chronological order.
func (s *Store) Messages(conversationID int64) []Message {
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Message returns a copy of one message.
func (s *Store) Message(id int64) (Message, bool) {
	_, m := s.find(id)
	if m == nil {
		return Message{}, false
	}
	return m.Clone(), true
}

// Len returns the number of messages held for a conversation.
func (s *Store) Len(conversationID int64) int {
	if c, ok := s.conversations[conversationID]; ok {
		return len(c.messages)
	}
	return 0
}

// PageState returns the pagination cursor of a conversation.
func (s *Store) PageState(conversationID int64) (offset int, hasMore, loaded bool) {
	c, ok := s.conversations[conversationID]
	if !ok {
		return 0, true, false
	}
	return c.offset, c.hasMore, c.loaded
}

func (s *Store) ensure(conversationID int64) *conversation {
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &conversation{id: conversationID, index: make(map[int64]int), hasMore: true}
		s.conversations[conversationID] = c
	}
	return c
}

func (s *Store) find(id int64) (*conversation, *Message) {
	convID, ok := s.owner[id]
	if !ok {
		return nil, nil
	}
	c := s.conversations[convID]
	if c == nil {
		return nil, nil
	}
	pos, ok := c.index[id]
	if !ok {
		return nil, nil
	}
	return c, c.messages[pos]
}

func (s *Store) mutated(c *conversation, kind TimelineChangeKind, id int64) {
	c.changed()
	s.bus.Timeline.Publish(c.id, TimelineChange{ConversationID: c.id, Kind: kind, MessageID: id})
}

func (s *Store) conflict(msg string, id int64) {
	s.logger.Debug(msg, map[string]any{"message_id": id, "code": ErrorStateConflict.String()})
}
