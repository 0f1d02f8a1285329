package chatsync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CyberAshu/Vedawave/chatsync/rest"
)

// markSeenDelay coalesces a burst of incoming messages into one mark-seen call.
const markSeenDelay = 100 * time.Millisecond

// Client is the chat sync core: one live channel, a message store per
// conversation and the commands a chat UI issues.
//
// Run must be running for any other method to make progress. Callbacks
// registered with the On* methods run on the loop; they must not block or
// call back into Client methods that wait for the loop.
type Client struct {
	cfg     Config
	logger  Logger
	metrics *Metrics
	clock   Clock
	dialer  Dialer
	history HistoryAPI

	loop       *Loop
	bus        *Bus
	dispatcher *Dispatcher
	conn       *Connection
	store      *Store
	sender     *Sender
	typing     *TypingAggregator

	// loop-confined
	pagers     map[int64]*Pager
	seenTimers map[int64]Timer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers channel metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = NewMetrics(reg) }
}

// WithClock replaces the time source driving heartbeats, backoff and typing timers.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHistoryAPI replaces the REST-backed historical API.
func WithHistoryAPI(h HistoryAPI) Option {
	return func(c *Client) {
		if h != nil {
			c.history = h
		}
	}
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() or LoadConfig() as a starting point.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		logger:     noopLogger{},
		clock:      systemClock{},
		dialer:     websocketDialer{handshakeTimeout: cfg.HandshakeTimeout, writeTimeout: cfg.WriteTimeout},
		pagers:     make(map[int64]*Pager),
		seenTimers: make(map[int64]Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.history == nil {
		rc := rest.NewClient(cfg.APIBaseURL)
		rc.SetToken(cfg.Token)
		rc.SetTimeout(cfg.HTTPTimeout)
		c.history = NewRESTHistory(rc)
	}

	c.loop = NewLoop(c.clock)
	c.bus = &Bus{}
	c.dispatcher = NewDispatcher(c.logger, c.metrics, func(err error) {
		c.bus.Errors.Publish(allConversations, err)
	})
	c.conn = NewConnection(c.loop, c.dialer, ConnectionOptions{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, c.bus, c.logger, c.metrics, c.dispatcher.Dispatch)
	c.store = NewStore(c.loop, c.history, c.bus, c.logger)
	c.sender = NewSender(c.loop, c.conn, c.history, c.bus, c.logger)
	c.typing = NewTypingAggregator(c.loop, c.sender, c.bus, c.logger, cfg.TypingSilence, cfg.TypingExpiry)

	c.dispatcher.Subscribe(c.store.Handle)
	c.dispatcher.Subscribe(c.typing.Handle)
	c.dispatcher.Subscribe(c.handleEvent)
	return c, nil
}

// Run drives the event loop until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// Connect opens the live channel with the configured token. Reconnects after
// abnormal closes happen on their own until the attempts are spent.
func (c *Client) Connect(ctx context.Context) error {
	var openErr error
	if err := c.loop.Do(ctx, func() {
		openErr = c.conn.Open(c.cfg.WSBaseURL, c.cfg.Token)
	}); err != nil {
		return err
	}
	return openErr
}

// Close tears down every open conversation and closes the live channel.
// It may be called after Run has returned.
func (c *Client) Close() error {
	var result *multierror.Error
	closers := make(chan func() error, 1)

	// shutdown can still run after Do gives up.
	shutdown := func() {
		for id := range c.pagers {
			c.closeConversation(id)
		}
		closers <- c.conn.Close()
	}

	select {
	case <-c.loop.Done():
		shutdown()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		err := c.loop.Do(ctx, shutdown)
		cancel()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("stop conversations: %w", err))
		}
	}

	var closer func() error
	select {
	case closer = <-closers:
	default:
	}
	if closer != nil {
		if err := closer(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close channel: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// State returns the connection state and reconnect attempt counter.
func (c *Client) State(ctx context.Context) (ConnectionStatus, error) {
	var st ConnectionStatus
	err := c.loop.Do(ctx, func() { st = c.conn.Status() })
	return st, err
}

// Conversations

// OpenConversation starts viewing a conversation: any previous view of it is
// torn down, the newest page is loaded and, when AutoMarkSeen is set, the
// conversation is marked seen.
func (c *Client) OpenConversation(ctx context.Context, conversationID int64) (LoadResult, error) {
	var p *Pager
	if err := c.loop.Do(ctx, func() {
		if old, ok := c.pagers[conversationID]; ok {
			old.Close()
		}
		p = NewPager(c.loop, c.store, conversationID, c.cfg.PageSize)
		c.pagers[conversationID] = p
	}); err != nil {
		return LoadResult{}, err
	}

	res, err := p.LoadInitial(ctx)
	if err != nil {
		return res, err
	}
	if c.cfg.AutoMarkSeen {
		if err := c.sender.MarkSeen(ctx, conversationID); err != nil {
			c.logger.Warn("mark seen on open failed", map[string]any{
				"conversation_id": conversationID,
				"error":           err.Error(),
			})
		}
	}
	return res, nil
}

// CloseConversation ends the view. Loads still in flight for it are discarded.
func (c *Client) CloseConversation(ctx context.Context, conversationID int64) error {
	return c.loop.Do(ctx, func() { c.closeConversation(conversationID) })
}

func (c *Client) closeConversation(conversationID int64) {
	if p, ok := c.pagers[conversationID]; ok {
		p.Close()
		delete(c.pagers, conversationID)
	}
	if t, ok := c.seenTimers[conversationID]; ok {
		t.Stop()
		delete(c.seenTimers, conversationID)
	}
	c.typing.Clear(conversationID)
}

// LoadOlder loads the page before the oldest one shown. It is skipped while a
// load is in flight or once a short page was seen.
func (c *Client) LoadOlder(ctx context.Context, conversationID int64) (LoadResult, error) {
	var p *Pager
	if err := c.loop.Do(ctx, func() { p = c.pagers[conversationID] }); err != nil {
		return LoadResult{}, err
	}
	if p == nil {
		return LoadResult{}, NewError(ErrorInvalidArgument, fmt.Sprintf("conversation %d is not open", conversationID))
	}
	return p.LoadOlder(ctx)
}

// Messages returns the conversation's timeline, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	var out []Message
	err := c.loop.Do(ctx, func() { out = c.store.Messages(conversationID) })
	return out, err
}

// Groups returns the timeline grouped by calendar day in loc.
func (c *Client) Groups(ctx context.Context, conversationID int64, loc *time.Location) ([]DateGroup, error) {
	var out []DateGroup
	err := c.loop.Do(ctx, func() { out = c.store.Groups(conversationID, loc) })
	return out, err
}

// HasMore reports whether an older page may exist.
func (c *Client) HasMore(ctx context.Context, conversationID int64) (bool, error) {
	var more bool
	err := c.loop.Do(ctx, func() { _, more, _ = c.store.PageState(conversationID) })
	return more, err
}

// Commands

// Send submits a message and ends the local typing state. The message shows
// up in the timeline when the server echoes it.
func (c *Client) Send(ctx context.Context, msg OutgoingMessage) error {
	var sendErr error
	if err := c.loop.Do(ctx, func() {
		sendErr = c.sender.Send(msg)
		if sendErr == nil {
			c.typing.StopTyping(msg.ConversationID)
		}
	}); err != nil {
		return err
	}
	return sendErr
}

// Edit requests a content change; it is applied when the edit is broadcast.
func (c *Client) Edit(ctx context.Context, messageID int64, content string) error {
	return c.sender.Edit(ctx, messageID, content)
}

// Delete requests deletion; the tombstone is applied when it is broadcast.
func (c *Client) Delete(ctx context.Context, messageID int64) error {
	return c.sender.Delete(ctx, messageID)
}

// React toggles an emoji reaction; the new aggregate arrives on the channel.
func (c *Client) React(ctx context.Context, messageID int64, emoji string) error {
	return c.sender.React(ctx, messageID, emoji)
}

// MarkSeen marks the conversation seen and raises an unread refresh.
func (c *Client) MarkSeen(ctx context.Context, conversationID int64) error {
	return c.sender.MarkSeen(ctx, conversationID)
}

// Upload stores a file for use as an attachment.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (Attachment, error) {
	return c.sender.Upload(ctx, filename, r)
}

// InputActivity records a keystroke in the conversation's composer.
func (c *Client) InputActivity(ctx context.Context, conversationID int64) error {
	return c.loop.Do(ctx, func() { c.typing.InputActivity(conversationID) })
}

// StopTyping ends the local typing state immediately.
func (c *Client) StopTyping(ctx context.Context, conversationID int64) error {
	return c.loop.Do(ctx, func() { c.typing.StopTyping(conversationID) })
}

// Typing returns the users currently typing in a conversation.
func (c *Client) Typing(ctx context.Context, conversationID int64) ([]int64, error) {
	var users []int64
	err := c.loop.Do(ctx, func() { users = c.typing.Typing(conversationID) })
	return users, err
}

// Subscriptions. Each returns a function that removes the subscription.

// OnStateChanged registers fn for connection lifecycle events.
func (c *Client) OnStateChanged(fn func(StateEvent)) func() {
	return subscribe(c.loop, &c.bus.State, allConversations, fn)
}

// OnTimeline registers fn for timeline changes of one conversation, or of
// every conversation when conversationID is 0.
func (c *Client) OnTimeline(conversationID int64, fn func(TimelineChange)) func() {
	return subscribe(c.loop, &c.bus.Timeline, conversationID, fn)
}

// OnTyping registers fn for typing changes of one conversation, or all when 0.
func (c *Client) OnTyping(conversationID int64, fn func(TypingChange)) func() {
	return subscribe(c.loop, &c.bus.Typing, conversationID, fn)
}

// OnUnreadRefresh registers fn for unread-count refresh notifications.
func (c *Client) OnUnreadRefresh(fn func(UnreadRefresh)) func() {
	return subscribe(c.loop, &c.bus.Unread, allConversations, fn)
}

// OnFriendRequest registers fn for received friend requests.
func (c *Client) OnFriendRequest(fn func(FriendRequestEvent)) func() {
	return subscribe(c.loop, &c.bus.FriendRequests, allConversations, fn)
}

// OnError registers fn for asynchronous errors: malformed frames, channel
// failures and background requests.
func (c *Client) OnError(fn func(error)) func() {
	return subscribe(c.loop, &c.bus.Errors, allConversations, fn)
}

// OnEvent registers fn for every decoded inbound event, after the store has
// applied it.
func (c *Client) OnEvent(fn func(Event)) func() {
	var remove func()
	c.loop.Post(func() { remove = c.dispatcher.Subscribe(fn) })
	return func() {
		c.loop.Post(func() {
			if remove != nil {
				remove()
			}
		})
	}
}

// subscribe registers on the loop without waiting, so it works before Run starts.
func subscribe[T any](loop *Loop, topic *Topic[T], conversationID int64, fn func(T)) func() {
	var id string
	loop.Post(func() { id = topic.SubscribeConversation(conversationID, fn) })
	return func() {
		loop.Post(func() { topic.Unsubscribe(id) })
	}
}

func (c *Client) handleEvent(ev Event) {
	switch e := ev.(type) {
	case FriendRequestEvent:
		c.bus.FriendRequests.Publish(allConversations, e)
	case NewMessageEvent:
		c.scheduleMarkSeen(e.Message)
	}
}

// scheduleMarkSeen marks an open conversation seen shortly after another
// user's message lands in it.
func (c *Client) scheduleMarkSeen(m Message) {
	if !c.cfg.AutoMarkSeen || c.cfg.UserID == 0 || m.SenderID == c.cfg.UserID {
		return
	}
	id := m.ConversationID
	if _, open := c.pagers[id]; !open {
		return
	}
	if _, pending := c.seenTimers[id]; pending {
		return
	}
	c.seenTimers[id] = c.loop.AfterFunc(markSeenDelay, func() {
		delete(c.seenTimers, id)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
			defer cancel()
			if err := c.sender.MarkSeen(ctx, id); err != nil {
				c.loop.Post(func() { c.bus.Errors.Publish(id, err) })
			}
		}()
	})
}
