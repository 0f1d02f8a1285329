package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, firing due timers in order. Timers armed
// by a firing callback are considered too when they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextDue(target)
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.when
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns how many timers may still fire.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) nextDue(target time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	return due[0]
}

// syncScheduler runs posted work inline on the test goroutine.
type syncScheduler struct {
	clock *fakeClock
}

func newSyncScheduler() *syncScheduler {
	return &syncScheduler{clock: newFakeClock()}
}

func (s *syncScheduler) Now() time.Time { return s.clock.Now() }

func (s *syncScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return s.clock.AfterFunc(d, fn)
}

func (s *syncScheduler) Post(fn func()) bool {
	fn()
	return true
}

func (s *syncScheduler) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

// inlineRunner satisfies runner for single-goroutine tests.
type inlineRunner struct{}

func (inlineRunner) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

// startLoop runs a loop driven by clock until the test ends.
func startLoop(t *testing.T, clock Clock) *Loop {
	t.Helper()
	l := NewLoop(clock)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func ts(day, hour int) Timestamp {
	return Timestamp{Time: time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)}
}

// newestFirst builds a history page for ids given oldest to newest, returned
// newest first the way the API does.
func newestFirst(conversationID int64, ids ...int64) []Message {
	page := make([]Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		page = append(page, Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       2,
			Content:        fmt.Sprintf("message %d", id),
			Type:           MessageTypeText,
			Status:         StatusSent,
			CreatedAt:      Timestamp{Time: time.Date(2024, 3, 1, 0, 0, int(id), 0, time.UTC)},
		})
	}
	return page
}

func idRange(from, to int64) []int64 {
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func messageIDs(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

type pageCall struct {
	conversationID int64
	limit, offset  int
}

// fakeHistory serves pages keyed by offset.
type fakeHistory struct {
	mu        sync.Mutex
	pages     map[int][]Message
	err       error
	calls     []pageCall
	entered   chan struct{}
	gate      chan struct{}
	markSeen  []int64
	seenErr   error
	edits     map[int64]string
	deletes   []int64
	reactions map[int64]string
	upload    Attachment
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		pages:     make(map[int][]Message),
		edits:     make(map[int64]string),
		reactions: make(map[int64]string),
	}
}

func (h *fakeHistory) GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error) {
	h.mu.Lock()
	h.calls = append(h.calls, pageCall{conversationID: conversationID, limit: limit, offset: offset})
	entered, gate := h.entered, h.gate
	page, err := h.pages[offset], h.err
	h.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *fakeHistory) MarkSeen(_ context.Context, conversationID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seenErr != nil {
		return h.seenErr
	}
	h.markSeen = append(h.markSeen, conversationID)
	return nil
}

func (h *fakeHistory) seenCalls() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.markSeen...)
}

func (h *fakeHistory) EditMessage(_ context.Context, messageID int64, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edits[messageID] = content
	return h.err
}

func (h *fakeHistory) DeleteMessage(_ context.Context, messageID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes = append(h.deletes, messageID)
	return h.err
}

func (h *fakeHistory) AddReaction(_ context.Context, messageID int64, emoji string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reactions[messageID] = emoji
	return h.err
}

func (h *fakeHistory) Upload(_ context.Context, filename string, r io.Reader) (Attachment, error) {
	if _, err := io.ReadAll(r); err != nil {
		return Attachment{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return Attachment{}, h.err
	}
	a := h.upload
	a.Filename = filename
	return a, nil
}

// recordingSender captures frames instead of writing them to a channel.
type recordingSender struct {
	frames []any
	err    error
}

func (r *recordingSender) Send(frame any) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSender) typingFrames() []OutboundTyping {
	var out []OutboundTyping
	for _, f := range r.frames {
		if t, ok := f.(OutboundTyping); ok {
			out = append(out, t)
		}
	}
	return out
}

type readResult struct {
	data []byte
	err  error
}

// fakeTransport is a scripted channel.
type fakeTransport struct {
	reads  chan readResult
	writes chan any
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan readResult, 16),
		writes: make(chan any, 64),
		done:   make(chan struct{}),
	}
}

var errTransportClosed = errors.New("transport closed")

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-t.reads:
		return r.data, r.err
	case <-t.done:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(_ context.Context, v any) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	t.writes <- v
	return nil
}

func (t *fakeTransport) Close(code int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	t.closed = true
	t.closeCode = code
	close(t.done)
	return nil
}

func (t *fakeTransport) closedWith() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode
}

// scriptedDialer hands out results in order; once exhausted every dial fails.
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
}

type dialResult struct {
	transport *fakeTransport
	err       error
}

var errRefused = errors.New("connection refused")

func (d *scriptedDialer) Dial(_ context.Context, rawURL string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	// failures return a typed nil, like dialers that wrap a concrete conn
	if len(d.results) == 0 {
		return (*fakeTransport)(nil), errRefused
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return (*fakeTransport)(nil), r.err
	}
	return r.transport, nil
}

func (d *scriptedDialer) push(r ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r...)
}

func (d *scriptedDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}
