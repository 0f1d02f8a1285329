package chatsync

import "context"

// LoadResult is the outcome of LoadOlder.
type LoadResult struct {
	PageResult
	Skipped bool // a load was in flight or no older page exists; nothing was fetched
}

// Pager walks one conversation's history backwards, a fixed page at a time.
// inFlight and closed are loop-confined.
type Pager struct {
	loop           runner
	store          *Store
	conversationID int64
	pageSize       int

	inFlight bool
	closed   bool
}

// NewPager creates a pager whose cursor starts at offset 0.
func NewPager(loop runner, store *Store, conversationID int64, pageSize int) *Pager {
	return &Pager{loop: loop, store: store, conversationID: conversationID, pageSize: pageSize}
}

// ConversationID returns the conversation this pager walks.
func (p *Pager) ConversationID() int64 {
	return p.conversationID
}

// LoadInitial loads the newest page.
func (p *Pager) LoadInitial(ctx context.Context) (LoadResult, error) {
	return p.load(ctx, func() (int, bool) { return 0, true })
}

// LoadOlder loads the page before the oldest one held. Calling it while a
// load is in flight, or after a short page was seen, does nothing.
func (p *Pager) LoadOlder(ctx context.Context) (LoadResult, error) {
	return p.load(ctx, func() (int, bool) {
		offset, hasMore, loaded := p.store.PageState(p.conversationID)
		if !loaded || !hasMore {
			return 0, false
		}
		return offset + p.pageSize, true
	})
}

// load runs next on the loop to pick the offset; next returns false to skip.
func (p *Pager) load(ctx context.Context, next func() (int, bool)) (LoadResult, error) {
	var (
		offset int
		ok     bool
	)
	if err := p.loop.Do(ctx, func() {
		if p.inFlight || p.closed {
			return
		}
		offset, ok = next()
		if ok {
			p.inFlight = true
		}
	}); err != nil {
		return LoadResult{}, err
	}
	if !ok {
		return LoadResult{Skipped: true}, nil
	}
	defer func() {
		_ = p.loop.Do(context.Background(), func() { p.inFlight = false })
	}()

	res, err := p.store.LoadPage(ctx, p.conversationID, p.pageSize, offset)
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{PageResult: res}, nil
}

// Close marks the view torn down so late responses are discarded.
// Must run on the loop.
func (p *Pager) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.store.Teardown(p.conversationID)
}

// Viewport is the scroll container a UI renders the timeline into.
type Viewport interface {
	ScrollHeight() float64
	ScrollTop() float64
	SetScrollTop(top float64)
}

// ScrollAnchor remembers the reading position across a prepend.
type ScrollAnchor struct {
	height float64
	top    float64
}

// CaptureScroll records the viewport before older messages are prepended.
func CaptureScroll(vp Viewport) ScrollAnchor {
	return ScrollAnchor{height: vp.ScrollHeight(), top: vp.ScrollTop()}
}

// Restore shifts the scroll offset by exactly the height inserted above the
// viewport, once the prepended messages are rendered. It returns that height.
func (a ScrollAnchor) Restore(vp Viewport) float64 {
	delta := vp.ScrollHeight() - a.height
	vp.SetScrollTop(a.top + delta)
	return delta
}
