package chatsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagerStopsAfterShortPage(t *testing.T) {
	h := newFakeHistory()
	h.pages[0] = newestFirst(testChat, idRange(15, 24)...)
	h.pages[10] = newestFirst(testChat, idRange(11, 14)...)
	s, _ := newTestStore(h)
	p := NewPager(inlineRunner{}, s, testChat, 10)
	ctx := context.Background()

	res, err := p.LoadInitial(ctx)
	require.NoError(t, err)
	assert.True(t, res.HasMore)

	res, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 4, res.Received)
	assert.False(t, res.HasMore)

	res, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, h.callCount(), "no request once history is exhausted")

	assert.Equal(t, idRange(11, 24), messageIDs(s.Messages(testChat)))
	assert.Equal(t, []pageCall{
		{conversationID: testChat, limit: 10, offset: 0},
		{conversationID: testChat, limit: 10, offset: 10},
	}, h.calls)
}

func TestPagerLoadOlderNeedsInitialPage(t *testing.T) {
	h := newFakeHistory()
	s, _ := newTestStore(h)
	p := NewPager(inlineRunner{}, s, testChat, 10)

	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, h.callCount())
}

type pagerResult struct {
	res LoadResult
	err error
}

func gatedPager(t *testing.T) (*Loop, *Store, *Pager, *fakeHistory) {
	t.Helper()
	loop := startLoop(t, newFakeClock())
	h := newFakeHistory()
	h.pages[0] = newestFirst(testChat, idRange(11, 20)...)
	h.pages[10] = newestFirst(testChat, idRange(1, 10)...)
	s := NewStore(loop, h, &Bus{}, nil)
	p := NewPager(loop, s, testChat, 10)

	_, err := p.LoadInitial(context.Background())
	require.NoError(t, err)

	h.mu.Lock()
	h.entered = make(chan struct{}, 1)
	h.gate = make(chan struct{})
	h.mu.Unlock()
	return loop, s, p, h
}

func TestPagerGuardsConcurrentLoads(t *testing.T) {
	_, _, p, h := gatedPager(t)
	ctx := context.Background()

	done := make(chan pagerResult, 1)
	go func() {
		res, err := p.LoadOlder(ctx)
		done <- pagerResult{res, err}
	}()
	<-h.entered

	res, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(h.gate)
	first := <-done
	require.NoError(t, first.err)
	assert.False(t, first.res.Skipped)
	assert.Equal(t, 10, first.res.Added)
	assert.Equal(t, 2, h.callCount())
}

func TestPagerCloseDiscardsLateResponse(t *testing.T) {
	loop, s, p, h := gatedPager(t)
	ctx := context.Background()

	done := make(chan pagerResult, 1)
	go func() {
		res, err := p.LoadOlder(ctx)
		done <- pagerResult{res, err}
	}()
	<-h.entered

	require.NoError(t, loop.Do(ctx, p.Close))
	close(h.gate)

	late := <-done
	require.Error(t, late.err)
	assert.True(t, IsStale(late.err))

	var msgs []Message
	require.NoError(t, loop.Do(ctx, func() { msgs = s.Messages(testChat) }))
	assert.Empty(t, msgs)

	res, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

type fakeViewport struct {
	height, top float64
}

func (v *fakeViewport) ScrollHeight() float64   { return v.height }
func (v *fakeViewport) ScrollTop() float64      { return v.top }
func (v *fakeViewport) SetScrollTop(top float64) { v.top = top }

func TestScrollAnchorPreservesPosition(t *testing.T) {
	vp := &fakeViewport{height: 1000, top: 40}
	anchor := CaptureScroll(vp)

	// older messages rendered above the viewport
	vp.height = 1600

	delta := anchor.Restore(vp)
	assert.Equal(t, 600.0, delta)
	assert.Equal(t, 640.0, vp.top)
}
