// Package browser implements the lazy, bidirectional page cache the UI
// drives while paging through a queue (spec §4.5). The broker only
// offers forward peek by sequence, so backward navigation and jump-to-page
// are served entirely from pages already materialized in this cache.
package browser

import (
	"context"
	"time"

	"github.com/dawidpereira/quetty/internal/model"
)

// Session is the minimal capability the browser needs from the queue
// session actor: a single-page peek by sequence cursor. Depending on
// this narrow interface (rather than *queuesession.Actor directly) lets
// tests drive the browser without a running actor goroutine.
type Session interface {
	PeekPage(ctx context.Context, queue model.QueueIdentity, fromSequence int64, pageSize int, timeout time.Duration) (model.CachedPage, error)
}

// Browser owns an ordered, append-only list of CachedPages for one
// queue and rebuilds backward navigation over a forward-only peek
// cursor (spec §4.5). It is mutated only from the foreground event
// loop; no background task reaches into it directly (spec §5).
type Browser struct {
	session Session
	queue   model.QueueIdentity
	timeout time.Duration

	pageSize int
	pages    []model.CachedPage
	current  int

	nextFrom int64
	terminal bool
}

// New constructs a Browser bound to queue with the given page size and
// per-peek timeout.
func New(session Session, queue model.QueueIdentity, pageSize int, timeout time.Duration) *Browser {
	return &Browser{session: session, queue: queue, pageSize: pageSize, timeout: timeout}
}

// CurrentPage returns the page the browser is positioned on, or the
// zero page if nothing has been loaded yet.
func (b *Browser) CurrentPage() model.CachedPage {
	if b.current >= len(b.pages) {
		return model.CachedPage{}
	}
	return b.pages[b.current]
}

// CurrentIndex reports the zero-based index of the page currently in
// view.
func (b *Browser) CurrentIndex() int {
	return b.current
}

// SetPageSize changes the page size for pages fetched from now on. Per
// spec §4.5 this does not reshape already-cached pages.
func (b *Browser) SetPageSize(size int) {
	b.pageSize = size
}

// LoadInitial fetches page 0 from the beginning of the queue.
func (b *Browser) LoadInitial(ctx context.Context) error {
	b.pages = nil
	b.current = 0
	b.nextFrom = 0
	b.terminal = false
	return b.fetchNext(ctx)
}

// NextPage advances to the following page, fetching it if it is not
// already cached. A no-op that returns the current page when the cursor
// is already terminal (spec §4.5).
func (b *Browser) NextPage(ctx context.Context) error {
	target := b.current + 1
	if target < len(b.pages) {
		b.current = target
		return nil
	}
	if b.terminal {
		return nil
	}
	if err := b.fetchNext(ctx); err != nil {
		return err
	}
	b.current = target
	return nil
}

// PreviousPage moves back one page, purely from cache; it never touches
// the network. No-op on page 0.
func (b *Browser) PreviousPage() {
	if b.current == 0 {
		return
	}
	b.current--
}

// Jump moves to page n, paging forward from the farthest cached page
// until n is materialized or the queue is exhausted.
func (b *Browser) Jump(ctx context.Context, n int) error {
	if n < 0 {
		n = 0
	}
	for len(b.pages) <= n {
		if b.terminal {
			break
		}
		if err := b.fetchNext(ctx); err != nil {
			return err
		}
	}
	if n >= len(b.pages) {
		n = len(b.pages) - 1
	}
	if n < 0 {
		n = 0
	}
	b.current = n
	return nil
}

// Refresh drops every cached page and reloads page 0 through
// LoadInitial, so every page fetched after it uses the browser's current
// page size.
func (b *Browser) Refresh(ctx context.Context) error {
	return b.LoadInitial(ctx)
}

func (b *Browser) fetchNext(ctx context.Context) error {
	page, err := b.session.PeekPage(ctx, b.queue, b.nextFrom, b.pageSize, b.timeout)
	if err != nil {
		return err
	}
	page.Index = len(b.pages)
	b.pages = append(b.pages, page)

	if page.Terminal {
		b.terminal = true
	}
	if page.Len() > 0 {
		b.nextFrom = page.LastSequence() + 1
	}
	return nil
}

// Invalidate removes every message named by removed from whatever
// cached page currently holds it, in place, without refilling the page
// (spec §4.5). Bulk operations may call this with many identities at
// once.
func (b *Browser) Invalidate(removed []model.Identity) {
	if len(removed) == 0 {
		return
	}
	toRemove := make(map[model.Identity]struct{}, len(removed))
	for _, id := range removed {
		toRemove[id] = struct{}{}
	}

	for i := range b.pages {
		page := b.pages[i]
		kept := page.Messages[:0:0]
		for _, msg := range page.Messages {
			if _, gone := toRemove[msg.Identity()]; gone {
				continue
			}
			kept = append(kept, msg)
		}
		b.pages[i].Messages = kept
	}
}

// ToggleSubQueue switches the browser's target between a queue's main
// log and its dead-letter sub-queue. At the actor this is a SwitchQueue;
// at the browser it is a Refresh (spec §4.5) — the caller is responsible
// for sending the queue session actor a SwitchQueue for the sibling
// queue before invoking this; Session itself has no SwitchQueue.
func (b *Browser) ToggleSubQueue(ctx context.Context) error {
	b.queue = b.queue.Sibling()
	return b.Refresh(ctx)
}

// Queue reports the queue identity the browser is currently positioned
// on.
func (b *Browser) Queue() model.QueueIdentity {
	return b.queue
}

// PageCount reports how many pages are currently cached.
func (b *Browser) PageCount() int {
	return len(b.pages)
}

// Terminal reports whether the browser has reached the end of the
// queue at its current page size.
func (b *Browser) Terminal() bool {
	return b.terminal
}
