package model

// CachedPage is an ordered, ≤page_size slice of Messages materialized by
// the browser. Within a page sequence numbers strictly increase; pages
// are append-only and are never refilled in place (see browser package
// for invalidation semantics).
type CachedPage struct {
	Index    int
	Messages []Message
	// Terminal marks this as the last page the queue can produce at the
	// cursor that produced it: the broker returned fewer than page_size
	// messages.
	Terminal bool
}

// FirstSequence returns the sequence number of the first message on the
// page. Callers must not invoke this on an empty page.
func (p CachedPage) FirstSequence() int64 {
	return p.Messages[0].Sequence
}

// LastSequence returns the sequence number of the last message on the
// page. Callers must not invoke this on an empty page.
func (p CachedPage) LastSequence() int64 {
	return p.Messages[len(p.Messages)-1].Sequence
}

// Len reports how many messages currently remain on the page. A page
// can become under-full (but never over-full) after local invalidation.
func (p CachedPage) Len() int {
	return len(p.Messages)
}
