package browser

import "github.com/dawidpereira/quetty/internal/model"

// Selection is the set of (id, sequence) pairs a user has marked for a
// bulk operation. It is keyed independently of any CachedPage so it
// survives navigation and cache invalidation (spec §4.5's "the
// selection still names M unambiguously").
type Selection struct {
	items map[model.Identity]struct{}
}

// NewSelection constructs an empty Selection.
func NewSelection() *Selection {
	return &Selection{items: make(map[model.Identity]struct{})}
}

// Toggle adds id if absent, removes it if present.
func (s *Selection) Toggle(id model.Identity) {
	if _, ok := s.items[id]; ok {
		delete(s.items, id)
		return
	}
	s.items[id] = struct{}{}
}

// Contains reports whether id is currently selected.
func (s *Selection) Contains(id model.Identity) bool {
	_, ok := s.items[id]
	return ok
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.items = make(map[model.Identity]struct{})
}

// Len reports how many identities are currently selected.
func (s *Selection) Len() int {
	return len(s.items)
}

// Identities returns the selected identities in no particular order; the
// bulk engine sorts them by sequence itself (spec §4.6).
func (s *Selection) Identities() []model.Identity {
	out := make([]model.Identity, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	return out
}
