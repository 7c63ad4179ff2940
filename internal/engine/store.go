package engine

import (
	"github.com/abelbrown/edisco/internal/model"
)

// FeedStore is one feed's ordered, deduplicated collection plus its id-set.
//
// items is kept oldest-first so the common push (newest event) is an append
// and tail trimming is a reslice from the front. Entries() presents the
// newest-first view.
//
// Not safe for concurrent use; the Engine mutates it only from Update.
type FeedStore struct {
	items []model.Entry
	ids   map[string]struct{}
}

// NewFeedStore creates an empty store.
func NewFeedStore() *FeedStore {
	return &FeedStore{ids: make(map[string]struct{})}
}

// Len returns the number of entries.
func (s *FeedStore) Len() int {
	return len(s.items)
}

// Contains reports whether an entry with id is present.
func (s *FeedStore) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Entries returns a newest-first copy of the store.
func (s *FeedStore) Entries() []model.Entry {
	out := make([]model.Entry, len(s.items))
	for i, e := range s.items {
		out[len(s.items)-1-i] = e
	}
	return out
}

// Clear empties the store.
func (s *FeedStore) Clear() {
	s.items = nil
	s.ids = make(map[string]struct{})
}

// Replace makes snapshot the store's entire content, keeping the snapshot's
// order. Repeated ids keep their first occurrence. limit > 0 truncates.
func (s *FeedStore) Replace(snapshot []model.Entry, limit int) {
	kept := make([]model.Entry, 0, len(snapshot))
	ids := make(map[string]struct{}, len(snapshot))
	for _, e := range snapshot {
		if limit > 0 && len(kept) == limit {
			break
		}
		if _, dup := ids[e.ID]; dup {
			continue
		}
		ids[e.ID] = struct{}{}
		kept = append(kept, e)
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	s.items = kept
	s.ids = ids
}

// Push merges a single entry. A known id is a no-op. Otherwise the entry
// goes in front of every entry not newer than it (the very front for a
// live event) and the tail is trimmed to limit when limit > 0.
// Returns whether the entry is held afterwards.
func (s *FeedStore) Push(e model.Entry, limit int) bool {
	if s.Contains(e.ID) {
		return false
	}

	i := len(s.items)
	for i > 0 && s.items[i-1].Timestamp.After(e.Timestamp) {
		i--
	}
	if i == len(s.items) {
		s.items = append(s.items, e)
	} else {
		s.items = append(s.items, model.Entry{})
		copy(s.items[i+1:], s.items[i:])
		s.items[i] = e
	}
	s.ids[e.ID] = struct{}{}

	s.trim(limit)
	return s.Contains(e.ID)
}

// MergeBatch folds Push over the snapshot entries not already present,
// oldest first, then trims to limit when limit > 0. snapshot is
// newest-first. Returns the number of entries inserted.
func (s *FeedStore) MergeBatch(snapshot []model.Entry, limit int) int {
	inserted := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		if s.Push(snapshot[i], 0) {
			inserted++
		}
	}
	s.trim(limit)
	return inserted
}

// trim drops the oldest entries until at most limit remain.
func (s *FeedStore) trim(limit int) {
	if limit <= 0 || len(s.items) <= limit {
		return
	}
	drop := len(s.items) - limit
	for _, e := range s.items[:drop] {
		delete(s.ids, e.ID)
	}
	// Zero the dropped prefix so the backing array does not pin them.
	clear(s.items[:drop])
	s.items = s.items[drop:]
}
