package chat

import "sync"

// Capacity is the maximum number of messages the store retains; the oldest
// are dropped first.
const Capacity = 160

// Store is an ordered, bounded, deduplicated buffer of chat messages. A
// history snapshot replaces the contents wholesale; a single message appends
// through the same normalize/dedup/truncate path.
type Store struct {
	mu   sync.RWMutex
	msgs []Message
}

func NewStore() *Store {
	return &Store{}
}

// Replace ingests a history snapshot.
func (s *Store) Replace(msgs []Message) {
	cleaned := ingest(msgs)
	s.mu.Lock()
	s.msgs = cleaned
	s.mu.Unlock()
}

// Append ingests one message against the current contents.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	combined := make([]Message, 0, len(s.msgs)+1)
	combined = append(combined, s.msgs...)
	combined = append(combined, msg)
	s.msgs = ingest(combined)
	s.mu.Unlock()
}

// Snapshot returns a copy of the stored messages, oldest first.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// ingest normalizes in arrival order, drops id and fingerprint duplicates
// (first occurrence wins) and truncates to the most recent Capacity entries.
func ingest(in []Message) []Message {
	seenID := make(map[string]struct{}, len(in))
	seenFP := make(map[fingerprint]struct{}, len(in))
	out := make([]Message, 0, len(in))
	for _, m := range in {
		m = normalize(m)
		if _, dup := seenID[m.ID]; dup {
			continue
		}
		fp := m.fingerprint()
		if _, dup := seenFP[fp]; dup {
			continue
		}
		seenID[m.ID] = struct{}{}
		seenFP[fp] = struct{}{}
		out = append(out, m)
	}
	if len(out) > Capacity {
		out = out[len(out)-Capacity:]
	}
	return out
}
