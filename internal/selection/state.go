// Package selection holds the ordered set of pinned map regions.
package selection

import "temperature-map/internal/models"

// ToggleResult reports the outcome of a toggle
type ToggleResult struct {
	Added   bool
	Changed bool
}

// State is the toggle state machine for pinned regions. Entries keep their
// insertion order. onChange is invoked exactly once per mutation and never for
// a no-op. State is not safe for concurrent use; callers serialize events.
type State struct {
	entries  []models.SelectionEntry
	index    map[string]int
	onChange func()
}

// New creates an empty selection. onChange may be nil.
func New(onChange func()) *State {
	return &State{
		index:    make(map[string]int),
		onChange: onChange,
	}
}

// Toggle adds code when absent and removes it when present.
// Adding requires a value; a feature without data is a no-op.
func (s *State) Toggle(code, name string, value *float64) ToggleResult {
	if code == "" {
		return ToggleResult{}
	}

	if _, ok := s.index[code]; ok {
		s.remove(code)
		s.notify()
		return ToggleResult{Added: false, Changed: true}
	}

	if value == nil {
		return ToggleResult{}
	}

	s.index[code] = len(s.entries)
	s.entries = append(s.entries, models.SelectionEntry{
		IdentityCode: code,
		DisplayName:  name,
		Value:        *value,
	})
	s.notify()
	return ToggleResult{Added: true, Changed: true}
}

// Remove deletes code. Removing an absent code is a no-op.
func (s *State) Remove(code string) bool {
	if _, ok := s.index[code]; !ok {
		return false
	}
	s.remove(code)
	s.notify()
	return true
}

// Has reports whether code is selected
func (s *State) Has(code string) bool {
	_, ok := s.index[code]
	return ok
}

// Len returns the number of selected entries
func (s *State) Len() int {
	return len(s.entries)
}

// Snapshot returns a copy of the entries in insertion order
func (s *State) Snapshot() []models.SelectionEntry {
	out := make([]models.SelectionEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *State) remove(code string) {
	at := s.index[code]
	s.entries = append(s.entries[:at], s.entries[at+1:]...)
	delete(s.index, code)
	for i := at; i < len(s.entries); i++ {
		s.index[s.entries[i].IdentityCode] = i
	}
}

func (s *State) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
