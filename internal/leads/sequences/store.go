// Package sequences tracks active outreach sequences per lead.
//
// State lives in memory and is scoped to a single orchestrator instance: a
// restart loses it and an interrupted sequence will not resume. This is a
// known correctness gap inherited from the system this replaces; it is kept
// explicit here (one owned store, one key scheme) instead of being spread
// across handler instances, so persisting it later is a single-package change.
package sequences

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle of one sequence.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Sequence is one running multi-step outreach chain for a lead.
type Sequence struct {
	LeadID    uuid.UUID
	Name      string
	State     State
	Step      int
	StartedAt time.Time
	UpdatedAt time.Time
}

type key struct {
	leadID uuid.UUID
	name   string
}

// Store owns all sequence state for one orchestrator instance.
type Store struct {
	mu        sync.Mutex
	sequences map[key]*Sequence
}

// NewStore creates an empty sequence store.
func NewStore() *Store {
	return &Store{sequences: make(map[key]*Sequence)}
}

// Begin starts a sequence for a lead. Returns false if one with the same
// name is already active for that lead.
func (s *Store) Begin(leadID uuid.UUID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{leadID: leadID, name: name}
	if existing, ok := s.sequences[k]; ok && existing.State == StateActive {
		return false
	}

	now := time.Now()
	s.sequences[k] = &Sequence{
		LeadID:    leadID,
		Name:      name,
		State:     StateActive,
		StartedAt: now,
		UpdatedAt: now,
	}
	return true
}

// Advance bumps the step counter of an active sequence. Returns the new step
// number, or -1 if no active sequence exists.
func (s *Store) Advance(leadID uuid.UUID, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[key{leadID: leadID, name: name}]
	if !ok || seq.State != StateActive {
		return -1
	}

	seq.Step++
	seq.UpdatedAt = time.Now()
	return seq.Step
}

// Finish marks a sequence completed or cancelled.
func (s *Store) Finish(leadID uuid.UUID, name string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.sequences[key{leadID: leadID, name: name}]; ok {
		seq.State = state
		seq.UpdatedAt = time.Now()
	}
}

// Get returns a copy of the sequence, if present.
func (s *Store) Get(leadID uuid.UUID, name string) (Sequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.sequences[key{leadID: leadID, name: name}]
	if !ok {
		return Sequence{}, false
	}
	return *seq, true
}

// ActiveCount returns how many sequences are currently active.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, seq := range s.sequences {
		if seq.State == StateActive {
			count++
		}
	}
	return count
}
