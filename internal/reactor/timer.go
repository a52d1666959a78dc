package reactor

import (
	"sort"
	"time"
)

// TimerID identifies a timer within one handler. The meaning of an id is up to
// the handler's owner.
type TimerID uint32

type timerEntry struct {
	deadline time.Time
	id       TimerID
}

// TimerSet is a deadline-ordered collection of one-shot timers. Entries with
// equal deadlines keep their insertion order.
type TimerSet struct {
	entries []timerEntry
}

// Start schedules id to fire at deadline. With resetPrevious every pending entry
// for id is removed first; otherwise the new entry is added alongside them.
func (s *TimerSet) Start(id TimerID, deadline time.Time, resetPrevious bool) {
	if resetPrevious {
		s.Stop(id)
	}
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].deadline.After(deadline)
	})
	s.entries = append(s.entries, timerEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = timerEntry{deadline: deadline, id: id}
}

// Stop removes every pending entry for id and returns how many were removed.
func (s *TimerSet) Stop(id TimerID) int {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed
}

// Closest returns the earliest pending deadline.
func (s *TimerSet) Closest() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].deadline, true
}

// PopExpired removes and returns the earliest entry whose deadline is at or
// before now.
func (s *TimerSet) PopExpired(now time.Time) (TimerID, bool) {
	if len(s.entries) == 0 || s.entries[0].deadline.After(now) {
		return 0, false
	}
	id := s.entries[0].id
	s.entries[0] = timerEntry{}
	s.entries = s.entries[1:]
	return id, true
}

// Len returns the number of pending entries.
func (s *TimerSet) Len() int { return len(s.entries) }

// Count returns the number of pending entries for id.
func (s *TimerSet) Count(id TimerID) int {
	n := 0
	for _, e := range s.entries {
		if e.id == id {
			n++
		}
	}
	return n
}

// Deadline returns the earliest pending deadline for id.
func (s *TimerSet) Deadline(id TimerID) (time.Time, bool) {
	for _, e := range s.entries {
		if e.id == id {
			return e.deadline, true
		}
	}
	return time.Time{}, false
}

// Clear drops every pending entry.
func (s *TimerSet) Clear() {
	s.entries = nil
}
