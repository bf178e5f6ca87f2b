// Package game holds the interrogation game's scoring and economy state and
// its persistence stores.
package game

import (
	"time"
)

// PlayerStats is the per-player scoring and economy state. It is plain data
// passed by reference; persistence is a collaborator (StatsStore), not a
// concern of the struct itself.
type PlayerStats struct {
	PlayerID    string
	CasesSolved int
	Accusations int
	Confessions int
	Credits     int
	Suspicion   float64 // 0..1 meter
	UpdatedAt   time.Time
}

// NewPlayerStats returns fresh state for a player starting their first case.
func NewPlayerStats(playerID string) *PlayerStats {
	return &PlayerStats{PlayerID: playerID, UpdatedAt: time.Now()}
}

// RecordConfession credits the player for extracting a confession.
func (s *PlayerStats) RecordConfession(credits int) {
	s.Confessions++
	s.Credits += credits
	s.UpdatedAt = time.Now()
}

// RecordAccusation scores one accusation. A correct accusation solves the
// case and resets the suspicion meter; a wrong one costs credits.
func (s *PlayerStats) RecordAccusation(correct bool, wager int) {
	s.Accusations++
	if correct {
		s.CasesSolved++
		s.Credits += wager
		s.Suspicion = 0
	} else {
		s.Credits -= wager
		if s.Credits < 0 {
			s.Credits = 0
		}
	}
	s.UpdatedAt = time.Now()
}

// RaiseSuspicion moves the suspect's suspicion meter, clamped to [0, 1].
func (s *PlayerStats) RaiseSuspicion(delta float64) {
	s.Suspicion += delta
	if s.Suspicion > 1 {
		s.Suspicion = 1
	}
	if s.Suspicion < 0 {
		s.Suspicion = 0
	}
	s.UpdatedAt = time.Now()
}

// Alerted reports whether the suspect has become too suspicious to keep
// answering questions.
func (s *PlayerStats) Alerted() bool {
	return s.Suspicion >= 1
}
