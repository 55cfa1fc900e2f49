package models

import "time"

// Round is one estimation attempt for one story. A room holds at most one
// round at a time; starting a new round replaces it wholesale. Generation is a
// per-room monotonic counter used to invalidate deferred timer actions that
// outlive the round they were scheduled for.
type Round struct {
	StoryID        string     `json:"storyId"`
	Generation     uint64     `json:"generation"`
	StartedAt      time.Time  `json:"startedAt"`
	TimerStartedAt *time.Time `json:"timerStartedAt,omitempty"`
	TimerEndsAt    *time.Time `json:"timerEndsAt,omitempty"`
	Revealed       bool       `json:"revealed"`
	Locked         bool       `json:"locked"`
}

// Voting reports whether the round still accepts votes.
func (r *Round) Voting() bool {
	return !r.Locked && !r.Revealed
}

// TimerRunning reports whether a countdown is set on the round.
func (r *Round) TimerRunning() bool {
	return r.TimerEndsAt != nil
}
