package models

import "time"

// StoryStatus defines the estimation status of a story. Status advances
// pending -> estimating -> estimated; re-estimation re-enters estimating via a
// new round.
type StoryStatus string

const (
	StoryStatusPending    StoryStatus = "pending"
	StoryStatusEstimating StoryStatus = "estimating"
	StoryStatusEstimated  StoryStatus = "estimated"
)

// Story is one work item to be estimated.
type Story struct {
	ID            string      `json:"id"`
	RoomCode      string      `json:"roomCode"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Link          string      `json:"link,omitempty"`
	Status        StoryStatus `json:"status"`
	FinalEstimate *VoteValue  `json:"finalEstimate,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// StoryDraft carries the client-supplied fields for a new story.
type StoryDraft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}
