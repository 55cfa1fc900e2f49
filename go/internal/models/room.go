package models

import (
	"time"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusEnded  RoomStatus = "ended"
)

// DeckType defines the card deck used for estimation.
type DeckType string

const (
	DeckTypeFibonacci DeckType = "fibonacci"
	DeckTypeTShirt    DeckType = "tshirt"
	DeckTypePowers    DeckType = "powers"
)

// RoomSettings holds per-room estimation configuration.
type RoomSettings struct {
	DeckType            DeckType `json:"deckType"`
	IncludeQuestionMark bool     `json:"includeQuestionMark"`
	IncludeCoffee       bool     `json:"includeCoffee"`
	CountdownSeconds    int      `json:"countdownSeconds"`
}

// DefaultRoomSettings returns the settings a freshly created room starts with.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		DeckType:            DeckTypeFibonacci,
		IncludeQuestionMark: true,
		IncludeCoffee:       true,
		CountdownSeconds:    60,
	}
}

// Room is the authoritative aggregate for one estimation session. It owns its
// users, stories, current round and the hidden vote set; all mutation funnels
// through the room registry so there is a single writer per room.
type Room struct {
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	HostID         string       `json:"hostId"`
	Settings       RoomSettings `json:"settings"`
	Users          []*User      `json:"users"`
	Stories        []*Story     `json:"stories"`
	CurrentStoryID string       `json:"currentStoryId,omitempty"`
	CurrentRound   *Round       `json:"currentRound,omitempty"`
	Votes          VoteSet      `json:"votes"`
	Status         RoomStatus   `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// User returns the member with the given id, or nil.
func (r *Room) User(userID string) *User {
	for _, u := range r.Users {
		if u.ID == userID {
			return u
		}
	}
	return nil
}

// Story returns the story with the given id, or nil.
func (r *Room) Story(storyID string) *Story {
	for _, s := range r.Stories {
		if s.ID == storyID {
			return s
		}
	}
	return nil
}

// UserIDs returns the ids of all members in join order.
func (r *Room) UserIDs() []string {
	ids := make([]string, 0, len(r.Users))
	for _, u := range r.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// RoomView is the client-facing projection of a room. It carries everything a
// client may see at any time; the hidden vote set is deliberately absent.
type RoomView struct {
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	HostID         string       `json:"hostId"`
	Settings       RoomSettings `json:"settings"`
	Stories        []*Story     `json:"stories"`
	CurrentStoryID string       `json:"currentStoryId,omitempty"`
	CurrentRound   *Round       `json:"currentRound,omitempty"`
	Status         RoomStatus   `json:"status"`
}

// View projects the room for broadcast, stripping the vote set.
func (r *Room) View() *RoomView {
	return &RoomView{
		Code:           r.Code,
		Name:           r.Name,
		HostID:         r.HostID,
		Settings:       r.Settings,
		Stories:        r.Stories,
		CurrentStoryID: r.CurrentStoryID,
		CurrentRound:   r.CurrentRound,
		Status:         r.Status,
	}
}
