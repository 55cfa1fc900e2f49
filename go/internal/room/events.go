package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// EventType identifies an outbound room notification.
type EventType string

const (
	EventRoomState             EventType = "room_state"
	EventUserJoined            EventType = "user_joined"
	EventUserDisconnected      EventType = "user_disconnected"
	EventUserReconnected       EventType = "user_reconnected"
	EventUserUpdated           EventType = "user_updated"
	EventRoomSettingsUpdated   EventType = "room_settings_updated"
	EventStoryAdded            EventType = "story_added"
	EventCurrentStoryChanged   EventType = "current_story_changed"
	EventRoundStarted          EventType = "round_started"
	EventTimerStarted          EventType = "timer_started"
	EventTimerStopped          EventType = "timer_stopped"
	EventVotingStatusUpdated   EventType = "voting_status_updated"
	EventVoteConfirmed         EventType = "vote_confirmed"
	EventRoundLocked           EventType = "round_locked"
	EventVotesRevealed         EventType = "votes_revealed"
	EventFinalEstimateSelected EventType = "final_estimate_selected"
	EventSessionEnded          EventType = "session_ended"
	EventError                 EventType = "error"
)

// Event is the envelope every outbound notification travels in. Each accepted
// mutation yields exactly one event describing the minimal delta; only the
// join/reconnect response carries a full room snapshot.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RoomCode  string    `json:"roomCode"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent builds an event envelope for a room.
func NewEvent(typ EventType, roomCode string, at time.Time, payload any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		RoomCode:  roomCode,
		Timestamp: at,
		Payload:   payload,
	}
}

// Broadcaster defines what the registry needs from the event fan-out layer.
// The in-process implementation delivers straight to websocket connection
// pools; the NATS implementation publishes to a stream consumed by a
// separately deployed gateway.
type Broadcaster interface {
	// Broadcast delivers an event to every connection bound to the room.
	Broadcast(roomCode string, ev *Event)
	// BroadcastToUser delivers an event only to connections bound to the
	// given user in the room.
	BroadcastToUser(roomCode, userID string, ev *Event)
	// BroadcastExcept delivers an event to every connection in the room
	// except those bound to the given user.
	BroadcastExcept(roomCode, excludeUserID string, ev *Event)
}

// RoomStatePayload is the full snapshot sent to a joining or reconnecting
// connection only.
type RoomStatePayload struct {
	Room         *models.RoomView `json:"room"`
	Users        []*models.User   `json:"users"`
	UserID       string           `json:"userId"`
	VotingStatus map[string]bool  `json:"votingStatus"`
	CurrentRound *models.Round    `json:"currentRound,omitempty"`
}

type UserJoinedPayload struct {
	User *models.User `json:"user"`
}

type UserDisconnectedPayload struct {
	UserID string `json:"userId"`
}

type UserReconnectedPayload struct {
	UserID string `json:"userId"`
}

type UserUpdatedPayload struct {
	User *models.User `json:"user"`
}

type RoomSettingsUpdatedPayload struct {
	Settings models.RoomSettings `json:"settings"`
}

type StoryAddedPayload struct {
	Story *models.Story `json:"story"`
}

type CurrentStoryChangedPayload struct {
	StoryID string        `json:"storyId"`
	Story   *models.Story `json:"story"`
}

type RoundStartedPayload struct {
	Round *models.Round `json:"round"`
}

type TimerStartedPayload struct {
	TimerStartedAt   time.Time `json:"timerStartedAt"`
	TimerEndsAt      time.Time `json:"timerEndsAt"`
	CountdownSeconds int       `json:"countdownSeconds"`
}

type TimerStoppedPayload struct{}

type VotingStatusUpdatedPayload struct {
	StoryID      string          `json:"storyId"`
	VotingStatus map[string]bool `json:"votingStatus"`
}

type VoteConfirmedPayload struct {
	StoryID string           `json:"storyId"`
	Value   models.VoteValue `json:"value"`
}

type RoundLockedPayload struct {
	StoryID string `json:"storyId"`
}

type VotesRevealedPayload struct {
	StoryID string                      `json:"storyId"`
	Votes   map[string]models.VoteValue `json:"votes"`
	Summary models.VoteSummary          `json:"summary"`
}

type FinalEstimateSelectedPayload struct {
	Story *models.Story `json:"story"`
}

type SessionEndedPayload struct {
	Room *models.RoomView `json:"room"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
