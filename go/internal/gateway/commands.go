package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/sprintpoker/go/internal/models"
	"github.com/mcdev12/sprintpoker/go/internal/room"
)

// CommandType identifies an inbound client command.
type CommandType string

const (
	CmdJoinRoom            CommandType = "join_room"
	CmdHostJoinRoom        CommandType = "host_join_room"
	CmdChangeAvatar        CommandType = "change_avatar"
	CmdUpdateRoomSettings  CommandType = "update_room_settings"
	CmdAddStory            CommandType = "add_story"
	CmdSetCurrentStory     CommandType = "set_current_story"
	CmdStartRound          CommandType = "start_round"
	CmdStartTimer          CommandType = "start_timer"
	CmdStopTimer           CommandType = "stop_timer"
	CmdCastVote            CommandType = "cast_vote"
	CmdRevealVotes         CommandType = "reveal_votes"
	CmdSelectFinalEstimate CommandType = "select_final_estimate"
	CmdEndSession          CommandType = "end_session"
)

// Command is the inbound envelope every client frame decodes into. Which
// fields are meaningful depends on the type; Decode validates the required
// ones per command.
type Command struct {
	Type     CommandType `json:"type"`
	RoomCode string      `json:"roomCode"`

	// join_room: fresh joins carry a display name; reconnects carry the user
	// id issued on the original join. The two are distinct variants, not a
	// field-sniffing fallback: a non-empty UserID always means reconnect.
	DisplayName string `json:"displayName,omitempty"`
	AvatarID    string `json:"avatarId,omitempty"`
	UserID      string `json:"userId,omitempty"`

	// host_join_room
	HostUserID string `json:"hostUserId,omitempty"`

	Settings *room.SettingsPatch `json:"settings,omitempty"`
	Story    *models.StoryDraft  `json:"story,omitempty"`
	StoryID  string              `json:"storyId,omitempty"`
	Value    *models.VoteValue   `json:"value,omitempty"`
}

// DecodeCommand parses a client frame and checks the envelope fields the
// command type requires. Field-level semantics are validated downstream.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: malformed command: %v", room.ErrValidation, err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("%w: command type is required", room.ErrValidation)
	}
	if cmd.RoomCode == "" {
		return nil, fmt.Errorf("%w: room code is required", room.ErrValidation)
	}

	switch cmd.Type {
	case CmdHostJoinRoom:
		if cmd.HostUserID == "" {
			return nil, fmt.Errorf("%w: hostUserId is required", room.ErrValidation)
		}
	case CmdAddStory:
		if cmd.Story == nil {
			return nil, fmt.Errorf("%w: story is required", room.ErrValidation)
		}
	case CmdUpdateRoomSettings:
		if cmd.Settings == nil {
			return nil, fmt.Errorf("%w: settings are required", room.ErrValidation)
		}
	case CmdSetCurrentStory, CmdStartRound, CmdRevealVotes:
		if cmd.StoryID == "" {
			return nil, fmt.Errorf("%w: storyId is required", room.ErrValidation)
		}
	case CmdCastVote, CmdSelectFinalEstimate:
		if cmd.StoryID == "" {
			return nil, fmt.Errorf("%w: storyId is required", room.ErrValidation)
		}
		if cmd.Value == nil {
			return nil, fmt.Errorf("%w: value is required", room.ErrValidation)
		}
	}
	return &cmd, nil
}

// IsReconnect reports whether a join_room command is the reconnect variant.
func (c *Command) IsReconnect() bool {
	return c.Type == CmdJoinRoom && c.UserID != ""
}
