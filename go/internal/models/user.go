package models

// UserRole defines a member's role within a room. Exactly one member per room
// holds the host role, assigned at room creation and immutable thereafter.
type UserRole string

const (
	UserRoleHost        UserRole = "host"
	UserRoleParticipant UserRole = "participant"
)

// User represents one member of a room. Members are never removed while the
// room is active; the Connected flag distinguishes offline members.
type User struct {
	ID          string   `json:"id"`
	RoomCode    string   `json:"roomCode"`
	DisplayName string   `json:"displayName"`
	AvatarID    string   `json:"avatarId"`
	Role        UserRole `json:"role"`
	Connected   bool     `json:"connected"`
}
