package gateway

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/room"
)

// Gateway binds transport connections to room/user identity and routes
// inbound commands to the room registry. Fan-out of accepted mutations
// happens through the registry's broadcaster; the gateway itself only sends
// the private responses: the join/reconnect snapshot and error notifications.
type Gateway struct {
	registry *room.Registry
	cm       *ConnectionManager
	clock    clockwork.Clock
}

// NewGateway wires a gateway to the registry and connection manager. It
// installs itself as the connection manager's message and disconnect handler.
func NewGateway(registry *room.Registry, cm *ConnectionManager, clock clockwork.Clock) *Gateway {
	g := &Gateway{registry: registry, cm: cm, clock: clock}
	cm.SetHandlers(g.HandleMessage, g.HandleDisconnect)
	return g
}

// HandleMessage processes one inbound client frame.
func (g *Gateway) HandleMessage(conn *Connection, data []byte) {
	cmd, err := DecodeCommand(data)
	if err != nil {
		g.sendError(conn, err)
		return
	}

	ctx := context.Background()
	switch cmd.Type {
	case CmdJoinRoom:
		g.handleJoin(ctx, conn, cmd)
	case CmdHostJoinRoom:
		g.handleHostJoin(ctx, conn, cmd)
	default:
		g.handleRoomCommand(ctx, conn, cmd)
	}
}

// handleJoin serves both variants of join_room: a fresh join allocating a new
// participant, and a reconnect presenting a previously issued user id.
func (g *Gateway) handleJoin(ctx context.Context, conn *Connection, cmd *Command) {
	if cmd.IsReconnect() {
		snapshot, err := g.registry.ReconnectUser(ctx, cmd.RoomCode, cmd.UserID)
		if err != nil {
			g.sendError(conn, err)
			return
		}
		g.cm.Bind(conn, room.NormalizeCode(cmd.RoomCode), cmd.UserID)
		g.sendSnapshot(conn, snapshot)
		return
	}

	user, snapshot, err := g.registry.JoinRoom(ctx, cmd.RoomCode, cmd.DisplayName, cmd.AvatarID)
	if err != nil {
		g.sendError(conn, err)
		return
	}
	g.cm.Bind(conn, user.RoomCode, user.ID)
	g.sendSnapshot(conn, snapshot)
}

// handleHostJoin rebinds a host who already holds their user id, typically
// right after creating the room over HTTP.
func (g *Gateway) handleHostJoin(ctx context.Context, conn *Connection, cmd *Command) {
	snapshot, err := g.registry.ReconnectUser(ctx, cmd.RoomCode, cmd.HostUserID)
	if err != nil {
		g.sendError(conn, err)
		return
	}
	g.cm.Bind(conn, room.NormalizeCode(cmd.RoomCode), cmd.HostUserID)
	g.sendSnapshot(conn, snapshot)
}

// handleRoomCommand executes a command that requires an established binding.
// The bound identity is authoritative; clients cannot act as another user or
// another room by varying envelope fields.
func (g *Gateway) handleRoomCommand(ctx context.Context, conn *Connection, cmd *Command) {
	roomCode, userID, ok := g.cm.Binding(conn)
	if !ok {
		g.sendError(conn, room.ErrNotAuthorized)
		return
	}

	var err error
	switch cmd.Type {
	case CmdChangeAvatar:
		err = g.registry.ChangeAvatar(ctx, roomCode, userID, cmd.AvatarID)
	case CmdUpdateRoomSettings:
		err = g.registry.UpdateSettings(ctx, roomCode, userID, *cmd.Settings)
	case CmdAddStory:
		_, err = g.registry.AddStory(ctx, roomCode, userID, *cmd.Story)
	case CmdSetCurrentStory:
		err = g.registry.SetCurrentStory(ctx, roomCode, userID, cmd.StoryID)
	case CmdStartRound:
		_, err = g.registry.StartRound(ctx, roomCode, userID, cmd.StoryID)
	case CmdStartTimer:
		_, err = g.registry.StartTimer(ctx, roomCode, userID)
	case CmdStopTimer:
		err = g.registry.StopTimer(ctx, roomCode, userID)
	case CmdCastVote:
		err = g.registry.CastVote(ctx, roomCode, userID, cmd.StoryID, *cmd.Value)
	case CmdRevealVotes:
		_, err = g.registry.RevealVotes(ctx, roomCode, userID, cmd.StoryID)
	case CmdSelectFinalEstimate:
		_, err = g.registry.SelectFinalEstimate(ctx, roomCode, userID, cmd.StoryID, *cmd.Value)
	case CmdEndSession:
		err = g.registry.EndSession(ctx, roomCode, userID)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", string(cmd.Type)).
			Msg("unknown command type")
		return
	}

	if err != nil {
		g.sendError(conn, err)
	}
}

// HandleDisconnect flips the bound user offline and announces it to the rest
// of the room. The binding arrives as arguments because the connection
// manager has already removed its table entry when this fires; connections
// that never joined carry an empty room code and are a no-op.
func (g *Gateway) HandleDisconnect(conn *Connection, roomCode, userID string) {
	if roomCode == "" {
		return
	}
	if err := g.registry.DisconnectUser(context.Background(), roomCode, userID); err != nil {
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Str("user_id", userID).
			Msg("failed to record disconnect")
	}
}

func (g *Gateway) sendSnapshot(conn *Connection, snapshot *room.RoomStatePayload) {
	g.cm.SendEvent(conn, room.NewEvent(room.EventRoomState, snapshot.Room.Code, g.clock.Now(), snapshot))
}

// sendError maps a command failure onto the wire. Invalid-state transitions
// commonly arise from benign races, e.g. a vote arriving just after an
// auto-lock, and are dropped without notifying the client.
func (g *Gateway) sendError(conn *Connection, err error) {
	if errors.Is(err, room.ErrInvalidState) {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("command dropped, invalid state")
		return
	}

	log.Debug().Err(err).Str("connection_id", conn.ID).Msg("command rejected")
	g.cm.SendEvent(conn, room.NewEvent(room.EventError, "", g.clock.Now(),
		room.ErrorPayload{Message: err.Error()}))
}
