package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/models"
	"github.com/mcdev12/sprintpoker/go/internal/store"
)

const (
	defaultHostAvatar        = "sparky"
	defaultParticipantAvatar = "blazey"

	minCountdownSeconds = 5
	maxCountdownSeconds = 600
)

// Registry owns room identity, membership, settings and the story list, and
// routes every room mutation through a per-room lock so commands targeting
// the same room never interleave their read-modify-write. The round state
// machine and vote ledger operate on the aggregate under that lock.
type Registry struct {
	store     store.Store
	clock     clockwork.Clock
	broadcast Broadcaster

	mu      sync.Mutex
	handles map[string]*roomHandle
}

// roomHandle serializes access to one room and tracks the in-process round
// generation and any pending auto-lock timer. dropped marks a handle the
// retention sweep detached from the registry; commands that raced the sweep
// for it must re-resolve instead of mutating through it.
type roomHandle struct {
	mu         sync.Mutex
	generation uint64
	pending    *pendingLock
	dropped    bool
}

// NewRegistry creates a registry backed by the given store. The broadcaster
// receives one event per accepted mutation.
func NewRegistry(st store.Store, clock clockwork.Clock, broadcast Broadcaster) *Registry {
	return &Registry{
		store:     st,
		clock:     clock,
		broadcast: broadcast,
		handles:   make(map[string]*roomHandle),
	}
}

// handle returns the lock handle for a canonical room code, creating it on
// first use.
func (r *Registry) handle(code string) *roomHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[code]
	if !ok {
		h = &roomHandle{}
		r.handles[code] = h
	}
	return h
}

// lockHandle returns the room's handle with its mutex held. A handle dropped
// between lookup and lock belongs to a swept room; looking up again then
// yields the live handle, so two commands can never hold separate handles for
// the same code.
func (r *Registry) lockHandle(code string) *roomHandle {
	for {
		h := r.handle(code)
		h.mu.Lock()
		if !h.dropped {
			return h
		}
		h.mu.Unlock()
	}
}

// dropHandle removes a room's handle, cancelling any pending auto-lock.
func (r *Registry) dropHandle(code string) {
	r.mu.Lock()
	h, ok := r.handles[code]
	delete(r.handles, code)
	r.mu.Unlock()

	if ok {
		h.mu.Lock()
		h.dropped = true
		h.cancelPending()
		h.mu.Unlock()
	}
}

// load fetches the aggregate for a canonical code, mapping store misses to
// the command error taxonomy.
func (r *Registry) load(ctx context.Context, code string) (*models.Room, error) {
	room, err := r.store.GetRoom(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", code, err)
	}
	return room, nil
}

// save persists the aggregate after bumping its modification time.
func (r *Registry) save(ctx context.Context, room *models.Room) error {
	room.UpdatedAt = r.clock.Now()
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.Code, err)
	}
	return nil
}

func (r *Registry) ledger(room *models.Room) Ledger {
	if room.Votes == nil {
		room.Votes = make(models.VoteSet)
	}
	return NewLedger(room.Votes, r.clock)
}

func requireHost(room *models.Room, userID string) error {
	if room.HostID != userID {
		return ErrNotAuthorized
	}
	return nil
}

// CreateRoom allocates a fresh room with its host user and default settings.
func (r *Registry) CreateRoom(ctx context.Context, hostName, roomName, avatarID string) (*models.Room, *models.User, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, nil, fmt.Errorf("%w: host name is required", ErrValidation)
	}
	if avatarID == "" {
		avatarID = defaultHostAvatar
	}

	code := newRoomCode()
	if roomName == "" {
		roomName = "Room " + code
	}

	now := r.clock.Now()
	host := &models.User{
		ID:          uuid.New().String(),
		RoomCode:    code,
		DisplayName: hostName,
		AvatarID:    avatarID,
		Role:        models.UserRoleHost,
		Connected:   true,
	}
	room := &models.Room{
		Code:      code,
		Name:      roomName,
		HostID:    host.ID,
		Settings:  models.DefaultRoomSettings(),
		Users:     []*models.User{host},
		Stories:   []*models.Story{},
		Votes:     make(models.VoteSet),
		Status:    models.RoomStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateRoom(ctx, room); err != nil {
		return nil, nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().
		Str("room_code", code).
		Str("host_id", host.ID).
		Msg("room created")
	return room, host, nil
}

// Lookup returns the client-facing view of a room for the HTTP surface.
func (r *Registry) Lookup(ctx context.Context, code string) (*models.RoomView, error) {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	return room.View(), nil
}

// JoinRoom adds a new participant to an active room, announces the join to
// the rest of the room and returns the snapshot for the joining connection.
func (r *Registry) JoinRoom(ctx context.Context, code, displayName, avatarID string) (*models.User, *RoomStatePayload, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, nil, fmt.Errorf("%w: display name is required", ErrValidation)
	}
	if avatarID == "" {
		avatarID = defaultParticipantAvatar
	}

	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, nil, ErrRoomNotFound
	}

	user := &models.User{
		ID:          uuid.New().String(),
		RoomCode:    code,
		DisplayName: displayName,
		AvatarID:    avatarID,
		Role:        models.UserRoleParticipant,
		Connected:   true,
	}
	room.Users = append(room.Users, user)

	if err := r.save(ctx, room); err != nil {
		return nil, nil, err
	}

	r.broadcast.BroadcastExcept(code, user.ID,
		NewEvent(EventUserJoined, code, r.clock.Now(), UserJoinedPayload{User: user}))
	log.Info().
		Str("room_code", code).
		Str("user_id", user.ID).
		Str("display_name", displayName).
		Msg("user joined room")

	return user, r.snapshot(room, user.ID), nil
}

// ReconnectUser flips a known member back to connected and returns the full
// snapshot for the reconnecting connection.
func (r *Registry) ReconnectUser(ctx context.Context, code, userID string) (*RoomStatePayload, error) {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	user := room.User(userID)
	if user == nil {
		return nil, ErrUserNotFound
	}

	user.Connected = true
	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	r.broadcast.BroadcastExcept(code, userID,
		NewEvent(EventUserReconnected, code, r.clock.Now(), UserReconnectedPayload{UserID: userID}))
	log.Info().
		Str("room_code", code).
		Str("user_id", userID).
		Msg("user reconnected")

	return r.snapshot(room, userID), nil
}

// DisconnectUser marks a member offline and notifies the rest of the room.
// Unknown rooms are ignored; disconnects routinely race the retention sweep.
func (r *Registry) DisconnectUser(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	user := room.User(userID)
	if user == nil {
		return nil
	}

	user.Connected = false
	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.BroadcastExcept(code, userID,
		NewEvent(EventUserDisconnected, code, r.clock.Now(), UserDisconnectedPayload{UserID: userID}))
	log.Info().
		Str("room_code", code).
		Str("user_id", userID).
		Msg("user disconnected")
	return nil
}

// ChangeAvatar updates a member's avatar. Open to any room member.
func (r *Registry) ChangeAvatar(ctx context.Context, code, userID, avatarID string) error {
	if avatarID == "" {
		return fmt.Errorf("%w: avatar id is required", ErrValidation)
	}

	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	user := room.User(userID)
	if user == nil {
		return ErrUserNotFound
	}

	user.AvatarID = avatarID
	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventUserUpdated, code, r.clock.Now(), UserUpdatedPayload{User: user}))
	return nil
}

// SettingsPatch carries the subset of settings a host wants to change.
type SettingsPatch struct {
	DeckType            *models.DeckType `json:"deckType,omitempty"`
	IncludeQuestionMark *bool            `json:"includeQuestionMark,omitempty"`
	IncludeCoffee       *bool            `json:"includeCoffee,omitempty"`
	CountdownSeconds    *int             `json:"countdownSeconds,omitempty"`
}

// UpdateSettings merges a settings patch into the room. Host only.
func (r *Registry) UpdateSettings(ctx context.Context, code, userID string, patch SettingsPatch) error {
	if patch.CountdownSeconds != nil {
		if *patch.CountdownSeconds < minCountdownSeconds || *patch.CountdownSeconds > maxCountdownSeconds {
			return fmt.Errorf("%w: countdown must be between %d and %d seconds",
				ErrValidation, minCountdownSeconds, maxCountdownSeconds)
		}
	}

	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	if err := requireHost(room, userID); err != nil {
		return err
	}

	if patch.DeckType != nil {
		room.Settings.DeckType = *patch.DeckType
	}
	if patch.IncludeQuestionMark != nil {
		room.Settings.IncludeQuestionMark = *patch.IncludeQuestionMark
	}
	if patch.IncludeCoffee != nil {
		room.Settings.IncludeCoffee = *patch.IncludeCoffee
	}
	if patch.CountdownSeconds != nil {
		room.Settings.CountdownSeconds = *patch.CountdownSeconds
	}

	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventRoomSettingsUpdated, code, r.clock.Now(),
			RoomSettingsUpdatedPayload{Settings: room.Settings}))
	return nil
}

// AddStory appends a pending story to the room's list. Host only.
func (r *Registry) AddStory(ctx context.Context, code, userID string, draft models.StoryDraft) (*models.Story, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, fmt.Errorf("%w: story title is required", ErrValidation)
	}

	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := requireHost(room, userID); err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, ErrInvalidState
	}

	story := &models.Story{
		ID:          uuid.New().String(),
		RoomCode:    code,
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		Link:        draft.Link,
		Status:      models.StoryStatusPending,
		CreatedAt:   r.clock.Now(),
	}
	room.Stories = append(room.Stories, story)
	r.ledger(room).Clear(story.ID)

	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventStoryAdded, code, r.clock.Now(), StoryAddedPayload{Story: story}))
	return story, nil
}

// SetCurrentStory selects the story the room estimates next and marks it
// estimating. It does not start a round; the host issues start_round as a
// separate command. Any previously estimating story reverts to pending so at
// most one story is ever in the estimating state.
func (r *Registry) SetCurrentStory(ctx context.Context, code, userID, storyID string) error {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	if err := requireHost(room, userID); err != nil {
		return err
	}
	if room.Status != models.RoomStatusActive {
		return ErrInvalidState
	}
	story := room.Story(storyID)
	if story == nil {
		return ErrStoryNotFound
	}

	for _, s := range room.Stories {
		if s.ID != storyID && s.Status == models.StoryStatusEstimating {
			s.Status = models.StoryStatusPending
		}
	}
	room.CurrentStoryID = storyID
	if story.Status != models.StoryStatusEstimated {
		story.Status = models.StoryStatusEstimating
	}

	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventCurrentStoryChanged, code, r.clock.Now(),
			CurrentStoryChangedPayload{StoryID: storyID, Story: story}))
	return nil
}

// EndSession terminates the room. No further round transitions are permitted
// afterwards; the room stays readable until the retention sweep removes it.
func (r *Registry) EndSession(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	if err := requireHost(room, userID); err != nil {
		return err
	}
	if room.Status != models.RoomStatusActive {
		return ErrInvalidState
	}

	room.Status = models.RoomStatusEnded
	h.cancelPending()

	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventSessionEnded, code, r.clock.Now(), SessionEndedPayload{Room: room.View()}))
	log.Info().Str("room_code", code).Msg("session ended")
	return nil
}

// Snapshot returns the full room state for one member, e.g. for a host
// rebinding an existing identity to a new connection.
func (r *Registry) Snapshot(ctx context.Context, code, userID string) (*RoomStatePayload, error) {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.User(userID) == nil {
		return nil, ErrUserNotFound
	}
	return r.snapshot(room, userID), nil
}

// snapshot builds the room_state payload. Caller holds the room lock. The
// voting projection follows the current round's story when a round exists;
// rounds may target a story that was never selected as current.
func (r *Registry) snapshot(room *models.Room, userID string) *RoomStatePayload {
	storyID := room.CurrentStoryID
	if room.CurrentRound != nil {
		storyID = room.CurrentRound.StoryID
	}
	votingStatus := map[string]bool{}
	if storyID != "" {
		votingStatus = r.ledger(room).VotingStatus(storyID, room.UserIDs())
	}
	return &RoomStatePayload{
		Room:         room.View(),
		Users:        room.Users,
		UserID:       userID,
		VotingStatus: votingStatus,
		CurrentRound: room.CurrentRound,
	}
}

// SweepIdle removes rooms whose last mutation is older than maxAge and drops
// their in-process handles, cancelling any timers still scheduled for them.
func (r *Registry) SweepIdle(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-maxAge)
	removed, err := r.store.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep idle rooms: %w", err)
	}
	for _, code := range removed {
		r.dropHandle(code)
	}
	if len(removed) > 0 {
		log.Info().Int("rooms", len(removed)).Msg("swept idle rooms")
	}
	return len(removed), nil
}
