package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// Round lifecycle commands. The round state machine has four states per room:
// no round, voting, locked, revealed. Starting a new round supersedes any
// round in progress regardless of its state; reveal implies locked; the
// deferred auto-lock only applies if the round it was scheduled for is still
// the room's current round and still accepting votes.

// StartRound begins a fresh estimation round for a story, clearing any votes
// previously recorded for it. Host only.
func (r *Registry) StartRound(ctx context.Context, code, userID, storyID string) (*models.Round, error) {
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
	if room.Story(storyID) == nil {
		return nil, ErrStoryNotFound
	}

	// A superseded round's timer must never lock the new round. Bumping the
	// generation invalidates any auto-lock already in flight. The persisted
	// round's generation is folded in so generations stay monotonic across
	// process restarts.
	h.cancelPending()
	if prev := room.CurrentRound; prev != nil && prev.Generation > h.generation {
		h.generation = prev.Generation
	}
	h.generation++

	r.ledger(room).Clear(storyID)
	round := &models.Round{
		StoryID:    storyID,
		Generation: h.generation,
		StartedAt:  r.clock.Now(),
	}
	room.CurrentRound = round

	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventRoundStarted, code, r.clock.Now(), RoundStartedPayload{Round: round}))
	log.Info().
		Str("room_code", code).
		Str("story_id", storyID).
		Uint64("generation", round.Generation).
		Msg("round started")
	return round, nil
}

// StartTimer sets an absolute voting deadline on the current round and
// schedules the deferred auto-lock. Calling it again replaces the previous
// deadline and supersedes the previously scheduled auto-lock. Host only.
func (r *Registry) StartTimer(ctx context.Context, code, userID string) (*TimerStartedPayload, error) {
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
	round := room.CurrentRound
	if room.Status != models.RoomStatusActive || round == nil || !round.Voting() {
		return nil, ErrInvalidState
	}

	now := r.clock.Now()
	countdown := time.Duration(room.Settings.CountdownSeconds) * time.Second
	endsAt := now.Add(countdown)
	round.TimerStartedAt = &now
	round.TimerEndsAt = &endsAt

	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	payload := &TimerStartedPayload{
		TimerStartedAt:   now,
		TimerEndsAt:      endsAt,
		CountdownSeconds: room.Settings.CountdownSeconds,
	}
	r.broadcast.Broadcast(code, NewEvent(EventTimerStarted, code, now, payload))

	r.scheduleAutoLock(h, code, round.Generation, countdown)
	log.Info().
		Str("room_code", code).
		Time("deadline", endsAt).
		Msg("countdown started")
	return payload, nil
}

// StopTimer clears the voting deadline. The pending auto-lock is cancelled
// best-effort; if it fires anyway the cleared timer fields make it a no-op.
// Host only.
func (r *Registry) StopTimer(ctx context.Context, code, userID string) error {
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
	round := room.CurrentRound
	if room.Status != models.RoomStatusActive || round == nil || !round.Voting() || !round.TimerRunning() {
		return ErrInvalidState
	}

	h.cancelPending()
	round.TimerStartedAt = nil
	round.TimerEndsAt = nil

	if err := r.save(ctx, room); err != nil {
		return err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventTimerStopped, code, r.clock.Now(), TimerStoppedPayload{}))
	return nil
}

// CastVote records a hidden vote for the currently estimating story. Open to
// any room member; only legal while the round is accepting votes. Votes
// arriving after a lock or reveal are benign races and are dropped.
func (r *Registry) CastVote(ctx context.Context, code, userID, storyID string, value models.VoteValue) error {
	code = NormalizeCode(code)
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	room, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	if room.User(userID) == nil {
		return ErrUserNotFound
	}
	round := room.CurrentRound
	if room.Status != models.RoomStatusActive || round == nil || round.StoryID != storyID || !round.Voting() {
		return ErrInvalidState
	}

	ledger := r.ledger(room)
	ledger.Record(storyID, userID, value)

	if err := r.save(ctx, room); err != nil {
		return err
	}

	now := r.clock.Now()
	r.broadcast.Broadcast(code,
		NewEvent(EventVotingStatusUpdated, code, now, VotingStatusUpdatedPayload{
			StoryID:      storyID,
			VotingStatus: ledger.VotingStatus(storyID, room.UserIDs()),
		}))
	r.broadcast.BroadcastToUser(code, userID,
		NewEvent(EventVoteConfirmed, code, now, VoteConfirmedPayload{StoryID: storyID, Value: value}))
	return nil
}

// RevealVotes makes all votes for the current round visible and freezes
// further voting. Legal from voting or locked; reveal always wins over a
// late auto-lock. Host only.
func (r *Registry) RevealVotes(ctx context.Context, code, userID, storyID string) (*VotesRevealedPayload, error) {
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
	round := room.CurrentRound
	if room.Status != models.RoomStatusActive || round == nil || round.StoryID != storyID || round.Revealed {
		return nil, ErrInvalidState
	}

	h.cancelPending()
	round.Revealed = true
	round.Locked = true

	votes, summary := r.ledger(room).Reveal(storyID)

	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	payload := &VotesRevealedPayload{StoryID: storyID, Votes: votes, Summary: summary}
	r.broadcast.Broadcast(code,
		NewEvent(EventVotesRevealed, code, r.clock.Now(), payload))
	log.Info().
		Str("room_code", code).
		Str("story_id", storyID).
		Int("votes", len(votes)).
		Msg("votes revealed")
	return payload, nil
}

// SelectFinalEstimate records the consensus value for a story and marks it
// estimated. Host only. The host may re-estimate later by starting a new
// round for the same story.
func (r *Registry) SelectFinalEstimate(ctx context.Context, code, userID, storyID string, value models.VoteValue) (*models.Story, error) {
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
	story := room.Story(storyID)
	if story == nil {
		return nil, ErrStoryNotFound
	}

	story.FinalEstimate = &value
	story.Status = models.StoryStatusEstimated

	if err := r.save(ctx, room); err != nil {
		return nil, err
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventFinalEstimateSelected, code, r.clock.Now(),
			FinalEstimateSelectedPayload{Story: story}))
	log.Info().
		Str("room_code", code).
		Str("story_id", storyID).
		Str("estimate", value.String()).
		Msg("final estimate selected")
	return story, nil
}
