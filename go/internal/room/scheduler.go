package room

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// pendingLock is one scheduled auto-lock. It captures the round generation at
// schedule time; the fire path re-validates that generation against the
// room's current round before acting, so cancellation only needs to be
// best-effort.
type pendingLock struct {
	timer      clockwork.Timer
	generation uint64
	cancel     chan struct{}
}

// cancelPending stops and detaches the handle's scheduled auto-lock, if any.
// Caller holds h.mu.
func (h *roomHandle) cancelPending() {
	if h.pending == nil {
		return
	}
	stopAndDrainTimer(h.pending.timer)
	close(h.pending.cancel)
	h.pending = nil
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// scheduleAutoLock replaces the handle's pending auto-lock with one firing
// after d. Caller holds h.mu.
func (r *Registry) scheduleAutoLock(h *roomHandle, code string, generation uint64, d time.Duration) {
	h.cancelPending()

	p := &pendingLock{
		timer:      r.clock.NewTimer(d),
		generation: generation,
		cancel:     make(chan struct{}),
	}
	h.pending = p

	go func() {
		select {
		case <-p.timer.Chan():
			r.autoLock(code, generation)
		case <-p.cancel:
		}
	}()

	log.Debug().
		Str("room_code", code).
		Uint64("generation", generation).
		Dur("duration", d).
		Msg("auto-lock scheduled")
}

// autoLock is the deferred timer action. It runs outside any lock held at
// schedule time, so it re-acquires the room lock and re-validates everything
// against the persisted round: the generation it was scheduled for must still
// be the room's current round, the round must still be accepting votes and
// the persisted deadline must actually have passed. The deadline check
// matters when a restarted timer keeps the same round and generation: a fire
// from the superseded schedule that slipped past cancellation must wait for
// the replacement deadline. Reveal, stop-timer and new-round always win over
// a late fire.
func (r *Registry) autoLock(code string, generation uint64) {
	h := r.lockHandle(code)
	defer h.mu.Unlock()

	if h.pending != nil && h.pending.generation == generation {
		h.pending = nil
	}

	ctx := context.Background()
	room, err := r.load(ctx, code)
	if err != nil {
		log.Debug().Err(err).Str("room_code", code).Msg("auto-lock skipped, room gone")
		return
	}
	round := room.CurrentRound
	if room.Status != models.RoomStatusActive ||
		round == nil ||
		round.Generation != generation ||
		!round.Voting() ||
		!round.TimerRunning() ||
		r.clock.Now().Before(*round.TimerEndsAt) {
		return
	}

	round.Locked = true
	if err := r.save(ctx, room); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to persist auto-lock")
		return
	}

	r.broadcast.Broadcast(code,
		NewEvent(EventRoundLocked, code, r.clock.Now(), RoundLockedPayload{StoryID: round.StoryID}))
	log.Info().
		Str("room_code", code).
		Str("story_id", round.StoryID).
		Uint64("generation", generation).
		Msg("round auto-locked on countdown expiry")
}
