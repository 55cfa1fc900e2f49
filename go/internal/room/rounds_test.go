package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// waitUntil polls for an asynchronous condition. The auto-lock runs on its own
// goroutine after the fake clock fires, so assertions about it cannot be made
// synchronously.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// settle gives a spurious auto-lock goroutine time to run before asserting
// that nothing happened.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func (r *Registry) currentRound(t *testing.T, code string) *models.Round {
	t.Helper()
	return r.mustLoad(t, code).CurrentRound
}

func TestStartRoundRequiresExistingStory(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)

	if _, err := reg.StartRound(context.Background(), code, hostID, "no-such-story"); !errors.Is(err, ErrStoryNotFound) {
		t.Errorf("err = %v, want ErrStoryNotFound", err)
	}
}

func TestStartTimerRequiresOpenRound(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)

	if _, err := reg.StartTimer(context.Background(), code, hostID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartTimer without a round = %v, want ErrInvalidState", err)
	}
}

func TestStopTimerWithoutRunningTimer(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")

	if _, err := reg.StartRound(context.Background(), code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := reg.StopTimer(context.Background(), code, hostID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StopTimer without a timer = %v, want ErrInvalidState", err)
	}
}

func TestCastVoteOutsideRoundIsRejected(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	code, hostID, participantID := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	other := addStory(t, reg, code, hostID, "Signup flow")
	ctx := context.Background()

	if err := reg.CastVote(ctx, code, participantID, storyID, models.NumericValue(5)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("vote before any round = %v, want ErrInvalidState", err)
	}

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := reg.CastVote(ctx, code, participantID, other, models.NumericValue(5)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("vote for a different story = %v, want ErrInvalidState", err)
	}
}

func TestAutoLockFiresAtDeadline(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, participantID := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	payload, err := reg.StartTimer(ctx, code, hostID)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if payload.CountdownSeconds != 60 {
		t.Errorf("countdown = %d, want the default 60", payload.CountdownSeconds)
	}
	if !payload.TimerEndsAt.Equal(payload.TimerStartedAt.Add(60 * time.Second)) {
		t.Errorf("deadline %v is not 60s after start %v", payload.TimerEndsAt, payload.TimerStartedAt)
	}

	clock.Advance(61 * time.Second)
	waitUntil(t, func() bool {
		round := reg.currentRound(t, code)
		return round != nil && round.Locked
	}, "round never locked after the deadline passed")

	round := reg.currentRound(t, code)
	if round.Revealed {
		t.Error("auto-lock must not reveal votes")
	}
	if got := broadcast.byType(EventRoundLocked); len(got) != 1 {
		t.Errorf("round_locked events = %d, want 1", len(got))
	}
	if err := reg.CastVote(ctx, code, participantID, storyID, models.NumericValue(5)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("vote after lock = %v, want ErrInvalidState", err)
	}
}

func TestRevealBeforeDeadlineSupersedesAutoLock(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, participantID := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if err := reg.CastVote(ctx, code, participantID, storyID, models.NumericValue(8)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if _, err := reg.RevealVotes(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("RevealVotes: %v", err)
	}

	clock.Advance(61 * time.Second)
	settle()

	if got := broadcast.byType(EventRoundLocked); len(got) != 0 {
		t.Errorf("round_locked events = %d, want none after reveal", len(got))
	}
	round := reg.currentRound(t, code)
	if !round.Revealed || !round.Locked {
		t.Errorf("round = %+v, want revealed and locked via reveal", round)
	}
}

func TestStopTimerCancelsAutoLock(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if err := reg.StopTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	clock.Advance(61 * time.Second)
	settle()

	round := reg.currentRound(t, code)
	if !round.Voting() {
		t.Errorf("round = %+v, want still voting after timer stop", round)
	}
	if round.TimerRunning() || round.TimerStartedAt != nil {
		t.Errorf("timer fields = %v/%v, want cleared", round.TimerStartedAt, round.TimerEndsAt)
	}
	if got := broadcast.byType(EventRoundLocked); len(got) != 0 {
		t.Errorf("round_locked events = %d, want none", len(got))
	}
	if got := broadcast.byType(EventTimerStopped); len(got) != 1 {
		t.Errorf("timer_stopped events = %d, want 1", len(got))
	}
}

func TestNewRoundSupersedesPendingAutoLock(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	first, err := reg.StartRound(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	second, err := reg.StartRound(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("StartRound (second): %v", err)
	}
	if second.Generation <= first.Generation {
		t.Errorf("generations %d -> %d, want strictly increasing", first.Generation, second.Generation)
	}

	clock.Advance(61 * time.Second)
	settle()

	round := reg.currentRound(t, code)
	if round.Generation != second.Generation || !round.Voting() {
		t.Errorf("round = %+v, want the second round still voting", round)
	}
	if got := broadcast.byType(EventRoundLocked); len(got) != 0 {
		t.Errorf("round_locked events = %d, want none", len(got))
	}
}

func TestStaleTimerFireCannotLockLaterRound(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	stale, err := reg.StartRound(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound (second): %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	// Simulates a timer fire that lost the race with cancellation.
	reg.autoLock(code, stale.Generation)
	if round := reg.currentRound(t, code); !round.Voting() {
		t.Errorf("round = %+v, want unaffected by a stale fire", round)
	}

	clock.Advance(61 * time.Second)
	waitUntil(t, func() bool {
		return reg.currentRound(t, code).Locked
	}, "round never locked by the matching fire")
}

func TestStaleFireAfterTimerRestartIsDeferred(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	round, err := reg.StartRound(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	clock.Advance(30 * time.Second)
	restarted, err := reg.StartTimer(ctx, code, hostID)
	if err != nil {
		t.Fatalf("StartTimer (restart): %v", err)
	}

	// A fire from the superseded schedule that slipped past cancellation
	// carries the same round generation; only the persisted deadline tells
	// it apart from the live schedule.
	reg.autoLock(code, round.Generation)
	if got := reg.currentRound(t, code); !got.Voting() {
		t.Fatalf("round = %+v, want still voting until the replacement deadline", got)
	}
	if got := broadcast.byType(EventRoundLocked); len(got) != 0 {
		t.Errorf("round_locked events = %d, want none before the replacement deadline", len(got))
	}

	clock.Advance(61 * time.Second)
	waitUntil(t, func() bool {
		return reg.currentRound(t, code).Locked
	}, "round never locked after the replacement deadline passed")
	if got := reg.currentRound(t, code); !got.TimerEndsAt.Equal(restarted.TimerEndsAt) {
		t.Errorf("persisted deadline %v, want %v", got.TimerEndsAt, restarted.TimerEndsAt)
	}
}

func TestStartTimerAgainReplacesDeadline(t *testing.T) {
	reg, broadcast, clock := newTestRegistry(t)
	code, hostID, _ := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	clock.Advance(30 * time.Second)
	restarted, err := reg.StartTimer(ctx, code, hostID)
	if err != nil {
		t.Fatalf("StartTimer (restart): %v", err)
	}

	// Past the original deadline but not the replacement.
	clock.Advance(35 * time.Second)
	settle()
	if round := reg.currentRound(t, code); !round.Voting() {
		t.Errorf("round = %+v, want still voting before the new deadline", round)
	}

	clock.Advance(30 * time.Second)
	waitUntil(t, func() bool {
		return reg.currentRound(t, code).Locked
	}, "round never locked after the replacement deadline passed")

	if got := broadcast.byType(EventRoundLocked); len(got) != 1 {
		t.Errorf("round_locked events = %d, want exactly 1", len(got))
	}
	if round := reg.currentRound(t, code); !round.TimerEndsAt.Equal(restarted.TimerEndsAt) {
		t.Errorf("persisted deadline %v, want %v", round.TimerEndsAt, restarted.TimerEndsAt)
	}
}

func TestRevealIsLegalFromLockedRound(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	code, hostID, participantID := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := reg.CastVote(ctx, code, participantID, storyID, models.NumericValue(3)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if _, err := reg.StartTimer(ctx, code, hostID); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	clock.Advance(61 * time.Second)
	waitUntil(t, func() bool {
		return reg.currentRound(t, code).Locked
	}, "round never locked")

	revealed, err := reg.RevealVotes(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("RevealVotes after lock: %v", err)
	}
	if got := revealed.Votes[participantID]; !got.Numeric || got.Number != 3 {
		t.Errorf("revealed vote = %v, want 3", got)
	}

	if _, err := reg.RevealVotes(ctx, code, hostID, storyID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second reveal = %v, want ErrInvalidState", err)
	}
}

func TestStartRoundClearsPreviousVotes(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	code, hostID, participantID := newTestRoom(t, reg)
	storyID := addStory(t, reg, code, hostID, "Login flow")
	ctx := context.Background()

	if err := reg.SetCurrentStory(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("SetCurrentStory: %v", err)
	}
	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := reg.CastVote(ctx, code, participantID, storyID, models.NumericValue(13)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if _, err := reg.RevealVotes(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("RevealVotes: %v", err)
	}

	if _, err := reg.StartRound(ctx, code, hostID, storyID); err != nil {
		t.Fatalf("StartRound (re-estimate): %v", err)
	}

	snapshot, err := reg.Snapshot(ctx, code, hostID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.VotingStatus[participantID] {
		t.Error("previous round's vote survived the restart")
	}

	revealed, err := reg.RevealVotes(ctx, code, hostID, storyID)
	if err != nil {
		t.Fatalf("RevealVotes (empty round): %v", err)
	}
	if len(revealed.Votes) != 0 {
		t.Errorf("votes = %v, want none", revealed.Votes)
	}
	if revealed.Summary.Average != nil || revealed.Summary.Consensus {
		t.Errorf("summary = %+v, want empty arithmetic", revealed.Summary)
	}
}
