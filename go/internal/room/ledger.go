package room

import (
	"math"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// consensusThreshold is the share of numeric votes the mode must reach for
// the round to count as consensus.
const consensusThreshold = 0.8

// Ledger stores hidden votes for a room's stories and computes the reveal
// summary. It is a view over the room aggregate's vote set and performs no
// eligibility checks of its own; the round state machine decides whether a
// vote may be recorded at all.
type Ledger struct {
	votes models.VoteSet
	clock clockwork.Clock
}

// NewLedger wraps a room's vote set.
func NewLedger(votes models.VoteSet, clock clockwork.Clock) Ledger {
	return Ledger{votes: votes, clock: clock}
}

// Record inserts or overwrites the vote for userID on storyID.
func (l Ledger) Record(storyID, userID string, value models.VoteValue) {
	storyVotes, ok := l.votes[storyID]
	if !ok {
		storyVotes = make(map[string]models.Vote)
		l.votes[storyID] = storyVotes
	}
	storyVotes[userID] = models.Vote{Value: value, Timestamp: l.clock.Now()}
}

// VotingStatus returns, for each given user id, whether that user has voted
// for storyID. This boolean projection is the only view of the vote set that
// leaves the server before reveal.
func (l Ledger) VotingStatus(storyID string, userIDs []string) map[string]bool {
	status := make(map[string]bool, len(userIDs))
	storyVotes := l.votes[storyID]
	for _, id := range userIDs {
		_, voted := storyVotes[id]
		status[id] = voted
	}
	return status
}

// Reveal returns the full vote mapping for storyID together with the computed
// summary over its numeric votes.
func (l Ledger) Reveal(storyID string) (map[string]models.VoteValue, models.VoteSummary) {
	revealed := make(map[string]models.VoteValue)
	var numeric []float64
	for userID, vote := range l.votes[storyID] {
		revealed[userID] = vote.Value
		if vote.Value.Numeric {
			numeric = append(numeric, vote.Value.Number)
		}
	}
	return revealed, summarize(numeric)
}

// Clear discards all votes for storyID. Called whenever a new round starts
// for that story.
func (l Ledger) Clear(storyID string) {
	l.votes[storyID] = make(map[string]models.Vote)
}

// summarize computes min/max/average/mode/consensus over numeric votes.
// Non-numeric votes are excluded entirely; with no numeric votes every field
// is nil and consensus is false. Mode ties break to the first-encountered
// value in ascending numeric order, which keeps the result deterministic.
func summarize(values []float64) models.VoteSummary {
	if len(values) == 0 {
		return models.VoteSummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	min := sorted[0]
	max := sorted[len(sorted)-1]

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg := math.Round(sum/float64(len(sorted))*10) / 10

	freq := make(map[float64]int)
	var mode float64
	maxFreq := 0
	for _, v := range sorted {
		freq[v]++
		if freq[v] > maxFreq {
			maxFreq = freq[v]
			mode = v
		}
	}

	return models.VoteSummary{
		Min:       &min,
		Max:       &max,
		Average:   &avg,
		Mode:      &mode,
		Consensus: float64(maxFreq) >= consensusThreshold*float64(len(sorted)),
	}
}
