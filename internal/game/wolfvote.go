package game

import (
	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// Wolf meeting: votes collect per seat while the wolf step waits. Wolves may
// change their vote until the finalizer runs. The finalizer fires when every
// live participant has voted or the deadline elapses, and is itself guarded
// by the once-guard on the wolf action.

// RecordWolfVote validates and stores one wolf's vote. A nil target is an
// abstention.
func RecordWolfVote(room *RoomState, voter *models.Player, target *int) (models.RejectReason, bool) {
	step := room.CurrentStep()
	if step == nil || step.Schema != models.SchemaWolfVote {
		return models.RejectWrongPhase, false
	}
	if !containsSeat(step.ActorSeats, voter.Seat) {
		return models.RejectWrongRole, false
	}
	if !voter.Alive {
		return models.RejectWrongRole, false
	}

	if target == nil {
		room.WolfVotes[voter.Seat] = models.NoSeat
		return "", true
	}

	seat := *target
	if seat == models.NoSeat {
		room.WolfVotes[voter.Seat] = models.NoSeat
		return "", true
	}
	victim := room.PlayerAt(seat)
	if victim == nil || !victim.Alive {
		return models.RejectIllegalTarget, false
	}
	if roles.Get(victim.Role).Flags.ImmuneToWolfKill {
		return models.RejectIllegalTarget, false
	}
	room.WolfVotes[voter.Seat] = seat
	return "", true
}

// WolfQuorumReached reports whether every live wolf-meeting participant has a
// vote on record.
func WolfQuorumReached(room *RoomState) bool {
	step := room.CurrentStep()
	if step == nil || step.Schema != models.SchemaWolfVote {
		return false
	}
	live := room.AliveSeatsIn(step.ActorSeats)
	if len(live) == 0 {
		return true
	}
	for _, seat := range live {
		if _, voted := room.WolfVotes[seat]; !voted {
			return false
		}
	}
	return true
}

// FinalizeWolfVotes computes the wolf action from the votes on hand and
// writes it under the once-guard. Returns the finalized action and whether
// this call performed the write.
func FinalizeWolfVotes(room *RoomState) (models.Action, bool) {
	if existing, ok := room.Actions[WolfMeetingRoleID]; ok {
		return existing, false
	}
	action := models.Action{Kind: models.ActionTarget, Seat: tallyWolfVotes(room.WolfVotes)}
	room.Actions[WolfMeetingRoleID] = action
	return action, true
}

// tallyWolfVotes picks the majority target. Ties break to the lowest seat
// index; an abstention majority or an empty ballot yields NoSeat, the
// peaceful night. On a tie between a seat and the abstain bucket the seat
// wins.
func tallyWolfVotes(votes map[int]int) int {
	if len(votes) == 0 {
		return models.NoSeat
	}
	counts := make(map[int]int)
	for _, target := range votes {
		counts[target]++
	}

	winner := models.NoSeat
	winnerCount := counts[models.NoSeat]
	for target, count := range counts {
		if target == models.NoSeat {
			continue
		}
		if count > winnerCount || (count == winnerCount && (winner == models.NoSeat || target < winner)) {
			winner = target
			winnerCount = count
		}
	}
	return winner
}

func containsSeat(seats []int, seat int) bool {
	for _, s := range seats {
		if s == seat {
			return true
		}
	}
	return false
}
