package game

import (
	"sort"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// NightResult is the outcome of resolving one night's actions.
type NightResult struct {
	Deaths        []int
	WolfTarget    int // effective victim of the wolf vote, NoSeat if peaceful
	WolfKilled    bool
	PoisonedSeat  int
	GuardedSeat   int
	SavedByWitch  bool
	GuardBlocked  bool // guard protection cancelled the kill
	ImmuneBlocked bool // target's role shrugged off the wolf kill
}

// ResolveNightDeaths runs the death pipeline over the night's finalized
// actions and marks the victims dead. Order matters:
//
//  1. wolf vote outcome (remapped through the magician swap)
//  2. guard protection, binding lastProtectedSeat for the next night
//  3. wolf-kill immunity
//  4. witch save
//  5. witch poison, which ignores the guard
//  6. poison immunity
//
// The witch's seats are exempt from the magician remap by role rule; the
// wolf and guard targets are not.
func ResolveNightDeaths(room *RoomState) NightResult {
	result := NightResult{
		WolfTarget:   models.NoSeat,
		PoisonedSeat: models.NoSeat,
		GuardedSeat:  models.NoSeat,
	}

	if wolfAction, ok := room.Actions[WolfMeetingRoleID]; ok && wolfAction.Kind == models.ActionTarget && wolfAction.Seat != models.NoSeat {
		result.WolfTarget = room.EffectiveSeat(WolfMeetingRoleID, wolfAction.Seat)
		result.WolfKilled = true
	}

	if guardAction, ok := room.Actions[roles.Guard]; ok && guardAction.Kind == models.ActionTarget {
		result.GuardedSeat = room.EffectiveSeat(roles.Guard, guardAction.Seat)
		room.LastProtectedSeat = result.GuardedSeat
		if result.WolfKilled && result.GuardedSeat == result.WolfTarget {
			result.WolfKilled = false
			result.GuardBlocked = true
		}
	}

	if result.WolfKilled {
		if victim := room.PlayerAt(result.WolfTarget); victim != nil && roles.Get(victim.Role).Flags.ImmuneToWolfKill {
			result.WolfKilled = false
			result.ImmuneBlocked = true
		}
	}

	witchAction, witchActed := room.Actions[roles.Witch]
	if witchActed && witchAction.Kind == models.ActionWitch {
		if witchAction.Save && result.WolfKilled {
			result.WolfKilled = false
			result.SavedByWitch = true
		}
		if witchAction.Poison && witchAction.PoisonSeat != models.NoSeat {
			target := room.PlayerAt(witchAction.PoisonSeat)
			if target != nil && !roles.Get(target.Role).Flags.ImmuneToPoison {
				result.PoisonedSeat = witchAction.PoisonSeat
			}
		}
	}

	deaths := make(map[int]bool)
	if result.WolfKilled {
		deaths[result.WolfTarget] = true
	}
	if result.PoisonedSeat != models.NoSeat {
		deaths[result.PoisonedSeat] = true
	}

	for seat := range deaths {
		if p := room.PlayerAt(seat); p != nil {
			p.Alive = false
			result.Deaths = append(result.Deaths, seat)
		}
	}
	sort.Ints(result.Deaths)

	room.LastNightDeaths = result.Deaths
	if room.LastNightDeaths == nil {
		room.LastNightDeaths = []int{}
	}
	return result
}
