package game

import (
	"fmt"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// Magician swap wire encoding: target = firstSeat + secondSeat*100. The
// validator requires secondSeat >= 1 so any wire value >= 100 is
// unambiguously a swap.

func EncodeMagicianSwap(firstSeat, secondSeat int) int {
	return firstSeat + secondSeat*100
}

func DecodeMagicianSwap(wire int) (firstSeat, secondSeat int, err error) {
	if wire < 100 {
		return 0, 0, fmt.Errorf("magician swap wire %d below 100", wire)
	}
	firstSeat = wire % 100
	secondSeat = wire / 100
	return firstSeat, secondSeat, nil
}

// allowsSelfTarget: the guard may protect herself; every other target-schema
// role must pick someone else.
func allowsSelfTarget(roleID string) bool {
	return roleID == roles.Guard
}

// DecodeSubmittedAction validates a SUBMIT_ACTION wire payload against the
// current night step and decodes it into a finalized Action. Invalid input
// never returns a Go error: the caller gets a reject reason to bounce back to
// the submitter, and room state stays untouched.
func DecodeSubmittedAction(room *RoomState, step *models.NightStep, actor *models.Player, payload models.SubmitActionPayload) (models.Action, models.RejectReason, bool) {
	switch step.Schema {
	case models.SchemaTarget:
		return decodeTargetAction(room, step, actor, payload)
	case models.SchemaBlock:
		return decodeBlockAction(room, actor, payload)
	case models.SchemaWitch:
		return decodeWitchAction(room, actor, payload)
	case models.SchemaMagicianSwap:
		return decodeMagicianAction(room, actor, payload)
	default:
		// wolfVote travels on WOLF_VOTE, never SUBMIT_ACTION.
		return models.Action{}, models.RejectWrongRole, false
	}
}

func decodeTargetAction(room *RoomState, step *models.NightStep, actor *models.Player, payload models.SubmitActionPayload) (models.Action, models.RejectReason, bool) {
	if payload.Target == nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	seat := *payload.Target
	if seat == models.NoSeat {
		return models.Action{Kind: models.ActionNone}, "", true
	}
	target := room.PlayerAt(seat)
	if target == nil || !target.Alive {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	if seat == actor.Seat && !allowsSelfTarget(step.RoleID) {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	return models.Action{Kind: models.ActionTarget, Seat: seat}, "", true
}

func decodeBlockAction(room *RoomState, actor *models.Player, payload models.SubmitActionPayload) (models.Action, models.RejectReason, bool) {
	if payload.Target == nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	seat := *payload.Target
	if seat == models.NoSeat {
		return models.Action{Kind: models.ActionNone}, "", true
	}
	target := room.PlayerAt(seat)
	if target == nil || !target.Alive || seat == actor.Seat {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	return models.Action{Kind: models.ActionTarget, Seat: seat}, "", true
}

func decodeWitchAction(room *RoomState, actor *models.Player, payload models.SubmitActionPayload) (models.Action, models.RejectReason, bool) {
	wire := payload.Witch
	if wire == nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	if wire.Save && wire.Poison {
		return models.Action{}, models.RejectIllegalTarget, false
	}

	if wire.Save {
		victim := RawWolfTarget(room)
		if victim == models.NoSeat {
			return models.Action{}, models.RejectIllegalTarget, false
		}
		if victim == actor.Seat && !roles.Get(actor.Role).Flags.CanSaveSelf {
			return models.Action{}, models.RejectIllegalTarget, false
		}
		// A target seat on the wire, if present, must name the victim.
		if wire.TargetSeat != nil && *wire.TargetSeat != victim {
			return models.Action{}, models.RejectIllegalTarget, false
		}
		return models.Action{Kind: models.ActionWitch, Save: true, PoisonSeat: models.NoSeat}, "", true
	}

	if wire.Poison {
		if wire.TargetSeat == nil {
			return models.Action{}, models.RejectIllegalTarget, false
		}
		seat := *wire.TargetSeat
		target := room.PlayerAt(seat)
		if target == nil || !target.Alive || seat == actor.Seat {
			return models.Action{}, models.RejectIllegalTarget, false
		}
		return models.Action{Kind: models.ActionWitch, Poison: true, PoisonSeat: seat}, "", true
	}

	// Skip: neither potion, no target allowed.
	if wire.TargetSeat != nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	return models.Action{Kind: models.ActionWitch, PoisonSeat: models.NoSeat}, "", true
}

func decodeMagicianAction(room *RoomState, actor *models.Player, payload models.SubmitActionPayload) (models.Action, models.RejectReason, bool) {
	if payload.Target == nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	wire := *payload.Target
	if wire == models.NoSeat {
		return models.Action{Kind: models.ActionNone}, "", true
	}
	first, second, err := DecodeMagicianSwap(wire)
	if err != nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	if first == second {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	if room.PlayerAt(first) == nil || room.PlayerAt(second) == nil {
		return models.Action{}, models.RejectIllegalTarget, false
	}
	return models.Action{Kind: models.ActionMagicianSwap, FirstSeat: first, SecondSeat: second}, "", true
}

// WriteActionOnce enforces the once-guard: the first write per role id per
// night wins, later writers are dropped.
func WriteActionOnce(room *RoomState, roleID string, action models.Action) bool {
	if _, exists := room.Actions[roleID]; exists {
		return false
	}
	room.Actions[roleID] = action
	return true
}

// RawWolfTarget is the pre-resolution wolf-vote outcome: the finalized wolf
// action if present, otherwise the provisional majority of votes on hand.
// NoSeat means a peaceful night so far.
func RawWolfTarget(room *RoomState) int {
	if action, ok := room.Actions[WolfMeetingRoleID]; ok {
		if action.Kind == models.ActionTarget {
			return action.Seat
		}
		return models.NoSeat
	}
	return tallyWolfVotes(room.WolfVotes)
}
