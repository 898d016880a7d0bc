package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

func TestMagicianSwapWireRoundTrip(t *testing.T) {
	for first := 0; first < 12; first++ {
		for second := 1; second < 12; second++ {
			wire := EncodeMagicianSwap(first, second)
			assert.GreaterOrEqual(t, wire, 100)
			gotFirst, gotSecond, err := DecodeMagicianSwap(wire)
			require.NoError(t, err)
			assert.Equal(t, first, gotFirst)
			assert.Equal(t, second, gotSecond)
		}
	}
}

func TestDecodeMagicianSwapRejectsPlainSeat(t *testing.T) {
	_, _, err := DecodeMagicianSwap(7)
	assert.Error(t, err)
}

func TestDecodeTargetAction(t *testing.T) {
	room := newTestRoom(t, roles.Seer, roles.Wolf, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Seer)
	seer := room.PlayerAt(0)

	action, _, ok := DecodeSubmittedAction(room, step, seer, models.SubmitActionPayload{
		RoleID: roles.Seer, Target: intPtr(1),
	})
	require.True(t, ok)
	assert.Equal(t, models.ActionTarget, action.Kind)
	assert.Equal(t, 1, action.Seat)

	// Explicit skip.
	action, _, ok = DecodeSubmittedAction(room, step, seer, models.SubmitActionPayload{
		RoleID: roles.Seer, Target: intPtr(models.NoSeat),
	})
	require.True(t, ok)
	assert.Equal(t, models.ActionNone, action.Kind)

	// Self-check is not a thing.
	_, reason, ok := DecodeSubmittedAction(room, step, seer, models.SubmitActionPayload{
		RoleID: roles.Seer, Target: intPtr(0),
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)

	// Dead targets are refused.
	room.PlayerAt(2).Alive = false
	_, reason, ok = DecodeSubmittedAction(room, step, seer, models.SubmitActionPayload{
		RoleID: roles.Seer, Target: intPtr(2),
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)
}

func TestGuardMayProtectHerself(t *testing.T) {
	room := newTestRoom(t, roles.Guard, roles.Wolf, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Guard)

	action, _, ok := DecodeSubmittedAction(room, step, room.PlayerAt(0), models.SubmitActionPayload{
		RoleID: roles.Guard, Target: intPtr(0),
	})
	require.True(t, ok)
	assert.Equal(t, 0, action.Seat)
}

func TestDecodeWitchAction(t *testing.T) {
	room := newTestRoom(t, roles.Witch, roles.Wolf, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Witch)
	witch := room.PlayerAt(0)

	// Wolves killed seat 2.
	room.Actions[WolfMeetingRoleID] = models.Action{Kind: models.ActionTarget, Seat: 2}

	action, _, ok := DecodeSubmittedAction(room, step, witch, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Save: true},
	})
	require.True(t, ok)
	assert.True(t, action.Save)

	// Save and poison on the same night is illegal.
	_, reason, ok := DecodeSubmittedAction(room, step, witch, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Save: true, Poison: true, TargetSeat: intPtr(1)},
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)

	// Poison binds to an explicit live target.
	action, _, ok = DecodeSubmittedAction(room, step, witch, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Poison: true, TargetSeat: intPtr(1)},
	})
	require.True(t, ok)
	assert.True(t, action.Poison)
	assert.Equal(t, 1, action.PoisonSeat)

	// Skip: no potions, no target.
	action, _, ok = DecodeSubmittedAction(room, step, witch, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{},
	})
	require.True(t, ok)
	assert.Equal(t, models.ActionWitch, action.Kind)
	assert.False(t, action.Save)
	assert.False(t, action.Poison)
}

func TestWitchCannotSaveHerself(t *testing.T) {
	room := newTestRoom(t, roles.Witch, roles.Wolf, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Witch)
	witch := room.PlayerAt(0)

	// Wolves killed the witch.
	room.Actions[WolfMeetingRoleID] = models.Action{Kind: models.ActionTarget, Seat: 0}

	_, reason, ok := DecodeSubmittedAction(room, step, witch, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Save: true},
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)
}

func TestWitchSaveRequiresVictim(t *testing.T) {
	room := newTestRoom(t, roles.Witch, roles.Wolf, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Witch)

	// Peaceful night so far: nothing to save.
	room.Actions[WolfMeetingRoleID] = models.Action{Kind: models.ActionTarget, Seat: models.NoSeat}

	_, reason, ok := DecodeSubmittedAction(room, step, room.PlayerAt(0), models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Save: true},
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)
}

func TestDecodeMagicianAction(t *testing.T) {
	room := newTestRoom(t, roles.Magician, roles.Wolf, roles.Seer, roles.Villager)
	startNight(t, room)
	step := advanceToStep(t, room, roles.Magician)
	magician := room.PlayerAt(0)

	action, _, ok := DecodeSubmittedAction(room, step, magician, models.SubmitActionPayload{
		RoleID: roles.Magician, Target: intPtr(EncodeMagicianSwap(1, 2)),
	})
	require.True(t, ok)
	assert.Equal(t, models.ActionMagicianSwap, action.Kind)
	assert.Equal(t, 1, action.FirstSeat)
	assert.Equal(t, 2, action.SecondSeat)

	// Swapping a seat with itself is refused.
	_, reason, ok := DecodeSubmittedAction(room, step, magician, models.SubmitActionPayload{
		RoleID: roles.Magician, Target: intPtr(EncodeMagicianSwap(2, 2)),
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)

	// Empty seats cannot be swapped.
	_, reason, ok = DecodeSubmittedAction(room, step, magician, models.SubmitActionPayload{
		RoleID: roles.Magician, Target: intPtr(EncodeMagicianSwap(1, 9)),
	})
	assert.False(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, reason)
}

func TestWriteActionOnce(t *testing.T) {
	room := newTestRoom(t, roles.Seer, roles.Wolf)

	assert.True(t, WriteActionOnce(room, roles.Seer, models.Action{Kind: models.ActionTarget, Seat: 1}))
	assert.False(t, WriteActionOnce(room, roles.Seer, models.Action{Kind: models.ActionTarget, Seat: 0}))
	assert.Equal(t, 1, room.Actions[roles.Seer].Seat, "first write wins")
}

func TestRawWolfTarget(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Wolf, roles.Villager, roles.Villager)
	startNight(t, room)
	advanceToStep(t, room, WolfMeetingRoleID)

	assert.Equal(t, models.NoSeat, RawWolfTarget(room))

	room.WolfVotes[0] = 2
	room.WolfVotes[1] = 2
	assert.Equal(t, 2, RawWolfTarget(room), "provisional tally before finalization")

	room.Actions[WolfMeetingRoleID] = models.Action{Kind: models.ActionTarget, Seat: 3}
	assert.Equal(t, 3, RawWolfTarget(room), "finalized action wins")
}
