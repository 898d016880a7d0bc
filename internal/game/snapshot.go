package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// BuildSnapshot projects the durable representation of a room. Snapshots are
// produced on every state transition; writes are best effort and never block
// the room's executor.
func BuildSnapshot(room *RoomState) models.Snapshot {
	players := make([]*models.Player, len(room.Players))
	for i, p := range room.Players {
		if p == nil {
			continue
		}
		clone := *p
		players[i] = &clone
	}
	return models.Snapshot{
		RoomCode:          room.Code,
		HostUID:           room.HostUID,
		Status:            room.Status,
		Template:          room.Template,
		Players:           players,
		Actions:           cloneActions(room.Actions),
		CurrentStepIndex:  room.CurrentStepIndex,
		LastNightDeaths:   room.LastNightDeaths,
		LastProtectedSeat: room.LastProtectedSeat,
		SavedAt:           time.Now(),
	}
}

func cloneActions(actions map[string]models.Action) map[string]models.Action {
	if len(actions) == 0 {
		return nil
	}
	out := make(map[string]models.Action, len(actions))
	for k, v := range actions {
		out[k] = v
	}
	return out
}

// MarshalSnapshot encodes a snapshot for the store.
func MarshalSnapshot(snap models.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// RestoreRoomState rehydrates a RoomState from snapshot bytes. In-flight
// night actions survive; wolf votes that never finalized are gone, so the
// wolf step replays (the once-guard keeps the finalizer from double writing).
// Unknown fields in the stored form are ignored for forward compatibility.
func RestoreRoomState(data []byte) (*RoomState, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.RoomCode == "" || snap.Template == nil {
		return nil, fmt.Errorf("snapshot missing room code or template")
	}

	room := NewRoomState(snap.RoomCode, snap.HostUID, *snap.Template)
	room.Status = snap.Status
	room.CurrentStepIndex = snap.CurrentStepIndex
	room.LastNightDeaths = snap.LastNightDeaths
	room.LastProtectedSeat = snap.LastProtectedSeat
	if snap.Actions != nil {
		room.Actions = snap.Actions
	}
	for _, p := range snap.Players {
		if p == nil {
			continue
		}
		if p.Seat < 0 || p.Seat >= len(room.Players) {
			return nil, fmt.Errorf("snapshot seat %d out of range", p.Seat)
		}
		clone := *p
		room.Players[p.Seat] = &clone
	}

	if room.Status == models.RoomStatusOngoing {
		plan, err := BuildNightPlan(room.Template.Roles, room.Players)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild night plan: %w", err)
		}
		room.Plan = plan
		if room.CurrentStepIndex > len(plan) {
			room.CurrentStepIndex = len(plan)
		}
		// BlockedSeat is derived, not stored. Rebuild it from the nightmare's
		// recorded action the same way submission does, swap included, so a
		// blocked role stays blocked across a restart.
		if act, ok := room.Actions[roles.Nightmare]; ok &&
			act.Kind == models.ActionTarget && act.Seat != models.NoSeat {
			room.BlockedSeat = room.EffectiveSeat(roles.Nightmare, act.Seat)
		}
	}

	return room, nil
}
