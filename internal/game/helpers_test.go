package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kazerdira/nighthost/internal/models"
)

// newTestRoom builds a room with one player per template role, seat i holding
// roleBySeat[i], everyone alive and ready to play.
func newTestRoom(t *testing.T, roleBySeat ...string) *RoomState {
	t.Helper()
	room := NewRoomState("0042", "host-uid", models.Template{
		Name:  "test",
		Roles: roleBySeat,
	})
	for seat, roleID := range roleBySeat {
		room.Players[seat] = &models.Player{
			UID:           fmt.Sprintf("uid-%d", seat),
			Seat:          seat,
			DisplayName:   fmt.Sprintf("player-%d", seat),
			Role:          roleID,
			HasViewedRole: true,
			Alive:         true,
		}
	}
	room.Status = models.RoomStatusReady
	return room
}

// startNight compiles the plan and moves the room into the night.
func startNight(t *testing.T, room *RoomState) {
	t.Helper()
	plan, err := BuildNightPlan(room.Template.Roles, room.Players)
	require.NoError(t, err)
	room.Plan = plan
	room.CurrentStepIndex = 0
	room.Status = models.RoomStatusOngoing
}

// advanceToStep moves CurrentStepIndex onto the step for roleID.
func advanceToStep(t *testing.T, room *RoomState, roleID string) *models.NightStep {
	t.Helper()
	idx := StepIndexOf(room.Plan, roleID)
	require.GreaterOrEqual(t, idx, 0, "plan has no step for role %s", roleID)
	room.CurrentStepIndex = idx
	return &room.Plan[idx]
}

func intPtr(v int) *int { return &v }
