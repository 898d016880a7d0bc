package game

import (
	"fmt"
	"sort"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// WolfMeetingRoleID keys the consolidated wolf-meeting step and its action.
const WolfMeetingRoleID = roles.Wolf

// BuildNightPlan compiles the ordered first-night step sequence for a
// template. The result depends only on the role multiset and which seats hold
// which role: stable across reshuffles that preserve the multiset and
// independent of player identity.
//
// Roles whose schema is wolfVote collapse into one wolf-meeting step whose
// actors are every seat participating in the wolf vote.
func BuildNightPlan(templateRoles []string, players []*models.Player) ([]models.NightStep, error) {
	for _, p := range players {
		if p == nil || p.Role == "" {
			return nil, fmt.Errorf("cannot compile night plan before every seat has a role")
		}
	}

	// Distinct acting roles, keeping first occurrence for the tie-break.
	// Unknown ids resolve to the sentinel, which never acts.
	firstSeen := make(map[string]int)
	var acting []string
	for i, roleID := range templateRoles {
		if _, ok := firstSeen[roleID]; ok {
			continue
		}
		firstSeen[roleID] = i
		if roles.Get(roleID).Night1.HasAction {
			acting = append(acting, roleID)
		}
	}

	sort.SliceStable(acting, func(i, j int) bool {
		a, b := roles.Get(acting[i]), roles.Get(acting[j])
		if a.Night1.Order != b.Night1.Order {
			return a.Night1.Order < b.Night1.Order
		}
		if firstSeen[acting[i]] != firstSeen[acting[j]] {
			return firstSeen[acting[i]] < firstSeen[acting[j]]
		}
		return acting[i] < acting[j]
	})

	seatsByRole := make(map[string][]int)
	var wolfMeetingSeats []int
	for _, p := range players {
		seatsByRole[p.Role] = append(seatsByRole[p.Role], p.Seat)
		if roles.Get(p.Role).WolfMeeting.ParticipatesInWolfVote {
			wolfMeetingSeats = append(wolfMeetingSeats, p.Seat)
		}
	}
	for _, seats := range seatsByRole {
		sort.Ints(seats)
	}
	sort.Ints(wolfMeetingSeats)

	var steps []models.NightStep
	wolfMeetingEmitted := false
	for _, roleID := range acting {
		spec := roles.Get(roleID)
		if spec.Night1.Schema == models.SchemaWolfVote {
			if wolfMeetingEmitted {
				continue
			}
			wolfMeetingEmitted = true
			steps = append(steps, models.NightStep{
				RoleID:     WolfMeetingRoleID,
				Schema:     models.SchemaWolfVote,
				ActorSeats: wolfMeetingSeats,
			})
			continue
		}
		steps = append(steps, models.NightStep{
			RoleID:     roleID,
			Schema:     spec.Night1.Schema,
			ActorSeats: seatsByRole[roleID],
		})
	}

	return steps, nil
}

// StepIndexOf returns the index of a role's step in the plan, or -1.
func StepIndexOf(plan []models.NightStep, roleID string) int {
	for i, step := range plan {
		if step.RoleID == roleID {
			return i
		}
	}
	return -1
}
