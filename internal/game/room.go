package game

import (
	"fmt"
	"math/rand"

	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// RoomState is the authoritative state of one room. It is owned exclusively
// by the room's coordinator goroutine; nothing outside the actor mutates it.
type RoomState struct {
	Code     string
	HostUID  string
	Status   models.RoomStatus
	Template *models.Template

	// Players is indexed by seat; nil entries are empty seats.
	Players []*models.Player

	// Night-scoped fields, cleared on reset.
	Plan              []models.NightStep
	Actions           map[string]models.Action
	WolfVotes         map[int]int // voter seat -> target seat (NoSeat = abstain)
	CurrentStepIndex  int
	BlockedSeat       int
	LastNightDeaths   []int
	LastProtectedSeat int
}

var (
	ErrSeatOutOfRange = fmt.Errorf("seat index out of range")
	ErrSeatTaken      = fmt.Errorf("seat is already taken")
	ErrWrongStatus    = fmt.Errorf("operation not allowed in current room status")
	ErrNotSeated      = fmt.Errorf("participant is not seated in this room")
)

func NewRoomState(code, hostUID string, template models.Template) *RoomState {
	template.PlayerCount = len(template.Roles)
	return &RoomState{
		Code:              code,
		HostUID:           hostUID,
		Status:            models.RoomStatusUnseated,
		Template:          &template,
		Players:           make([]*models.Player, template.PlayerCount),
		Actions:           make(map[string]models.Action),
		WolfVotes:         make(map[int]int),
		BlockedSeat:       models.NoSeat,
		LastProtectedSeat: models.NoSeat,
	}
}

// SeatOf returns the seated player for a uid, or nil.
func (r *RoomState) SeatOf(uid string) *models.Player {
	for _, p := range r.Players {
		if p != nil && p.UID == uid {
			return p
		}
	}
	return nil
}

// PlayerAt returns the player occupying a seat, or nil.
func (r *RoomState) PlayerAt(seat int) *models.Player {
	if seat < 0 || seat >= len(r.Players) {
		return nil
	}
	return r.Players[seat]
}

func (r *RoomState) seatedCount() int {
	n := 0
	for _, p := range r.Players {
		if p != nil {
			n++
		}
	}
	return n
}

// TakeSeat seats a participant. Re-taking one's own seat is an idempotent
// no-op; taking a different seat while already seated is a reseat. Seating is
// only possible before roles are assigned.
func (r *RoomState) TakeSeat(uid, displayName string, seat int) error {
	if r.Status != models.RoomStatusUnseated && r.Status != models.RoomStatusSeated {
		return ErrWrongStatus
	}
	if seat < 0 || seat >= len(r.Players) {
		return ErrSeatOutOfRange
	}
	if occupant := r.Players[seat]; occupant != nil {
		if occupant.UID == uid {
			occupant.DisplayName = displayName
			return nil
		}
		return ErrSeatTaken
	}
	// One seat per uid: vacate any previous seat first.
	if prev := r.SeatOf(uid); prev != nil {
		r.Players[prev.Seat] = nil
	}
	r.Players[seat] = &models.Player{
		UID:         uid,
		Seat:        seat,
		DisplayName: displayName,
		Alive:       true,
	}
	r.refreshSeatStatus()
	return nil
}

// LeaveSeat vacates a participant's seat. Leaving when not seated is a no-op.
func (r *RoomState) LeaveSeat(uid string) error {
	if r.Status != models.RoomStatusUnseated && r.Status != models.RoomStatusSeated {
		return ErrWrongStatus
	}
	if p := r.SeatOf(uid); p != nil {
		r.Players[p.Seat] = nil
	}
	r.refreshSeatStatus()
	return nil
}

func (r *RoomState) refreshSeatStatus() {
	if r.Status != models.RoomStatusUnseated && r.Status != models.RoomStatusSeated {
		return
	}
	if r.seatedCount() == r.Template.PlayerCount {
		r.Status = models.RoomStatusSeated
	} else {
		r.Status = models.RoomStatusUnseated
	}
}

// AssignRoles shuffles the template multiset onto the seated players. The
// post-assignment role multiset always equals the template's.
func (r *RoomState) AssignRoles(rng *rand.Rand) error {
	if r.Status != models.RoomStatusSeated {
		return ErrWrongStatus
	}
	pool := make([]string, len(r.Template.Roles))
	copy(pool, r.Template.Roles)
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	for seat, p := range r.Players {
		p.Role = pool[seat]
		p.HasViewedRole = false
	}
	r.Status = models.RoomStatusAssigned
	return nil
}

// ViewRole marks a participant's role as seen; the room becomes ready once
// every player has looked.
func (r *RoomState) ViewRole(uid string) error {
	if r.Status != models.RoomStatusAssigned && r.Status != models.RoomStatusReady {
		return ErrWrongStatus
	}
	p := r.SeatOf(uid)
	if p == nil {
		return ErrNotSeated
	}
	p.HasViewedRole = true
	r.refreshReadyStatus()
	return nil
}

func (r *RoomState) refreshReadyStatus() {
	for _, p := range r.Players {
		if p == nil || !p.HasViewedRole {
			return
		}
	}
	r.Status = models.RoomStatusReady
}

// ResetNight clears every night-scoped field. lastProtectedSeat survives: it
// belongs to the next night's guard rule. Applying twice equals applying once.
func (r *RoomState) ResetNight() {
	r.Plan = nil
	r.Actions = make(map[string]models.Action)
	r.WolfVotes = make(map[int]int)
	r.CurrentStepIndex = 0
	r.BlockedSeat = models.NoSeat
	r.LastNightDeaths = nil
	if r.Status == models.RoomStatusOngoing || r.Status == models.RoomStatusEnded {
		r.Status = models.RoomStatusReady
	}
}

// AliveSeatsIn filters a seat list down to live occupants.
func (r *RoomState) AliveSeatsIn(seats []int) []int {
	var alive []int
	for _, seat := range seats {
		if p := r.PlayerAt(seat); p != nil && p.Alive {
			alive = append(alive, seat)
		}
	}
	return alive
}

// CurrentStep returns the active night step, or nil when the plan is
// exhausted or absent.
func (r *RoomState) CurrentStep() *models.NightStep {
	if r.Plan == nil || r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.Plan) {
		return nil
	}
	return &r.Plan[r.CurrentStepIndex]
}

// MagicianSwapPair returns the submitted swap, if any.
func (r *RoomState) MagicianSwapPair() (first, second int, ok bool) {
	action, present := r.Actions[roles.Magician]
	if !present || action.Kind != models.ActionMagicianSwap {
		return 0, 0, false
	}
	return action.FirstSeat, action.SecondSeat, true
}

// EffectiveSeat maps a target seat through the magician swap for roles whose
// step runs after the magician's. The witch is exempt by role rule; her
// save and poison always bind to the literal seat.
func (r *RoomState) EffectiveSeat(roleID string, seat int) int {
	if roleID == roles.Witch {
		return seat
	}
	first, second, ok := r.MagicianSwapPair()
	if !ok {
		return seat
	}
	magicianIdx := StepIndexOf(r.Plan, roles.Magician)
	roleIdx := StepIndexOf(r.Plan, roleID)
	if magicianIdx < 0 || roleIdx <= magicianIdx {
		return seat
	}
	switch seat {
	case first:
		return second
	case second:
		return first
	default:
		return seat
	}
}

// PublicView projects the state everyone may see. No roles, ever.
func (r *RoomState) PublicView() models.RoomPublicView {
	view := models.RoomPublicView{
		RoomCode:         r.Code,
		Status:           r.Status,
		PlayerCount:      r.Template.PlayerCount,
		CurrentStepIndex: r.CurrentStepIndex,
		LastNightDeaths:  r.LastNightDeaths,
		Seats:            make([]models.SeatView, len(r.Players)),
	}
	view.TemplateName = r.Template.Name
	for i, p := range r.Players {
		if p == nil {
			view.Seats[i] = models.SeatView{Seat: i}
			continue
		}
		view.Seats[i] = models.SeatView{
			Seat:        i,
			DisplayName: p.DisplayName,
			Occupied:    true,
			Alive:       p.Alive,
		}
	}
	return view
}
