package models

import "time"

// NoSeat marks "no target": an abstained wolf vote, a peaceful night kill,
// an unset protected seat.
const NoSeat = -1

// ============================================================================
// ROOM MODELS
// ============================================================================

type RoomStatus string

const (
	RoomStatusUnseated RoomStatus = "unseated"
	RoomStatusSeated   RoomStatus = "seated"
	RoomStatusAssigned RoomStatus = "assigned"
	RoomStatusReady    RoomStatus = "ready"
	RoomStatusOngoing  RoomStatus = "ongoing"
	RoomStatusEnded    RoomStatus = "ended"
)

// Template is a fixed multiset of role ids describing a game mode.
// PlayerCount always equals len(Roles).
type Template struct {
	Name        string   `json:"name"`
	Roles       []string `json:"roles"`
	PlayerCount int      `json:"player_count"`
}

type Player struct {
	UID           string `json:"uid"`
	Seat          int    `json:"seat"`
	DisplayName   string `json:"display_name"`
	Role          string `json:"role,omitempty"`
	HasViewedRole bool   `json:"has_viewed_role"`
	Alive         bool   `json:"alive"`
}

// ============================================================================
// NIGHT PLAN
// ============================================================================

type SchemaID string

const (
	SchemaTarget       SchemaID = "target"
	SchemaWitch        SchemaID = "witch"
	SchemaMagicianSwap SchemaID = "magicianSwap"
	SchemaWolfVote     SchemaID = "wolfVote"
	SchemaBlock        SchemaID = "block"
)

type NightStep struct {
	RoleID     string   `json:"role_id"`
	Schema     SchemaID `json:"schema"`
	ActorSeats []int    `json:"actor_seats"`
}

// ============================================================================
// ACTIONS
// ============================================================================

type ActionKind string

const (
	ActionTarget       ActionKind = "target"
	ActionWitch        ActionKind = "witch"
	ActionMagicianSwap ActionKind = "magicianSwap"
	ActionNone         ActionKind = "none"
)

// Action is the finalized, decoded night action for one role. Exactly one is
// written per role id per night (the once-guard).
type Action struct {
	Kind ActionKind `json:"kind"`

	// Kind=target: the chosen seat, NoSeat for an explicit skip/peaceful
	// outcome.
	Seat int `json:"seat,omitempty"`

	// Kind=witch
	Save       bool `json:"save,omitempty"`
	Poison     bool `json:"poison,omitempty"`
	PoisonSeat int  `json:"poison_seat,omitempty"`

	// Kind=magicianSwap
	FirstSeat  int `json:"first_seat,omitempty"`
	SecondSeat int `json:"second_seat,omitempty"`
}

// ============================================================================
// WIRE MESSAGES
// ============================================================================

type MessageType string

const (
	// Public, broadcast to the room.
	MsgStateUpdate MessageType = "STATE_UPDATE"
	MsgRoleTurn    MessageType = "ROLE_TURN"
	MsgNightEnd    MessageType = "NIGHT_END"
	MsgRoomFault   MessageType = "ROOM_FAULT"
	MsgRoomClosed  MessageType = "ROOM_CLOSED"

	// Private, single recipient.
	MsgSeerReveal     MessageType = "SEER_REVEAL"
	MsgPsychicReveal  MessageType = "PSYCHIC_REVEAL"
	MsgGargoyleReveal MessageType = "GARGOYLE_REVEAL"
	MsgWitchContext   MessageType = "WITCH_CONTEXT"
	MsgActionRejected MessageType = "ACTION_REJECTED"
	MsgRoleAssignment MessageType = "ROLE_ASSIGNMENT"
	MsgWelcomeBack    MessageType = "WELCOME_BACK"

	// Audio cues, host collaborator only. The collaborator answers each cue
	// with the matching *_DONE event.
	MsgNightBeginAudio MessageType = "NIGHT_BEGIN_AUDIO"
	MsgRoleBeginAudio  MessageType = "ROLE_BEGIN_AUDIO"
	MsgRoleEndAudio    MessageType = "ROLE_END_AUDIO"
	MsgNightEndAudio   MessageType = "NIGHT_END_AUDIO"

	// Inbound, participant to host.
	MsgTakeSeat     MessageType = "TAKE_SEAT"
	MsgLeaveSeat    MessageType = "LEAVE_SEAT"
	MsgViewRole     MessageType = "VIEW_ROLE"
	MsgSubmitAction MessageType = "SUBMIT_ACTION"
	MsgWolfVote     MessageType = "WOLF_VOTE"
	MsgHello        MessageType = "HELLO"

	// Inbound, host only.
	MsgAssignRoles         MessageType = "ASSIGN_ROLES"
	MsgStartGame           MessageType = "START_GAME"
	MsgNightBeginAudioDone MessageType = "NIGHT_BEGIN_AUDIO_DONE"
	MsgRoleBeginAudioDone  MessageType = "ROLE_BEGIN_AUDIO_DONE"
	MsgRoleEndAudioDone    MessageType = "ROLE_END_AUDIO_DONE"
	MsgNightEndAudioDone   MessageType = "NIGHT_END_AUDIO_DONE"
	MsgReset               MessageType = "RESET"
	MsgEndRoom             MessageType = "END_ROOM"
)

type Envelope struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ============================================================================
// OUTBOUND PAYLOADS
// ============================================================================

// SeatView is one seat as everyone may see it. Roles never appear here.
type SeatView struct {
	Seat        int    `json:"seat"`
	DisplayName string `json:"display_name,omitempty"`
	Occupied    bool   `json:"occupied"`
	Alive       bool   `json:"alive"`
}

type RoomPublicView struct {
	RoomCode         string     `json:"room_code"`
	Status           RoomStatus `json:"status"`
	TemplateName     string     `json:"template_name,omitempty"`
	PlayerCount      int        `json:"player_count"`
	Seats            []SeatView `json:"seats"`
	CurrentStepIndex int        `json:"current_step_index"`
	LastNightDeaths  []int      `json:"last_night_deaths,omitempty"`
}

type StateUpdatePayload struct {
	State RoomPublicView `json:"state"`
}

type RoleTurnPayload struct {
	RoleID    string `json:"role_id"`
	StepIndex int    `json:"step_index"`
}

type NightEndPayload struct {
	LastNightDeaths []int `json:"last_night_deaths"`
}

type SeerRevealPayload struct {
	TargetSeat int    `json:"target_seat"`
	Result     string `json:"result"` // '狼人' or '好人'
}

type RoleRevealPayload struct {
	TargetSeat  int    `json:"target_seat"`
	DisplayName string `json:"display_name"`
}

type WitchContextPayload struct {
	KilledIndex int  `json:"killed_index"` // NoSeat when the night is peaceful so far
	CanSave     bool `json:"can_save"`
}

type RejectReason string

const (
	RejectWrongRole     RejectReason = "wrongRole"
	RejectWrongPhase    RejectReason = "wrongPhase"
	RejectIllegalTarget RejectReason = "illegalTarget"
	RejectDuplicate     RejectReason = "duplicate"
)

type ActionRejectedPayload struct {
	Reason RejectReason `json:"reason"`
}

type RoleAssignmentPayload struct {
	RoleID string `json:"role_id"`
}

type WelcomeBackPayload struct {
	State          RoomPublicView `json:"state"`
	Seat           int            `json:"seat"`
	RoleID         string         `json:"role_id,omitempty"`
	MissedMessages []Envelope     `json:"missed_messages,omitempty"`
}

type RoomFaultPayload struct {
	RoomCode string `json:"room_code"`
	Reason   string `json:"reason"`
}

type RoomClosedPayload struct {
	RoomCode string `json:"room_code"`
	Reason   string `json:"reason"`
}

type AudioCuePayload struct {
	RoleID    string `json:"role_id,omitempty"`
	StepIndex int    `json:"step_index"`
}

// ============================================================================
// INBOUND PAYLOADS
// ============================================================================

type TakeSeatPayload struct {
	Seat        int    `json:"seat"`
	DisplayName string `json:"display_name"`
}

// SubmitActionPayload carries a role-specific wire value. Target-schema
// roles use Target; the magician encodes both seats into Target as
// firstSeat + secondSeat*100; the witch uses the Witch object.
type SubmitActionPayload struct {
	RoleID string     `json:"role_id"`
	Target *int       `json:"target,omitempty"`
	Witch  *WitchWire `json:"witch,omitempty"`
}

type WitchWire struct {
	Save       bool `json:"save"`
	Poison     bool `json:"poison"`
	TargetSeat *int `json:"target_seat,omitempty"`
}

// WolfVotePayload: a nil target is an abstention (空刀).
type WolfVotePayload struct {
	TargetSeat *int `json:"target_seat"`
}

type HelloPayload struct {
	UID      string `json:"uid"`
	RoomCode string `json:"room_code"`
}

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot is the durable representation written to the store on every state
// transition and read back on rejoin recovery. Readers must tolerate unknown
// fields.
type Snapshot struct {
	RoomCode          string            `json:"room_code"`
	HostUID           string            `json:"host_uid"`
	Status            RoomStatus        `json:"status"`
	Template          *Template         `json:"template,omitempty"`
	Players           []*Player         `json:"players"`
	Actions           map[string]Action `json:"actions,omitempty"`
	CurrentStepIndex  int               `json:"current_step_index"`
	LastNightDeaths   []int             `json:"last_night_deaths,omitempty"`
	LastProtectedSeat int               `json:"last_protected_seat"`
	SavedAt           time.Time         `json:"saved_at"`
}

// ============================================================================
// REQUEST/RESPONSE MODELS
// ============================================================================

type GuestLoginRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=30"`
}

type GuestLoginResponse struct {
	Token       string `json:"token"`
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
}

type CreateRoomRequest struct {
	Template Template `json:"template" binding:"required"`
	Password string   `json:"password"`
}

type CreateRoomResponse struct {
	RoomCode string `json:"room_code"`
}
