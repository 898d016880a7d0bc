// Package roles is the static role catalog: declarative metadata for every
// role id a template may reference, plus the derived queries the engine asks.
package roles

import (
	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/models"
)

type Faction string

const (
	FactionWolf     Faction = "wolf"
	FactionVillager Faction = "villager"
	FactionGod      Faction = "god"
	FactionSpecial  Faction = "special"
)

type Team string

const (
	TeamWolf  Team = "wolf"
	TeamGood  Team = "good"
	TeamThird Team = "third"
)

// Seer check results are the strings shown to the player.
const (
	CheckResultWolf = "狼人"
	CheckResultGood = "好人"
)

type NightOne struct {
	HasAction bool
	Order     int
	Schema    models.SchemaID
}

type WolfMeeting struct {
	ParticipatesInWolfVote bool
	CanSeeWolves           bool
}

type Flags struct {
	ImmuneToWolfKill bool
	ImmuneToPoison   bool
	// CanSaveSelf applies to the witch: whether her antidote may be spent
	// on herself.
	CanSaveSelf bool
}

type Spec struct {
	ID          string
	DisplayName string
	Faction     Faction
	Team        Team
	Night1      NightOne
	WolfMeeting WolfMeeting
	Flags       Flags
}

// Well-known role ids.
const (
	Wolf      = "wolf"
	WolfKing  = "wolfKing"
	Nightmare = "nightmare"
	Villager  = "villager"
	Seer      = "seer"
	Witch     = "witch"
	Guard     = "guard"
	Hunter    = "hunter"
	Psychic   = "psychic"
	Gargoyle  = "gargoyle"
	Magician  = "magician"
	Elder     = "elder"
)

var catalog = map[string]Spec{
	Magician: {
		ID: Magician, DisplayName: "魔术师",
		Faction: FactionGod, Team: TeamGood,
		Night1: NightOne{HasAction: true, Order: 10, Schema: models.SchemaMagicianSwap},
	},
	Nightmare: {
		ID: Nightmare, DisplayName: "梦魇",
		Faction: FactionWolf, Team: TeamWolf,
		Night1:      NightOne{HasAction: true, Order: 20, Schema: models.SchemaBlock},
		WolfMeeting: WolfMeeting{ParticipatesInWolfVote: true, CanSeeWolves: true},
	},
	Guard: {
		ID: Guard, DisplayName: "守卫",
		Faction: FactionGod, Team: TeamGood,
		Night1: NightOne{HasAction: true, Order: 30, Schema: models.SchemaTarget},
	},
	Wolf: {
		ID: Wolf, DisplayName: "狼人",
		Faction: FactionWolf, Team: TeamWolf,
		Night1:      NightOne{HasAction: true, Order: 40, Schema: models.SchemaWolfVote},
		WolfMeeting: WolfMeeting{ParticipatesInWolfVote: true, CanSeeWolves: true},
	},
	WolfKing: {
		ID: WolfKing, DisplayName: "狼王",
		Faction: FactionWolf, Team: TeamWolf,
		Night1:      NightOne{HasAction: true, Order: 40, Schema: models.SchemaWolfVote},
		WolfMeeting: WolfMeeting{ParticipatesInWolfVote: true, CanSeeWolves: true},
	},
	Witch: {
		ID: Witch, DisplayName: "女巫",
		Faction: FactionGod, Team: TeamGood,
		Night1: NightOne{HasAction: true, Order: 50, Schema: models.SchemaWitch},
		Flags:  Flags{CanSaveSelf: false},
	},
	Seer: {
		ID: Seer, DisplayName: "预言家",
		Faction: FactionGod, Team: TeamGood,
		Night1: NightOne{HasAction: true, Order: 60, Schema: models.SchemaTarget},
	},
	Psychic: {
		ID: Psychic, DisplayName: "通灵师",
		Faction: FactionGod, Team: TeamGood,
		Night1: NightOne{HasAction: true, Order: 70, Schema: models.SchemaTarget},
	},
	Gargoyle: {
		ID: Gargoyle, DisplayName: "石像鬼",
		Faction: FactionWolf, Team: TeamWolf,
		Night1:      NightOne{HasAction: true, Order: 80, Schema: models.SchemaTarget},
		WolfMeeting: WolfMeeting{ParticipatesInWolfVote: false, CanSeeWolves: true},
		Flags:       Flags{ImmuneToPoison: true},
	},
	Hunter: {
		ID: Hunter, DisplayName: "猎人",
		Faction: FactionGod, Team: TeamGood,
	},
	Elder: {
		ID: Elder, DisplayName: "老村长",
		Faction: FactionVillager, Team: TeamGood,
		Flags: Flags{ImmuneToWolfKill: true, ImmuneToPoison: true},
	},
	Villager: {
		ID: Villager, DisplayName: "村民",
		Faction: FactionVillager, Team: TeamGood,
	},
}

// sentinel is returned for unknown role ids so derived queries never fail on
// bad input; callers get a harmless villager.
var sentinel = Spec{
	ID:          "unknown",
	DisplayName: "村民",
	Faction:     FactionVillager,
	Team:        TeamGood,
}

var logger = zap.NewNop()

// SetLogger installs the process logger for unknown-role warnings.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Get returns the spec for a role id, or the sentinel with a warning when the
// id is not in the catalog.
func Get(roleID string) Spec {
	if spec, ok := catalog[roleID]; ok {
		return spec
	}
	logger.Warn("unknown role id, using sentinel spec", zap.String("role_id", roleID))
	return sentinel
}

// Known reports whether the role id is in the catalog.
func Known(roleID string) bool {
	_, ok := catalog[roleID]
	return ok
}

// IsWolfRole reports whether the role is on the wolf team.
func IsWolfRole(roleID string) bool {
	return Get(roleID).Team == TeamWolf
}

// SeerCheckResult is what the seer learns about a role: wolf-team roles read
// as 狼人, everyone else as 好人.
func SeerCheckResult(roleID string) string {
	if IsWolfRole(roleID) {
		return CheckResultWolf
	}
	return CheckResultGood
}

// WolfKillImmuneRoleIDs lists every role the wolf vote may not target.
func WolfKillImmuneRoleIDs() []string {
	var ids []string
	for id, spec := range catalog {
		if spec.Flags.ImmuneToWolfKill {
			ids = append(ids, id)
		}
	}
	return ids
}

// DisplayName resolves the private reveal name for a role id.
func DisplayName(roleID string) string {
	return Get(roleID).DisplayName
}
