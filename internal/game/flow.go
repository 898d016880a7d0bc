package game

import (
	"go.uber.org/zap"
)

// FlowPhase is the night flow controller's state. One role is driven at a
// time through audio-gated sub-phases; a terminal night-end audio phase
// closes the night.
type FlowPhase string

const (
	PhaseIdle             FlowPhase = "idle"
	PhaseNightBeginAudio  FlowPhase = "nightBeginAudio"
	PhaseRoleBeginAudio   FlowPhase = "roleBeginAudio"
	PhaseWaitingForAction FlowPhase = "waitingForAction"
	PhaseRoleEndAudio     FlowPhase = "roleEndAudio"
	PhaseNightEndAudio    FlowPhase = "nightEndAudio"
	PhaseDone             FlowPhase = "done"
)

// NightFlow is the per-room state machine. Events arriving in the wrong
// phase are strict no-ops: they log at debug and mutate nothing. That keeps
// duplicate audio callbacks from corrupting progress.
type NightFlow struct {
	phase     FlowPhase
	stepIndex int
	stepCount int
	logger    *zap.Logger
}

func NewNightFlow(logger *zap.Logger) *NightFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NightFlow{phase: PhaseIdle, logger: logger}
}

func (f *NightFlow) Phase() FlowPhase { return f.phase }
func (f *NightFlow) StepIndex() int   { return f.stepIndex }

func (f *NightFlow) ignore(event string) bool {
	f.logger.Debug("night flow event ignored in current phase",
		zap.String("event", event),
		zap.String("phase", string(f.phase)),
		zap.Int("step_index", f.stepIndex))
	return false
}

// StartNight begins the night over a compiled plan of stepCount steps.
func (f *NightFlow) StartNight(stepCount int) bool {
	if f.phase != PhaseIdle {
		return f.ignore("StartNight")
	}
	f.stepIndex = 0
	f.stepCount = stepCount
	f.phase = PhaseNightBeginAudio
	return true
}

func (f *NightFlow) NightBeginAudioDone() bool {
	if f.phase != PhaseNightBeginAudio {
		return f.ignore("NightBeginAudioDone")
	}
	if f.stepCount == 0 {
		f.phase = PhaseNightEndAudio
		return true
	}
	f.phase = PhaseRoleBeginAudio
	return true
}

func (f *NightFlow) RoleBeginAudioDone() bool {
	if f.phase != PhaseRoleBeginAudio {
		return f.ignore("RoleBeginAudioDone")
	}
	f.phase = PhaseWaitingForAction
	return true
}

func (f *NightFlow) ActionSubmitted() bool {
	if f.phase != PhaseWaitingForAction {
		return f.ignore("ActionSubmitted")
	}
	f.phase = PhaseRoleEndAudio
	return true
}

// RoleEndAudioDone advances to the next role, or to the night-end audio when
// the plan is exhausted. The caller learns whether another role follows.
func (f *NightFlow) RoleEndAudioDone() (applied, hasNext bool) {
	if f.phase != PhaseRoleEndAudio {
		return f.ignore("RoleEndAudioDone"), false
	}
	f.stepIndex++
	if f.stepIndex < f.stepCount {
		f.phase = PhaseRoleBeginAudio
		return true, true
	}
	f.phase = PhaseNightEndAudio
	return true, false
}

func (f *NightFlow) NightEndAudioDone() bool {
	if f.phase != PhaseNightEndAudio {
		return f.ignore("NightEndAudioDone")
	}
	f.phase = PhaseDone
	return true
}

// Resume rejoins an in-progress night at stepIndex after a restart. The flow
// re-enters the role-begin audio phase so the host replays the cue for the
// resumed step.
func (f *NightFlow) Resume(stepIndex, stepCount int) {
	f.stepIndex = stepIndex
	f.stepCount = stepCount
	switch {
	case stepCount == 0 || stepIndex >= stepCount:
		f.phase = PhaseNightEndAudio
	default:
		f.phase = PhaseRoleBeginAudio
	}
}

// Reset returns to Idle from any phase. Idempotent.
func (f *NightFlow) Reset() {
	f.phase = PhaseIdle
	f.stepIndex = 0
	f.stepCount = 0
}
