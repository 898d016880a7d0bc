package game

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/config"
	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// ============================================================================
// DEPENDENCY PORTS
// ============================================================================

// Bus delivers outbound envelopes. Per-recipient delivery is FIFO; the
// implementation must not reorder messages sent from the same goroutine.
type Bus interface {
	BroadcastToRoom(roomCode string, env models.Envelope)
	SendToUser(roomCode, uid string, env models.Envelope)
	SendToHost(roomCode string, env models.Envelope)
	CloseRoom(roomCode string)
}

// SnapshotStore persists room snapshots keyed by room code.
type SnapshotStore interface {
	Save(ctx context.Context, roomCode string, data []byte) error
	Load(ctx context.Context, roomCode string) ([]byte, error)
	Delete(ctx context.Context, roomCode string) error
	ListLive(ctx context.Context) ([]string, error)
}

// Journal records room events for audit. Implementations are best effort and
// must never fail the caller.
type Journal interface {
	Record(ctx context.Context, roomCode, eventType string, payload any)
}

// ============================================================================
// COORDINATOR
// ============================================================================

// Inbound is one message posted into a coordinator's inbox. UID is empty for
// internally generated events (timer fires).
type Inbound struct {
	UID string
	Env models.Envelope
}

// Internal message types, never seen on the wire.
const (
	msgWolfDeadline models.MessageType = "internal:WOLF_DEADLINE"
	msgStepTimeout  models.MessageType = "internal:STEP_TIMEOUT"
)

type timerPayload struct {
	StepIndex int `json:"step_index"`
}

// Deps bundles a coordinator's collaborators.
type Deps struct {
	Bus     Bus
	Store   SnapshotStore
	Journal Journal
	Cfg     config.GameConfig
	Logger  *zap.Logger
	Rng     *rand.Rand
	OnClose func(roomCode string)
}

// Coordinator is the owner task for one room: a single goroutine consuming an
// inbox and mutating the RoomState. All per-room ordering guarantees come
// from this loop; nothing else touches the state.
type Coordinator struct {
	room    *RoomState
	flow    *NightFlow
	bus     Bus
	store   SnapshotStore
	journal Journal
	cfg     config.GameConfig
	logger  *zap.Logger
	rng     *rand.Rand
	onClose func(roomCode string)

	inbox chan Inbound
	quit  chan struct{}

	// Pending snapshot for the room's writer goroutine; holds at most the
	// newest unwritten snapshot.
	snapCh chan []byte

	wolfTimer *time.Timer
	stepTimer *time.Timer

	lastActive atomic.Int64

	// Private reveals delivered this night, by uid, replayed on rejoin.
	reveals map[string][]models.Envelope
}

func NewCoordinator(room *RoomState, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := deps.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Coordinator{
		room:    room,
		flow:    NewNightFlow(logger),
		bus:     deps.Bus,
		store:   deps.Store,
		journal: deps.Journal,
		cfg:     deps.Cfg,
		logger:  logger.With(zap.String("room_code", room.Code)),
		rng:     rng,
		onClose: deps.OnClose,
		inbox:   make(chan Inbound, 256),
		quit:    make(chan struct{}),
		snapCh:  make(chan []byte, 1),
		reveals: make(map[string][]models.Envelope),
	}
	c.lastActive.Store(time.Now().UnixNano())
	if room.Status == models.RoomStatusOngoing {
		c.flow.Resume(room.CurrentStepIndex, len(room.Plan))
	}
	return c
}

func (c *Coordinator) Code() string { return c.room.Code }

// HostUID is stable for the room's lifetime.
func (c *Coordinator) HostUID() string { return c.room.HostUID }

// LastActive is the time of the most recent inbox message, for the janitor.
func (c *Coordinator) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Post delivers a message into the coordinator's inbox. A full inbox drops
// the message rather than block the caller.
func (c *Coordinator) Post(uid string, env models.Envelope) {
	select {
	case c.inbox <- Inbound{UID: uid, Env: env}:
	case <-c.quit:
	default:
		c.logger.Warn("room inbox full, dropping message",
			zap.String("type", string(env.Type)),
			zap.String("uid", uid))
	}
}

// Stop asks the coordinator to shut down from outside the loop (janitor,
// server shutdown). The snapshot is kept for later rehydration.
func (c *Coordinator) Stop() {
	c.Post("", newEnvelope(models.MsgEndRoom, nil))
}

// Run is the room's owner loop. It exits when the room ends, faults, or ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("room coordinator panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			c.fault(ctx, "internal error")
		}
		c.stopTimers()
	}()

	go c.snapshotWriter(ctx)

	// A room rehydrated mid-night replays the current step's role-begin cue.
	if c.room.Status == models.RoomStatusOngoing {
		if c.room.Plan == nil {
			c.fault(ctx, "night plan missing while ongoing")
			return
		}
		c.broadcastState()
		if c.flow.Phase() == PhaseNightEndAudio {
			c.sendHost(newEnvelope(models.MsgNightEndAudio, models.AudioCuePayload{StepIndex: c.flow.StepIndex()}))
		} else if step := c.room.CurrentStep(); step != nil {
			c.cueRoleBegin(step)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case msg := <-c.inbox:
			c.lastActive.Store(time.Now().UnixNano())
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, msg Inbound) {
	switch msg.Env.Type {
	case models.MsgTakeSeat:
		c.handleTakeSeat(ctx, msg.UID, msg.Env.Payload)
	case models.MsgLeaveSeat:
		c.handleLeaveSeat(ctx, msg.UID)
	case models.MsgViewRole:
		c.handleViewRole(ctx, msg.UID)
	case models.MsgAssignRoles:
		c.handleAssignRoles(ctx, msg.UID)
	case models.MsgStartGame:
		c.handleStartGame(ctx, msg.UID)
	case models.MsgNightBeginAudioDone:
		c.handleNightBeginAudioDone(ctx, msg.UID)
	case models.MsgRoleBeginAudioDone:
		c.handleRoleBeginAudioDone(ctx, msg.UID)
	case models.MsgRoleEndAudioDone:
		c.handleRoleEndAudioDone(ctx, msg.UID)
	case models.MsgNightEndAudioDone:
		c.handleNightEndAudioDone(ctx, msg.UID)
	case models.MsgSubmitAction:
		c.handleSubmitAction(ctx, msg.UID, msg.Env.Payload)
	case models.MsgWolfVote:
		c.handleWolfVote(ctx, msg.UID, msg.Env.Payload)
	case models.MsgHello:
		c.handleHello(msg.UID)
	case models.MsgReset:
		c.handleReset(ctx, msg.UID)
	case models.MsgEndRoom:
		c.handleEndRoom(ctx, msg.UID)
	case msgWolfDeadline:
		c.handleWolfDeadline(ctx, msg.Env.Payload)
	case msgStepTimeout:
		c.handleStepTimeout(ctx, msg.Env.Payload)
	default:
		c.logger.Debug("unknown message type", zap.String("type", string(msg.Env.Type)))
	}
}

// ============================================================================
// SEAT AND LOBBY PHASE
// ============================================================================

func (c *Coordinator) handleTakeSeat(ctx context.Context, uid string, raw any) {
	var payload models.TakeSeatPayload
	if err := decodePayload(raw, &payload); err != nil {
		c.logger.Debug("bad TAKE_SEAT payload", zap.Error(err))
		return
	}
	if err := c.room.TakeSeat(uid, payload.DisplayName, payload.Seat); err != nil {
		c.logger.Debug("take seat refused",
			zap.String("uid", uid), zap.Int("seat", payload.Seat), zap.Error(err))
		return
	}
	c.broadcastState()
	c.saveSnapshot(ctx)
}

func (c *Coordinator) handleLeaveSeat(ctx context.Context, uid string) {
	if err := c.room.LeaveSeat(uid); err != nil {
		c.logger.Debug("leave seat refused", zap.String("uid", uid), zap.Error(err))
		return
	}
	c.broadcastState()
	c.saveSnapshot(ctx)
}

func (c *Coordinator) handleViewRole(ctx context.Context, uid string) {
	if err := c.room.ViewRole(uid); err != nil {
		c.logger.Debug("view role refused", zap.String("uid", uid), zap.Error(err))
		return
	}
	c.broadcastState()
	c.saveSnapshot(ctx)
}

func (c *Coordinator) handleAssignRoles(ctx context.Context, uid string) {
	if !c.requireHost(uid, "ASSIGN_ROLES") {
		return
	}
	if err := c.room.AssignRoles(c.rng); err != nil {
		c.logger.Debug("assign roles refused", zap.Error(err))
		return
	}
	for _, p := range c.room.Players {
		c.sendPrivate(p.UID, newEnvelope(models.MsgRoleAssignment, models.RoleAssignmentPayload{RoleID: p.Role}), false)
	}
	c.broadcastState()
	c.saveSnapshot(ctx)
	c.record(ctx, "roles_assigned", nil)
}

// ============================================================================
// NIGHT START AND AUDIO GATES
// ============================================================================

func (c *Coordinator) handleStartGame(ctx context.Context, uid string) {
	if !c.requireHost(uid, "START_GAME") {
		return
	}
	if c.room.Status != models.RoomStatusReady {
		c.logger.Debug("start game refused in current status",
			zap.String("status", string(c.room.Status)))
		return
	}
	plan, err := BuildNightPlan(c.room.Template.Roles, c.room.Players)
	if err != nil {
		c.fault(ctx, fmt.Sprintf("failed to compile night plan: %v", err))
		return
	}
	c.room.Plan = plan
	c.room.CurrentStepIndex = 0
	c.room.Status = models.RoomStatusOngoing
	if !c.flow.StartNight(len(plan)) {
		return
	}
	c.broadcastState()
	c.sendHost(newEnvelope(models.MsgNightBeginAudio, models.AudioCuePayload{StepIndex: 0}))
	c.saveSnapshot(ctx)
	c.record(ctx, "night_started", map[string]int{"steps": len(plan)})
}

func (c *Coordinator) handleNightBeginAudioDone(ctx context.Context, uid string) {
	if !c.requireHost(uid, "NIGHT_BEGIN_AUDIO_DONE") || !c.checkOngoing(ctx) {
		return
	}
	if !c.flow.NightBeginAudioDone() {
		return
	}
	if c.flow.Phase() == PhaseNightEndAudio {
		c.sendHost(newEnvelope(models.MsgNightEndAudio, models.AudioCuePayload{StepIndex: 0}))
		return
	}
	if step := c.room.CurrentStep(); step != nil {
		c.cueRoleBegin(step)
	}
}

func (c *Coordinator) handleRoleBeginAudioDone(ctx context.Context, uid string) {
	if !c.requireHost(uid, "ROLE_BEGIN_AUDIO_DONE") || !c.checkOngoing(ctx) {
		return
	}
	if !c.flow.RoleBeginAudioDone() {
		return
	}
	c.enterWaiting(ctx)
}

func (c *Coordinator) handleRoleEndAudioDone(ctx context.Context, uid string) {
	if !c.requireHost(uid, "ROLE_END_AUDIO_DONE") || !c.checkOngoing(ctx) {
		return
	}
	applied, hasNext := c.flow.RoleEndAudioDone()
	if !applied {
		return
	}
	c.room.CurrentStepIndex = c.flow.StepIndex()
	c.broadcastState()
	c.saveSnapshot(ctx)
	if hasNext {
		if step := c.room.CurrentStep(); step != nil {
			c.cueRoleBegin(step)
		}
		return
	}
	c.sendHost(newEnvelope(models.MsgNightEndAudio, models.AudioCuePayload{StepIndex: c.flow.StepIndex()}))
}

func (c *Coordinator) handleNightEndAudioDone(ctx context.Context, uid string) {
	if !c.requireHost(uid, "NIGHT_END_AUDIO_DONE") || !c.checkOngoing(ctx) {
		return
	}
	if !c.flow.NightEndAudioDone() {
		return
	}
	result := ResolveNightDeaths(c.room)
	c.room.Status = models.RoomStatusEnded
	c.broadcast(newEnvelope(models.MsgNightEnd, models.NightEndPayload{LastNightDeaths: c.room.LastNightDeaths}))
	c.broadcastState()
	c.saveSnapshot(ctx)
	c.record(ctx, "night_ended", result)
}

// cueRoleBegin asks the host collaborator to play the role's wake-up audio.
func (c *Coordinator) cueRoleBegin(step *models.NightStep) {
	c.sendHost(newEnvelope(models.MsgRoleBeginAudio, models.AudioCuePayload{
		RoleID:    step.RoleID,
		StepIndex: c.flow.StepIndex(),
	}))
}

// enterWaiting opens the action window for the current step: announces the
// turn, auto-resolves steps that cannot act, dispatches step-entry context,
// and arms deadlines.
func (c *Coordinator) enterWaiting(ctx context.Context) {
	step := c.room.CurrentStep()
	if step == nil {
		c.fault(ctx, "no current step while waiting for action")
		return
	}
	c.broadcast(newEnvelope(models.MsgRoleTurn, models.RoleTurnPayload{
		RoleID:    step.RoleID,
		StepIndex: c.flow.StepIndex(),
	}))

	// A rehydrated or timed-out step may already hold its action.
	if _, done := c.room.Actions[step.RoleID]; done {
		c.completeStep(ctx, step)
		return
	}

	// Dead or blocked actors cannot act; their step resolves to a skip with
	// no reveal.
	if c.stepCannotAct(step) {
		WriteActionOnce(c.room, step.RoleID, models.Action{Kind: models.ActionNone})
		c.completeStep(ctx, step)
		return
	}

	if step.RoleID == roles.Witch {
		c.sendWitchContext(step)
	}

	if step.Schema == models.SchemaWolfVote {
		c.armWolfDeadline()
	} else if c.cfg.StepTimeoutSeconds > 0 {
		c.armStepTimeout()
	}
}

// stepCannotAct reports whether no live, unblocked actor remains for a step.
func (c *Coordinator) stepCannotAct(step *models.NightStep) bool {
	for _, seat := range c.room.AliveSeatsIn(step.ActorSeats) {
		if seat != c.room.BlockedSeat {
			return false
		}
	}
	return true
}

func (c *Coordinator) sendWitchContext(step *models.NightStep) {
	witch := c.firstLiveActor(step)
	if witch == nil {
		return
	}
	killed := RawWolfTarget(c.room)
	canSave := killed != models.NoSeat &&
		(killed != witch.Seat || roles.Get(witch.Role).Flags.CanSaveSelf)
	c.sendPrivate(witch.UID, newEnvelope(models.MsgWitchContext, models.WitchContextPayload{
		KilledIndex: killed,
		CanSave:     canSave,
	}), true)
}

func (c *Coordinator) firstLiveActor(step *models.NightStep) *models.Player {
	for _, seat := range c.room.AliveSeatsIn(step.ActorSeats) {
		return c.room.PlayerAt(seat)
	}
	return nil
}

// completeStep closes the action window: the role's action is on record, the
// host gets the sleep audio cue.
func (c *Coordinator) completeStep(ctx context.Context, step *models.NightStep) {
	c.stopTimers()
	if !c.flow.ActionSubmitted() {
		return
	}
	c.broadcastState()
	c.sendHost(newEnvelope(models.MsgRoleEndAudio, models.AudioCuePayload{
		RoleID:    step.RoleID,
		StepIndex: c.flow.StepIndex(),
	}))
	c.saveSnapshot(ctx)
	c.record(ctx, "step_resolved", map[string]any{
		"role_id": step.RoleID,
		"action":  c.room.Actions[step.RoleID],
	})
}

// ============================================================================
// ACTION INGRESS
// ============================================================================

// handleSubmitAction runs the ingress gates in order: room scope (silent),
// phase, role, schema validation, once-guard (silent).
func (c *Coordinator) handleSubmitAction(ctx context.Context, uid string, raw any) {
	actor := c.room.SeatOf(uid)
	if actor == nil {
		c.logger.Debug("action from unseated uid", zap.String("uid", uid))
		return
	}
	if c.room.Status != models.RoomStatusOngoing || c.flow.Phase() != PhaseWaitingForAction {
		c.reject(uid, models.RejectWrongPhase)
		return
	}
	step := c.room.CurrentStep()
	if step == nil {
		c.fault(ctx, "no current step while waiting for action")
		return
	}

	var payload models.SubmitActionPayload
	if err := decodePayload(raw, &payload); err != nil {
		c.reject(uid, models.RejectIllegalTarget)
		return
	}

	// Wolf meeting actions travel on WOLF_VOTE only.
	if step.Schema == models.SchemaWolfVote ||
		payload.RoleID != step.RoleID ||
		actor.Role != step.RoleID ||
		!actor.Alive ||
		!containsSeat(step.ActorSeats, actor.Seat) {
		c.reject(uid, models.RejectWrongRole)
		return
	}

	action, reason, ok := DecodeSubmittedAction(c.room, step, actor, payload)
	if !ok {
		c.reject(uid, reason)
		return
	}
	if !WriteActionOnce(c.room, step.RoleID, action) {
		c.logger.Debug("duplicate action dropped",
			zap.String("role_id", step.RoleID), zap.String("uid", uid))
		return
	}

	c.applyActionEffects(uid, actor, step, action)
	c.completeStep(ctx, step)
}

// applyActionEffects runs role side effects that fire at submission time:
// the nightmare's block and the information reveals.
func (c *Coordinator) applyActionEffects(uid string, actor *models.Player, step *models.NightStep, action models.Action) {
	if action.Kind != models.ActionTarget || action.Seat == models.NoSeat {
		return
	}
	effective := c.room.EffectiveSeat(step.RoleID, action.Seat)
	target := c.room.PlayerAt(effective)
	if target == nil {
		return
	}

	switch step.RoleID {
	case roles.Nightmare:
		c.room.BlockedSeat = effective
	case roles.Seer:
		c.sendPrivate(uid, newEnvelope(models.MsgSeerReveal, models.SeerRevealPayload{
			TargetSeat: action.Seat,
			Result:     roles.SeerCheckResult(target.Role),
		}), true)
	case roles.Psychic:
		c.sendPrivate(uid, newEnvelope(models.MsgPsychicReveal, models.RoleRevealPayload{
			TargetSeat:  action.Seat,
			DisplayName: roles.DisplayName(target.Role),
		}), true)
	case roles.Gargoyle:
		c.sendPrivate(uid, newEnvelope(models.MsgGargoyleReveal, models.RoleRevealPayload{
			TargetSeat:  action.Seat,
			DisplayName: roles.DisplayName(target.Role),
		}), true)
	}
}

func (c *Coordinator) handleWolfVote(ctx context.Context, uid string, raw any) {
	actor := c.room.SeatOf(uid)
	if actor == nil {
		c.logger.Debug("wolf vote from unseated uid", zap.String("uid", uid))
		return
	}
	if c.room.Status != models.RoomStatusOngoing || c.flow.Phase() != PhaseWaitingForAction {
		c.reject(uid, models.RejectWrongPhase)
		return
	}
	var payload models.WolfVotePayload
	if err := decodePayload(raw, &payload); err != nil {
		c.reject(uid, models.RejectIllegalTarget)
		return
	}
	if reason, ok := RecordWolfVote(c.room, actor, payload.TargetSeat); !ok {
		c.reject(uid, reason)
		return
	}
	if WolfQuorumReached(c.room) {
		c.finalizeWolfStep(ctx)
	}
}

func (c *Coordinator) finalizeWolfStep(ctx context.Context) {
	step := c.room.CurrentStep()
	if step == nil || step.Schema != models.SchemaWolfVote {
		return
	}
	action, wrote := FinalizeWolfVotes(c.room)
	if !wrote {
		c.logger.Debug("wolf finalizer no-op, action already on record")
		return
	}
	c.record(ctx, "wolf_votes_finalized", action)
	c.completeStep(ctx, step)
}

// ============================================================================
// TIMERS
// ============================================================================

func (c *Coordinator) armWolfDeadline() {
	c.stopTimers()
	idx := c.flow.StepIndex()
	d := time.Duration(c.cfg.WolfVoteSeconds) * time.Second
	c.wolfTimer = time.AfterFunc(d, func() {
		c.Post("", newEnvelope(msgWolfDeadline, timerPayload{StepIndex: idx}))
	})
}

func (c *Coordinator) armStepTimeout() {
	c.stopTimers()
	idx := c.flow.StepIndex()
	d := time.Duration(c.cfg.StepTimeoutSeconds) * time.Second
	c.stepTimer = time.AfterFunc(d, func() {
		c.Post("", newEnvelope(msgStepTimeout, timerPayload{StepIndex: idx}))
	})
}

func (c *Coordinator) stopTimers() {
	if c.wolfTimer != nil {
		c.wolfTimer.Stop()
		c.wolfTimer = nil
	}
	if c.stepTimer != nil {
		c.stepTimer.Stop()
		c.stepTimer = nil
	}
}

// timerCurrent guards against stale fires from a step the flow already left.
func (c *Coordinator) timerCurrent(raw any) bool {
	var payload timerPayload
	if err := decodePayload(raw, &payload); err != nil {
		return false
	}
	return c.room.Status == models.RoomStatusOngoing &&
		c.flow.Phase() == PhaseWaitingForAction &&
		payload.StepIndex == c.flow.StepIndex()
}

func (c *Coordinator) handleWolfDeadline(ctx context.Context, raw any) {
	if !c.timerCurrent(raw) {
		return
	}
	if step := c.room.CurrentStep(); step != nil && step.Schema == models.SchemaWolfVote {
		c.finalizeWolfStep(ctx)
	}
}

func (c *Coordinator) handleStepTimeout(ctx context.Context, raw any) {
	if !c.timerCurrent(raw) {
		return
	}
	step := c.room.CurrentStep()
	if step == nil {
		return
	}
	if !WriteActionOnce(c.room, step.RoleID, models.Action{Kind: models.ActionNone}) {
		return
	}
	c.logger.Info("step timed out, recorded skip", zap.String("role_id", step.RoleID))
	c.completeStep(ctx, step)
}

// ============================================================================
// REJOIN, RESET, SHUTDOWN
// ============================================================================

// handleHello answers a (re)connecting participant with the full current
// state, their own seat and role, and the private reveals they missed.
func (c *Coordinator) handleHello(uid string) {
	payload := models.WelcomeBackPayload{
		State:          c.room.PublicView(),
		Seat:           models.NoSeat,
		MissedMessages: c.reveals[uid],
	}
	if p := c.room.SeatOf(uid); p != nil {
		payload.Seat = p.Seat
		payload.RoleID = p.Role
	}
	c.send(uid, newEnvelope(models.MsgWelcomeBack, payload))

	if c.room.Status == models.RoomStatusOngoing && c.flow.Phase() == PhaseWaitingForAction {
		if step := c.room.CurrentStep(); step != nil {
			c.send(uid, newEnvelope(models.MsgRoleTurn, models.RoleTurnPayload{
				RoleID:    step.RoleID,
				StepIndex: c.flow.StepIndex(),
			}))
		}
	}
}

func (c *Coordinator) handleReset(ctx context.Context, uid string) {
	if !c.requireHost(uid, "RESET") {
		return
	}
	c.stopTimers()
	c.room.ResetNight()
	c.flow.Reset()
	c.reveals = make(map[string][]models.Envelope)
	c.broadcastState()
	c.saveSnapshot(ctx)
	c.record(ctx, "room_reset", nil)
}

func (c *Coordinator) handleEndRoom(ctx context.Context, uid string) {
	if uid != "" && !c.requireHost(uid, "END_ROOM") {
		return
	}
	c.stopTimers()
	c.record(ctx, "room_ended", nil)
	reason := "closed by host"
	if uid == "" {
		reason = "closed by server"
	}
	c.broadcast(newEnvelope(models.MsgRoomClosed, models.RoomClosedPayload{
		RoomCode: c.room.Code,
		Reason:   reason,
	}))
	if uid != "" {
		// Host-driven end deletes the snapshot; janitor/shutdown keeps it.
		c.deleteSnapshot(ctx)
	}
	c.bus.CloseRoom(c.room.Code)
	if c.onClose != nil {
		c.onClose(c.room.Code)
	}
	close(c.quit)
}

// fault is the unrecoverable exit: broadcast the fault, drop the snapshot,
// tear the room down.
func (c *Coordinator) fault(ctx context.Context, reason string) {
	c.logger.Error("room fault", zap.String("reason", reason))
	c.broadcast(newEnvelope(models.MsgRoomFault, models.RoomFaultPayload{
		RoomCode: c.room.Code,
		Reason:   reason,
	}))
	c.record(ctx, "room_fault", map[string]string{"reason": reason})
	c.stopTimers()
	c.deleteSnapshot(ctx)
	c.bus.CloseRoom(c.room.Code)
	if c.onClose != nil {
		c.onClose(c.room.Code)
	}
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// checkOngoing verifies the night invariant before night events run: an
// ongoing room always has a compiled plan.
func (c *Coordinator) checkOngoing(ctx context.Context) bool {
	if c.room.Status != models.RoomStatusOngoing {
		c.logger.Debug("night event outside ongoing status",
			zap.String("status", string(c.room.Status)))
		return false
	}
	if c.room.Plan == nil {
		c.fault(ctx, "night plan missing while ongoing")
		return false
	}
	return true
}

func (c *Coordinator) requireHost(uid, event string) bool {
	if uid == c.room.HostUID {
		return true
	}
	c.logger.Debug("host-only event from non-host",
		zap.String("event", event), zap.String("uid", uid))
	return false
}

// ============================================================================
// OUTBOUND HELPERS
// ============================================================================

func newEnvelope(t models.MessageType, payload any) models.Envelope {
	return models.Envelope{Type: t, Payload: payload, Timestamp: time.Now()}
}

func (c *Coordinator) broadcast(env models.Envelope) {
	c.bus.BroadcastToRoom(c.room.Code, env)
}

func (c *Coordinator) broadcastState() {
	c.broadcast(newEnvelope(models.MsgStateUpdate, models.StateUpdatePayload{State: c.room.PublicView()}))
}

func (c *Coordinator) send(uid string, env models.Envelope) {
	c.bus.SendToUser(c.room.Code, uid, env)
}

func (c *Coordinator) sendHost(env models.Envelope) {
	c.bus.SendToHost(c.room.Code, env)
}

// sendPrivate delivers a private envelope and, when remember is set, logs it
// for rejoin replay.
func (c *Coordinator) sendPrivate(uid string, env models.Envelope, remember bool) {
	if remember {
		c.reveals[uid] = append(c.reveals[uid], env)
	}
	c.send(uid, env)
}

func (c *Coordinator) reject(uid string, reason models.RejectReason) {
	c.logger.Info("action rejected", zap.String("uid", uid), zap.String("reason", string(reason)))
	c.send(uid, newEnvelope(models.MsgActionRejected, models.ActionRejectedPayload{Reason: reason}))
}

// saveSnapshot queues the room's durable form for the room's snapshot writer,
// off the hot path. Only the newest unwritten snapshot matters: a stale
// pending one is replaced, never queued behind.
func (c *Coordinator) saveSnapshot(_ context.Context) {
	data, err := MarshalSnapshot(BuildSnapshot(c.room))
	if err != nil {
		c.logger.Warn("failed to marshal snapshot", zap.Error(err))
		return
	}
	for {
		select {
		case c.snapCh <- data:
			return
		default:
		}
		select {
		case <-c.snapCh:
		default:
		}
	}
}

// snapshotWriter is the one goroutine that writes this room's snapshot key,
// so the store always ends up holding the last snapshot produced.
func (c *Coordinator) snapshotWriter(ctx context.Context) {
	for {
		select {
		case data := <-c.snapCh:
			c.writeSnapshot(data)
		case <-c.quit:
			// Flush so a shutdown keeps the room's final state.
			select {
			case data := <-c.snapCh:
				c.writeSnapshot(data)
			default:
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) writeSnapshot(data []byte) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.store.Save(saveCtx, c.room.Code, data); err != nil {
		c.logger.Warn("snapshot save failed", zap.Error(err))
	}
}

func (c *Coordinator) deleteSnapshot(_ context.Context) {
	// Drop any save still queued so the writer's quit flush cannot put the
	// key back after the delete.
	select {
	case <-c.snapCh:
	default:
	}
	delCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.store.Delete(delCtx, c.room.Code); err != nil {
		c.logger.Warn("snapshot delete failed", zap.Error(err))
	}
}

func (c *Coordinator) record(ctx context.Context, event string, payload any) {
	if c.journal == nil {
		return
	}
	c.journal.Record(ctx, c.room.Code, event, payload)
}

// decodePayload converts the loosely typed envelope payload into a concrete
// struct. Payloads arrive as map[string]any off the websocket decoder.
func decodePayload(raw any, out any) error {
	if raw == nil {
		return fmt.Errorf("missing payload")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
