package game

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazerdira/nighthost/internal/config"
	"github.com/kazerdira/nighthost/internal/models"
	"github.com/kazerdira/nighthost/internal/roles"
)

// fakeBus records every delivery instead of pushing to sockets.
type fakeBus struct {
	mu         sync.Mutex
	broadcasts []models.Envelope
	private    map[string][]models.Envelope
	host       []models.Envelope
	closed     []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{private: make(map[string][]models.Envelope)}
}

func (b *fakeBus) BroadcastToRoom(_ string, env models.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, env)
}

func (b *fakeBus) SendToUser(_, uid string, env models.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.private[uid] = append(b.private[uid], env)
}

func (b *fakeBus) SendToHost(_ string, env models.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = append(b.host, env)
}

func (b *fakeBus) CloseRoom(roomCode string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, roomCode)
}

func (b *fakeBus) lastHostCue() (models.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.host) == 0 {
		return models.Envelope{}, false
	}
	return b.host[len(b.host)-1], true
}

func (b *fakeBus) hostCueCount(t models.MessageType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, env := range b.host {
		if env.Type == t {
			n++
		}
	}
	return n
}

func (b *fakeBus) lastPrivate(uid string, t models.MessageType) (models.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.private[uid]) - 1; i >= 0; i-- {
		if b.private[uid][i].Type == t {
			return b.private[uid][i], true
		}
	}
	return models.Envelope{}, false
}

func (b *fakeBus) lastBroadcast(t models.MessageType) (models.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.broadcasts) - 1; i >= 0; i-- {
		if b.broadcasts[i].Type == t {
			return b.broadcasts[i], true
		}
	}
	return models.Envelope{}, false
}

// memStore is an in-memory SnapshotStore.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Save(_ context.Context, roomCode string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[roomCode] = data
	return nil
}

func (s *memStore) Load(_ context.Context, roomCode string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[roomCode]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return data, nil
}

func (s *memStore) Delete(_ context.Context, roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, roomCode)
	return nil
}

func (s *memStore) ListLive(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for code := range s.data {
		codes = append(codes, code)
	}
	return codes, nil
}

// newTestCoordinator wires a coordinator over fakes. Tests drive it by
// calling dispatch directly, which keeps everything on one goroutine.
func newTestCoordinator(t *testing.T, room *RoomState) (*Coordinator, *fakeBus) {
	t.Helper()
	busFake := newFakeBus()
	coord := NewCoordinator(room, Deps{
		Bus:   busFake,
		Store: newMemStore(),
		Cfg:   config.GameConfig{WolfVoteSeconds: 45},
		Rng:   rand.New(rand.NewSource(1)),
	})
	return coord, busFake
}

func post(c *Coordinator, uid string, t models.MessageType, payload any) {
	c.dispatch(context.Background(), Inbound{UID: uid, Env: newEnvelope(t, payload)})
}

func hostPost(c *Coordinator, t models.MessageType) {
	post(c, c.room.HostUID, t, nil)
}

// respondToCue answers the pending audio cue with its *_DONE event, the way
// the host collaborator would.
func respondToCue(t *testing.T, c *Coordinator, b *fakeBus) models.MessageType {
	t.Helper()
	cue, ok := b.lastHostCue()
	require.True(t, ok, "no pending host cue")
	switch cue.Type {
	case models.MsgNightBeginAudio:
		hostPost(c, models.MsgNightBeginAudioDone)
	case models.MsgRoleBeginAudio:
		hostPost(c, models.MsgRoleBeginAudioDone)
	case models.MsgRoleEndAudio:
		hostPost(c, models.MsgRoleEndAudioDone)
	case models.MsgNightEndAudio:
		hostPost(c, models.MsgNightEndAudioDone)
	}
	return cue.Type
}

func submitTarget(c *Coordinator, uid, roleID string, seat int) {
	post(c, uid, models.MsgSubmitAction, models.SubmitActionPayload{RoleID: roleID, Target: intPtr(seat)})
}

func TestNightPeacefulAbstention(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	require.Equal(t, models.RoomStatusOngoing, room.Status)
	cue, ok := busFake.lastHostCue()
	require.True(t, ok)
	require.Equal(t, models.MsgNightBeginAudio, cue.Type)

	require.Equal(t, models.MsgNightBeginAudio, respondToCue(t, coord, busFake))
	require.Equal(t, models.MsgRoleBeginAudio, respondToCue(t, coord, busFake))

	// The lone wolf sheathes the knife.
	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: nil})

	require.Equal(t, models.MsgRoleEndAudio, respondToCue(t, coord, busFake))
	require.Equal(t, models.MsgNightEndAudio, respondToCue(t, coord, busFake))

	require.Equal(t, models.RoomStatusEnded, room.Status)
	env, ok := busFake.lastBroadcast(models.MsgNightEnd)
	require.True(t, ok)
	payload := env.Payload.(models.NightEndPayload)
	assert.Empty(t, payload.LastNightDeaths)
	for _, p := range room.Players {
		assert.True(t, p.Alive)
	}
}

func TestNightGuardSavesAndSeerChecksWolf(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Guard, roles.Seer, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin

	// Guard protects seat 3.
	respondToCue(t, coord, busFake)
	submitTarget(coord, "uid-1", roles.Guard, 3)
	respondToCue(t, coord, busFake)

	// Wolves take seat 3.
	respondToCue(t, coord, busFake)
	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: intPtr(3)})
	respondToCue(t, coord, busFake)

	// Seer checks the wolf.
	respondToCue(t, coord, busFake)
	submitTarget(coord, "uid-2", roles.Seer, 0)
	reveal, ok := busFake.lastPrivate("uid-2", models.MsgSeerReveal)
	require.True(t, ok)
	assert.Equal(t, models.SeerRevealPayload{TargetSeat: 0, Result: roles.CheckResultWolf}, reveal.Payload)
	respondToCue(t, coord, busFake)

	respondToCue(t, coord, busFake) // night end audio

	env, ok := busFake.lastBroadcast(models.MsgNightEnd)
	require.True(t, ok)
	assert.Empty(t, env.Payload.(models.NightEndPayload).LastNightDeaths)
	assert.True(t, room.PlayerAt(3).Alive)
	assert.Equal(t, 3, room.LastProtectedSeat)
}

func TestNightWitchSelfSaveRejected(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Witch, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin

	// Wolves take the witch.
	respondToCue(t, coord, busFake)
	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: intPtr(1)})
	respondToCue(t, coord, busFake)

	// Witch wakes to her own death notice.
	respondToCue(t, coord, busFake)
	ctxEnv, ok := busFake.lastPrivate("uid-1", models.MsgWitchContext)
	require.True(t, ok)
	witchCtx := ctxEnv.Payload.(models.WitchContextPayload)
	assert.Equal(t, 1, witchCtx.KilledIndex)
	assert.False(t, witchCtx.CanSave)

	// The self-save bounces; the step stays open.
	post(coord, "uid-1", models.MsgSubmitAction, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{Save: true},
	})
	rej, ok := busFake.lastPrivate("uid-1", models.MsgActionRejected)
	require.True(t, ok)
	assert.Equal(t, models.RejectIllegalTarget, rej.Payload.(models.ActionRejectedPayload).Reason)
	require.Equal(t, PhaseWaitingForAction, coord.flow.Phase())

	// She concedes and skips.
	post(coord, "uid-1", models.MsgSubmitAction, models.SubmitActionPayload{
		RoleID: roles.Witch, Witch: &models.WitchWire{},
	})
	respondToCue(t, coord, busFake)
	respondToCue(t, coord, busFake) // night end audio

	env, ok := busFake.lastBroadcast(models.MsgNightEnd)
	require.True(t, ok)
	assert.Equal(t, []int{1}, env.Payload.(models.NightEndPayload).LastNightDeaths)
	assert.False(t, room.PlayerAt(1).Alive)
}

func TestNightMagicianSwapReroutesSeer(t *testing.T) {
	room := newTestRoom(t, roles.Magician, roles.Wolf, roles.Seer, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin

	// Magician swaps the wolf with the villager.
	respondToCue(t, coord, busFake)
	submitTarget(coord, "uid-0", roles.Magician, EncodeMagicianSwap(1, 3))
	respondToCue(t, coord, busFake)

	// Peaceful wolves.
	respondToCue(t, coord, busFake)
	post(coord, "uid-1", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: nil})
	respondToCue(t, coord, busFake)

	// Seer aims at the wolf's seat but reads the swapped-in villager.
	respondToCue(t, coord, busFake)
	submitTarget(coord, "uid-2", roles.Seer, 1)
	reveal, ok := busFake.lastPrivate("uid-2", models.MsgSeerReveal)
	require.True(t, ok)
	payload := reveal.Payload.(models.SeerRevealPayload)
	assert.Equal(t, 1, payload.TargetSeat, "reveal echoes the requested seat")
	assert.Equal(t, roles.CheckResultGood, payload.Result)
}

func TestDuplicateRoleEndAudioDoneAdvancesOnce(t *testing.T) {
	room := newTestRoom(t, roles.Guard, roles.Wolf, roles.Seer, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin
	respondToCue(t, coord, busFake) // guard role begin
	submitTarget(coord, "uid-0", roles.Guard, 1)

	hostPost(coord, models.MsgRoleEndAudioDone)
	require.Equal(t, 1, room.CurrentStepIndex)
	cueCount := busFake.hostCueCount(models.MsgRoleBeginAudio)

	// The duplicate callback changes nothing.
	hostPost(coord, models.MsgRoleEndAudioDone)
	assert.Equal(t, 1, room.CurrentStepIndex)
	assert.Equal(t, cueCount, busFake.hostCueCount(models.MsgRoleBeginAudio))
}

func TestNightmareBlockSkipsBlockedRole(t *testing.T) {
	room := newTestRoom(t, roles.Nightmare, roles.Wolf, roles.Guard, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin

	// Nightmare blocks the guard.
	respondToCue(t, coord, busFake)
	submitTarget(coord, "uid-0", roles.Nightmare, 2)
	require.Equal(t, 2, room.BlockedSeat)
	respondToCue(t, coord, busFake)

	// The guard's step resolves itself: skip on record, sleep cue sent.
	require.Equal(t, models.MsgRoleBeginAudio, respondToCue(t, coord, busFake))
	assert.Equal(t, models.ActionNone, room.Actions[roles.Guard].Kind)
	cue, ok := busFake.lastHostCue()
	require.True(t, ok)
	assert.Equal(t, models.MsgRoleEndAudio, cue.Type)

	// A late submission from the blocked guard bounces and the skip stands.
	submitTarget(coord, "uid-2", roles.Guard, 3)
	assert.Equal(t, models.ActionNone, room.Actions[roles.Guard].Kind)
}

func TestSubmitActionGateOrdering(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Seer, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	// Before the night: wrong phase.
	submitTarget(coord, "uid-1", roles.Seer, 0)
	rej, ok := busFake.lastPrivate("uid-1", models.MsgActionRejected)
	require.True(t, ok)
	assert.Equal(t, models.RejectWrongPhase, rej.Payload.(models.ActionRejectedPayload).Reason)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin
	respondToCue(t, coord, busFake) // wolf role begin

	// Seer acting during the wolf step: wrong role.
	submitTarget(coord, "uid-1", roles.Seer, 0)
	rej, ok = busFake.lastPrivate("uid-1", models.MsgActionRejected)
	require.True(t, ok)
	assert.Equal(t, models.RejectWrongRole, rej.Payload.(models.ActionRejectedPayload).Reason)

	// Unseated uids never get a response.
	submitTarget(coord, "ghost", roles.Seer, 0)
	_, ok = busFake.lastPrivate("ghost", models.MsgActionRejected)
	assert.False(t, ok)
}

func TestWolfDeadlineFinalizesPartialVotes(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Wolf, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin
	respondToCue(t, coord, busFake) // wolf role begin

	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: intPtr(2)})
	require.Equal(t, PhaseWaitingForAction, coord.flow.Phase(), "quorum not reached")

	// A stale deadline from an earlier step is ignored.
	post(coord, "", msgWolfDeadline, timerPayload{StepIndex: 5})
	require.Equal(t, PhaseWaitingForAction, coord.flow.Phase())

	post(coord, "", msgWolfDeadline, timerPayload{StepIndex: coord.flow.StepIndex()})
	assert.Equal(t, PhaseRoleEndAudio, coord.flow.Phase())
	assert.Equal(t, 2, room.Actions[WolfMeetingRoleID].Seat)
}

func TestHostOnlyEventsIgnoredFromPlayers(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Villager)
	coord, _ := newTestCoordinator(t, room)

	post(coord, "uid-0", models.MsgStartGame, nil)
	assert.Equal(t, models.RoomStatusReady, room.Status)
}

func TestHelloRejoinMidNight(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Witch, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake) // night begin
	respondToCue(t, coord, busFake)
	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: intPtr(2)})
	respondToCue(t, coord, busFake)
	respondToCue(t, coord, busFake) // witch role begin, context sent

	// The witch reconnects mid-step.
	post(coord, "uid-1", models.MsgHello, models.HelloPayload{UID: "uid-1", RoomCode: room.Code})

	welcome, ok := busFake.lastPrivate("uid-1", models.MsgWelcomeBack)
	require.True(t, ok)
	payload := welcome.Payload.(models.WelcomeBackPayload)
	assert.Equal(t, 1, payload.Seat)
	assert.Equal(t, roles.Witch, payload.RoleID)
	assert.Equal(t, models.RoomStatusOngoing, payload.State.Status)
	require.Len(t, payload.MissedMessages, 1)
	assert.Equal(t, models.MsgWitchContext, payload.MissedMessages[0].Type)

	// The open turn is replayed so the client knows whose step it is.
	turn, ok := busFake.lastPrivate("uid-1", models.MsgRoleTurn)
	require.True(t, ok)
	assert.Equal(t, roles.Witch, turn.Payload.(models.RoleTurnPayload).RoleID)
}

func TestResetMidNight(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Seer, roles.Villager)
	coord, busFake := newTestCoordinator(t, room)

	hostPost(coord, models.MsgStartGame)
	respondToCue(t, coord, busFake)
	respondToCue(t, coord, busFake)
	post(coord, "uid-0", models.MsgWolfVote, models.WolfVotePayload{TargetSeat: intPtr(2)})

	hostPost(coord, models.MsgReset)
	assert.Equal(t, models.RoomStatusReady, room.Status)
	assert.Nil(t, room.Plan)
	assert.Empty(t, room.Actions)
	assert.Equal(t, PhaseIdle, coord.flow.Phase())

	// A reset room can run another night.
	hostPost(coord, models.MsgStartGame)
	assert.Equal(t, models.RoomStatusOngoing, room.Status)
}

func TestSnapshotQueueKeepsNewest(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Villager)
	coord, _ := newTestCoordinator(t, room)
	ctx := context.Background()

	coord.saveSnapshot(ctx)
	room.LastProtectedSeat = 1
	coord.saveSnapshot(ctx)

	// With the writer idle, two saves collapse into one pending snapshot,
	// and it is the newest one.
	select {
	case data := <-coord.snapCh:
		restored, err := RestoreRoomState(data)
		require.NoError(t, err)
		assert.Equal(t, 1, restored.LastProtectedSeat)
	default:
		t.Fatal("no snapshot queued")
	}
	select {
	case <-coord.snapCh:
		t.Fatal("stale snapshot left behind the newest one")
	default:
	}
}

func TestEndRoomDropsQueuedSnapshot(t *testing.T) {
	room := newTestRoom(t, roles.Wolf, roles.Villager)
	coord, _ := newTestCoordinator(t, room)

	coord.saveSnapshot(context.Background())
	hostPost(coord, models.MsgEndRoom)

	// The host-driven end deletes the stored snapshot and clears the queue,
	// so nothing can resurrect the room's key.
	select {
	case <-coord.snapCh:
		t.Fatal("queued snapshot survived the room's end")
	default:
	}
	_, err := coord.store.Load(context.Background(), room.Code)
	assert.Error(t, err)
}
