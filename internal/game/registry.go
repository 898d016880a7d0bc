package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kazerdira/nighthost/internal/config"
	"github.com/kazerdira/nighthost/internal/models"
)

var (
	ErrRoomNotFound  = fmt.Errorf("room not found")
	ErrRoomCodeSpace = fmt.Errorf("no free room code available")
	ErrWrongPassword = fmt.Errorf("wrong room password")
)

type roomEntry struct {
	coord        *Coordinator
	passwordHash []byte
	cancel       context.CancelFunc
}

// Registry owns every live room: creation, lookup by 4-digit code, private
// room passwords, boot-time rehydration, and the idle janitor.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry

	bus     Bus
	store   SnapshotStore
	journal Journal
	cfg     config.GameConfig
	logger  *zap.Logger
	rng     *rand.Rand
	rngMu   sync.Mutex
}

func NewRegistry(bus Bus, store SnapshotStore, journal Journal, cfg config.GameConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:   make(map[string]*roomEntry),
		bus:     bus,
		store:   store,
		journal: journal,
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom allocates a fresh code, starts the room's coordinator, and
// returns the code. A non-empty password makes the room private.
func (reg *Registry) CreateRoom(ctx context.Context, hostUID string, template models.Template, password string) (string, error) {
	if len(template.Roles) == 0 {
		return "", fmt.Errorf("template has no roles")
	}

	var passwordHash []byte
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash room password: %w", err)
		}
		passwordHash = hash
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, err := reg.freeCodeLocked()
	if err != nil {
		return "", err
	}

	room := NewRoomState(code, hostUID, template)
	reg.startLocked(ctx, room, passwordHash)
	reg.logger.Info("room created",
		zap.String("room_code", code),
		zap.String("host_uid", hostUID),
		zap.Int("player_count", room.Template.PlayerCount))
	return code, nil
}

// Get returns the live coordinator for a code.
func (reg *Registry) Get(code string) (*Coordinator, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	entry, ok := reg.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return entry.coord, nil
}

// CheckPassword verifies room access. Public rooms accept anything.
func (reg *Registry) CheckPassword(code, password string) error {
	reg.mu.RLock()
	entry, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return ErrRoomNotFound
	}
	if len(entry.passwordHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(entry.passwordHash, []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// Count is the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// RoomListing is one entry of the public room list.
type RoomListing struct {
	RoomCode string `json:"room_code"`
	Private  bool   `json:"private"`
}

// List enumerates live rooms for the lobby browser.
func (reg *Registry) List() []RoomListing {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	listings := make([]RoomListing, 0, len(reg.rooms))
	for code, entry := range reg.rooms {
		listings = append(listings, RoomListing{
			RoomCode: code,
			Private:  len(entry.passwordHash) > 0,
		})
	}
	return listings
}

// Rehydrate loads every snapshot in the store's live set and restarts its
// room. Unreadable snapshots are dropped from the store and logged.
func (reg *Registry) Rehydrate(ctx context.Context) {
	codes, err := reg.store.ListLive(ctx)
	if err != nil {
		reg.logger.Warn("failed to list live rooms for rehydration", zap.Error(err))
		return
	}
	restored := 0
	for _, code := range codes {
		data, err := reg.store.Load(ctx, code)
		if err != nil {
			reg.logger.Warn("failed to load snapshot", zap.String("room_code", code), zap.Error(err))
			continue
		}
		room, err := RestoreRoomState(data)
		if err != nil {
			reg.logger.Warn("dropping unreadable snapshot", zap.String("room_code", code), zap.Error(err))
			_ = reg.store.Delete(ctx, code)
			continue
		}
		reg.mu.Lock()
		if _, exists := reg.rooms[code]; !exists {
			// Passwords do not survive a restart; rehydrated rooms are open.
			reg.startLocked(ctx, room, nil)
			restored++
		}
		reg.mu.Unlock()
	}
	if restored > 0 {
		reg.logger.Info("rooms rehydrated from store", zap.Int("count", restored))
	}
}

// RunJanitor closes rooms idle longer than the configured window. Blocks
// until ctx is cancelled.
func (reg *Registry) RunJanitor(ctx context.Context) {
	if reg.cfg.RoomIdleMinutes <= 0 {
		return
	}
	idle := time.Duration(reg.cfg.RoomIdleMinutes) * time.Minute
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)
			for _, coord := range reg.liveCoordinators() {
				if coord.LastActive().Before(cutoff) {
					reg.logger.Info("closing idle room", zap.String("room_code", coord.Code()))
					coord.Stop()
				}
			}
		}
	}
}

// Shutdown stops every room loop. Snapshots stay in the store so rooms come
// back on the next boot.
func (reg *Registry) Shutdown() {
	for _, coord := range reg.liveCoordinators() {
		coord.Stop()
	}
}

func (reg *Registry) liveCoordinators() []*Coordinator {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	coords := make([]*Coordinator, 0, len(reg.rooms))
	for _, entry := range reg.rooms {
		coords = append(coords, entry.coord)
	}
	return coords
}

// startLocked wires a coordinator and launches its loop. Caller holds mu.
func (reg *Registry) startLocked(ctx context.Context, room *RoomState, passwordHash []byte) {
	runCtx, cancel := context.WithCancel(ctx)
	coord := NewCoordinator(room, Deps{
		Bus:     reg.bus,
		Store:   reg.store,
		Journal: reg.journal,
		Cfg:     reg.cfg,
		Logger:  reg.logger,
		Rng:     reg.newRoomRng(),
		OnClose: reg.remove,
	})
	reg.rooms[room.Code] = &roomEntry{coord: coord, passwordHash: passwordHash, cancel: cancel}
	go coord.Run(runCtx)
}

func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	entry, ok := reg.rooms[code]
	if ok {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()
	if ok {
		entry.cancel()
		reg.logger.Info("room removed", zap.String("room_code", code))
	}
}

// freeCodeLocked picks an unused 4-digit code. Caller holds mu.
func (reg *Registry) freeCodeLocked() (string, error) {
	if len(reg.rooms) >= 10000 {
		return "", ErrRoomCodeSpace
	}
	for attempt := 0; attempt < 100; attempt++ {
		code := fmt.Sprintf("%04d", reg.rng.Intn(10000))
		if _, taken := reg.rooms[code]; !taken {
			return code, nil
		}
	}
	// Dense code space: fall back to a linear scan.
	for n := 0; n < 10000; n++ {
		code := fmt.Sprintf("%04d", n)
		if _, taken := reg.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrRoomCodeSpace
}

func (reg *Registry) newRoomRng() *rand.Rand {
	reg.rngMu.Lock()
	defer reg.rngMu.Unlock()
	return rand.New(rand.NewSource(reg.rng.Int63()))
}
