// internal/room/manager.go
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
)

var (
	ErrNotFound   = errors.New("room not found")
	ErrNotWaiting = errors.New("room is not accepting this operation")
	ErrRoomFull   = errors.New("room is full")
	ErrNotCreator = errors.New("only the room creator may do this")
	ErrBadFee     = errors.New("entry fee out of bounds for room type")
	ErrBalanceLow = errors.New("creator balance below hero room threshold")
)

// Broadcaster fans an event out to every live connection in a room. Sends are
// fire-and-forget; implementations must never block the caller.
type Broadcaster interface {
	BroadcastRoom(roomID uuid.UUID, env models.Envelope)
}

// StartRequest is the frozen snapshot handed to the game engine the instant a
// room goes active. PrizePool is fixed here and never recomputed.
type StartRequest struct {
	RoomID    uuid.UUID
	RoomType  models.RoomType
	EntryFee  decimal.Decimal
	Duration  time.Duration
	Players   []uuid.UUID
	Observers []uuid.UUID
	PrizePool decimal.Decimal
}

// GameStarter launches a game for an active room and returns its id.
type GameStarter func(req StartRequest) uuid.UUID

// GameCanceller tears down a running game without settlement (room deleted
// mid-game). A nil-safe no-op when no game is running.
type GameCanceller func(gameID uuid.UUID)

// Config bounds room creation per type and supplies lifecycle defaults.
type Config struct {
	StandardFeeMin decimal.Decimal
	StandardFeeMax decimal.Decimal
	HeroFeeMin     decimal.Decimal
	HeroFeeMax     decimal.Decimal

	// HeroMinBalance is the creation threshold a hero creator's balance must meet.
	HeroMinBalance decimal.Decimal

	StandardCapacity    int
	StandardMaxCapacity int
	HeroMaxCapacity     int

	WaitingPeriod time.Duration
	GameDuration  time.Duration

	// BonusDuration is the fixed long window for bonus challenges.
	BonusDuration time.Duration
}

// DefaultConfig mirrors the production bounds.
func DefaultConfig() Config {
	return Config{
		StandardFeeMin:      decimal.NewFromInt(1),
		StandardFeeMax:      decimal.NewFromInt(100),
		HeroFeeMin:          decimal.NewFromInt(1),
		HeroFeeMax:          decimal.NewFromInt(10000),
		HeroMinBalance:      decimal.NewFromInt(100),
		StandardCapacity:    2,
		StandardMaxCapacity: 10,
		HeroMaxCapacity:     50,
		WaitingPeriod:       60 * time.Second,
		GameDuration:        30 * time.Second,
		BonusDuration:       24 * time.Hour,
	}
}

// Manager is the room directory and the owner of every room's lifecycle.
// Lock ordering is always manager -> room, never the reverse.
type Manager struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]*Room
	byCode map[string]*Room

	ledger      *ledger.Ledger
	broadcaster Broadcaster
	startGame   GameStarter
	cancelGame  GameCanceller

	cfg    Config
	logger *logrus.Logger
}

func NewManager(cfg Config, l *ledger.Ledger, b Broadcaster, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		rooms:       make(map[uuid.UUID]*Room),
		byCode:      make(map[string]*Room),
		ledger:      l,
		broadcaster: b,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetGameHooks wires the engine in after construction; the engine needs the
// manager for its end-of-game callback, so the two are tied together by the
// composition root rather than by either constructor.
func (m *Manager) SetGameHooks(start GameStarter, cancel GameCanceller) {
	m.startGame = start
	m.cancelGame = cancel
}

// Create allocates a room in waiting state and arms its lifecycle timer.
// Bonus rooms skip waiting entirely and start their game immediately.
func (m *Manager) Create(ctx context.Context, creator uuid.UUID, typ models.RoomType, entryFee decimal.Decimal, capacity int) (*Room, error) {
	if entryFee.IsNegative() {
		return nil, ErrBadFee
	}
	switch typ {
	case models.RoomStandard:
		if entryFee.LessThan(m.cfg.StandardFeeMin) || entryFee.GreaterThan(m.cfg.StandardFeeMax) {
			return nil, ErrBadFee
		}
		if capacity <= 0 {
			capacity = m.cfg.StandardCapacity
		}
		if capacity > m.cfg.StandardMaxCapacity {
			capacity = m.cfg.StandardMaxCapacity
		}
	case models.RoomHero:
		if entryFee.LessThan(m.cfg.HeroFeeMin) || entryFee.GreaterThan(m.cfg.HeroFeeMax) {
			return nil, ErrBadFee
		}
		bal, err := m.ledger.Balance(ctx, creator)
		if err != nil {
			return nil, fmt.Errorf("hero creation balance check: %w", err)
		}
		if bal.LessThan(m.cfg.HeroMinBalance) {
			return nil, ErrBalanceLow
		}
		if capacity <= 0 || capacity > m.cfg.HeroMaxCapacity {
			capacity = m.cfg.HeroMaxCapacity
		}
	case models.RoomBonus:
		capacity = 1
	default:
		return nil, fmt.Errorf("unknown room type %q", typ)
	}

	r := &Room{
		ID:            uuid.New(),
		CreatorID:     creator,
		Type:          typ,
		EntryFee:      entryFee,
		Capacity:      capacity,
		Status:        models.RoomWaiting,
		WaitingPeriod: m.cfg.WaitingPeriod,
		GameDuration:  m.cfg.GameDuration,
		CreatedAt:     time.Now(),
		Participants:  make(map[uuid.UUID]*models.Participant),
	}

	m.mu.Lock()
	if typ == models.RoomHero {
		code, err := m.generateJoinCodeUnsafe()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		r.JoinCode = code
		m.byCode[code] = r
	}
	m.rooms[r.ID] = r
	m.mu.Unlock()

	switch typ {
	case models.RoomHero:
		r.Mu.Lock()
		r.autoDeleteTimer = time.AfterFunc(r.WaitingPeriod, func() { m.handleAutoDelete(r) })
		r.Mu.Unlock()
	case models.RoomBonus:
		// Bonus challenges have no waiting period; the creator races the
		// clock alone against a fixed goal.
		r.Mu.Lock()
		r.GameDuration = m.cfg.BonusDuration
		r.Participants[creator] = &models.Participant{
			RoomID: r.ID, UserID: creator, JoinedAt: time.Now(),
		}
		req := m.beginActiveUnsafe(r)
		r.Mu.Unlock()
		m.launch(r, req)
	default:
		r.Mu.Lock()
		r.waitingTimer = time.AfterFunc(r.WaitingPeriod, func() { m.handleWaitingExpiry(r) })
		r.Mu.Unlock()
	}

	m.logger.WithFields(logrus.Fields{
		"room": r.ID, "type": typ, "fee": entryFee, "capacity": capacity,
	}).Info("room created")
	return r, nil
}

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateJoinCodeUnsafe returns a 6-char code not held by any live room.
// Assumes the manager lock is held.
func (m *Manager) generateJoinCodeUnsafe() (string, error) {
	for attempt := 0; attempt < 32; attempt++ {
		buf := make([]byte, 6)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeAlphabet))))
			if err != nil {
				return "", fmt.Errorf("join code generation: %w", err)
			}
			buf[i] = joinCodeAlphabet[n.Int64()]
		}
		code := string(buf)
		if _, taken := m.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique join code")
}

// Get returns a live room by id.
func (m *Manager) Get(id uuid.UUID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// ByCode looks up a hero room by its join code.
func (m *Manager) ByCode(code string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byCode[code]
	return r, ok
}

// List snapshots every live room. Debugging aid.
func (m *Manager) List() []models.RoomInfo {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	out := make([]models.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}

// FindAvailable scans waiting standard rooms with the given fee and a free
// capacity slot. First match wins; discovery order is not fair.
func (m *Manager) FindAvailable(typ models.RoomType, entryFee decimal.Decimal) (*Room, bool) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Mu.Lock()
		ok := r.Type == typ && r.Status == models.RoomWaiting &&
			r.EntryFee.Equal(entryFee) && r.payingCountUnsafe() < r.Capacity
		r.Mu.Unlock()
		if ok {
			return r, true
		}
	}
	return nil, false
}

// AutoJoin finds a waiting standard room for the fee or creates one, then
// joins the user to it.
func (m *Manager) AutoJoin(ctx context.Context, userID uuid.UUID, entryFee decimal.Decimal) (*Room, error) {
	r, ok := m.FindAvailable(models.RoomStandard, entryFee)
	if !ok {
		var err error
		r, err = m.Create(ctx, userID, models.RoomStandard, entryFee, 0)
		if err != nil {
			return nil, err
		}
	}
	if err := m.Join(ctx, r.ID, userID, false); err != nil {
		return nil, err
	}
	return r, nil
}

// Join adds a user to a waiting room, debiting the entry fee first for paying
// participants. A duplicate join is a no-op success. The debit happens with no
// room lock held; the room is re-validated afterwards and the fee refunded if
// the room moved on in the meantime.
func (m *Manager) Join(ctx context.Context, roomID, userID uuid.UUID, asObserver bool) error {
	r, ok := m.Get(roomID)
	if !ok {
		return ErrNotFound
	}

	r.Mu.Lock()
	if r.Status != models.RoomWaiting {
		r.Mu.Unlock()
		return ErrNotWaiting
	}
	if _, dup := r.Participants[userID]; dup {
		r.Mu.Unlock()
		return nil
	}
	if !asObserver && r.payingCountUnsafe() >= r.Capacity {
		r.Mu.Unlock()
		return ErrRoomFull
	}
	paysFee := !asObserver && r.EntryFee.IsPositive() &&
		!(r.Type == models.RoomHero && userID == r.CreatorID)
	fee := r.EntryFee
	r.Mu.Unlock()

	if paysFee {
		if err := m.ledger.Debit(ctx, userID, fee, models.TxEntry, "entry fee for room "+roomID.String()); err != nil {
			return err
		}
	}

	r.Mu.Lock()
	// Re-validate: the room may have started, finished, or filled while the
	// debit was in flight.
	if r.Status != models.RoomWaiting {
		r.Mu.Unlock()
		m.refund(ctx, userID, fee, paysFee, roomID)
		return ErrNotWaiting
	}
	if _, dup := r.Participants[userID]; dup {
		r.Mu.Unlock()
		m.refund(ctx, userID, fee, paysFee, roomID)
		return nil
	}
	if !asObserver && r.payingCountUnsafe() >= r.Capacity {
		r.Mu.Unlock()
		m.refund(ctx, userID, fee, paysFee, roomID)
		return ErrRoomFull
	}

	r.Participants[userID] = &models.Participant{
		RoomID:   roomID,
		UserID:   userID,
		Observer: asObserver,
		Paid:     paysFee,
		JoinedAt: time.Now(),
	}

	full := !asObserver && r.payingCountUnsafe() >= r.Capacity
	var req StartRequest
	if full {
		req = m.beginActiveUnsafe(r)
	}
	info := r.InfoUnsafe()
	r.Mu.Unlock()

	m.broadcast(roomID, models.NewEvent(models.MsgPlayerJoin, roomID, map[string]interface{}{
		"user_id":  userID,
		"observer": asObserver,
	}))
	m.broadcast(roomID, models.NewEvent(models.MsgRoomUpdate, roomID, info))

	if full {
		m.launch(r, req)
	}
	return nil
}

// refund reverses an entry-fee debit when a join loses its race.
func (m *Manager) refund(ctx context.Context, userID uuid.UUID, fee decimal.Decimal, paid bool, roomID uuid.UUID) {
	if !paid {
		return
	}
	if err := m.ledger.Credit(ctx, userID, fee, models.TxRefund, "refund entry fee for room "+roomID.String()); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"room": roomID, "user": userID,
		}).Error("failed to refund entry fee")
	}
}

// beginActiveUnsafe flips the room to active, cancels timers, and freezes the
// start snapshot including the prize pool. Assumes the room lock is held.
func (m *Manager) beginActiveUnsafe(r *Room) StartRequest {
	r.cancelTimersUnsafe()
	r.Status = models.RoomActive

	req := StartRequest{
		RoomID:   r.ID,
		RoomType: r.Type,
		EntryFee: r.EntryFee,
		Duration: r.GameDuration,
	}
	paying := 0
	for _, p := range r.Participants {
		if p.Observer {
			req.Observers = append(req.Observers, p.UserID)
			continue
		}
		req.Players = append(req.Players, p.UserID)
		if p.Paid {
			paying++
		}
	}
	req.PrizePool = r.EntryFee.Mul(decimal.NewFromInt(int64(paying)))
	return req
}

// launch starts the game engine for an already-active room and records the
// game id on the room. Called with no locks held.
func (m *Manager) launch(r *Room, req StartRequest) {
	if m.startGame == nil {
		m.logger.WithField("room", r.ID).Error("no game starter wired; room stuck active")
		return
	}
	gameID := m.startGame(req)
	r.Mu.Lock()
	r.GameID = gameID
	r.Mu.Unlock()
	m.logger.WithFields(logrus.Fields{
		"room": r.ID, "game": gameID, "prize_pool": req.PrizePool,
	}).Info("game started")
}

// Leave removes a user from a waiting room. A leaving creator tears the whole
// room down, refunding every paying participant exactly once.
func (m *Manager) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	r, ok := m.Get(roomID)
	if !ok {
		return ErrNotFound
	}

	r.Mu.Lock()
	if r.Status != models.RoomWaiting {
		r.Mu.Unlock()
		return ErrNotWaiting
	}
	p, present := r.Participants[userID]
	if !present {
		r.Mu.Unlock()
		return ErrNotFound
	}

	if userID == r.CreatorID {
		refundees := r.paidParticipantsUnsafe()
		r.cancelTimersUnsafe()
		r.Status = models.RoomFinished
		fee := r.EntryFee
		r.Participants = make(map[uuid.UUID]*models.Participant)
		r.Mu.Unlock()

		for _, uid := range refundees {
			m.refund(ctx, uid, fee, true, roomID)
		}
		m.broadcast(roomID, models.NewEvent(models.MsgRoomDeleted, roomID, map[string]interface{}{
			"room_id": roomID, "reason": "creator left",
		}))
		m.remove(r)
		return nil
	}

	paid := p.Paid
	fee := r.EntryFee
	delete(r.Participants, userID)
	empty := len(r.Participants) == 0
	if empty {
		r.cancelTimersUnsafe()
		r.Status = models.RoomFinished
	}
	info := r.InfoUnsafe()
	r.Mu.Unlock()

	m.refund(ctx, userID, fee, paid, roomID)
	m.broadcast(roomID, models.NewEvent(models.MsgPlayerLeave, roomID, map[string]interface{}{
		"user_id": userID,
	}))
	m.broadcast(roomID, models.NewEvent(models.MsgRoomUpdate, roomID, info))
	if empty {
		m.remove(r)
	}
	return nil
}

// Delete tears a room down on the creator's request. Permitted any time
// before settlement; a running game is cancelled without a payout and every
// paying participant is refunded.
func (m *Manager) Delete(ctx context.Context, roomID, requester uuid.UUID) error {
	r, ok := m.Get(roomID)
	if !ok {
		return ErrNotFound
	}

	r.Mu.Lock()
	if requester != r.CreatorID {
		r.Mu.Unlock()
		return ErrNotCreator
	}
	if r.Status == models.RoomFinished {
		r.Mu.Unlock()
		return ErrNotWaiting
	}
	refundees := r.paidParticipantsUnsafe()
	fee := r.EntryFee
	gameID := r.GameID
	wasActive := r.Status == models.RoomActive
	r.cancelTimersUnsafe()
	r.Status = models.RoomFinished
	r.Participants = make(map[uuid.UUID]*models.Participant)
	r.Mu.Unlock()

	if wasActive && m.cancelGame != nil && gameID != uuid.Nil {
		m.cancelGame(gameID)
	}
	for _, uid := range refundees {
		m.refund(ctx, uid, fee, true, roomID)
	}
	m.broadcast(roomID, models.NewEvent(models.MsgRoomDeleted, roomID, map[string]interface{}{
		"room_id": roomID, "reason": "deleted by creator",
	}))
	m.remove(r)
	return nil
}

// FinishRoom is the engine's end-of-game callback: mark the room finished and
// drop it from the directory. Idempotent.
func (m *Manager) FinishRoom(roomID, gameID uuid.UUID) {
	r, ok := m.Get(roomID)
	if !ok {
		return
	}
	r.Mu.Lock()
	if r.Status == models.RoomFinished {
		r.Mu.Unlock()
		return
	}
	r.cancelTimersUnsafe()
	r.Status = models.RoomFinished
	r.Mu.Unlock()
	m.remove(r)
}

// handleWaitingExpiry fires when a standard room's waiting period lapses:
// start with whoever is present, or finish an empty room.
func (m *Manager) handleWaitingExpiry(r *Room) {
	r.Mu.Lock()
	if r.Status != models.RoomWaiting {
		// Cancelled or superseded; cancellation is best-effort so a late
		// fire lands here.
		r.Mu.Unlock()
		return
	}
	r.waitingTimer = nil

	if r.payingCountUnsafe() == 0 {
		r.Status = models.RoomFinished
		info := r.InfoUnsafe()
		r.Mu.Unlock()
		m.broadcast(r.ID, models.NewEvent(models.MsgRoomUpdate, r.ID, info))
		m.remove(r)
		return
	}

	req := m.beginActiveUnsafe(r)
	info := r.InfoUnsafe()
	r.Mu.Unlock()

	m.broadcast(r.ID, models.NewEvent(models.MsgRoomUpdate, r.ID, info))
	m.launch(r, req)
}

// handleAutoDelete fires for hero rooms that never filled: refund everyone,
// delete the room, announce the deletion. No-op if the room already started.
func (m *Manager) handleAutoDelete(r *Room) {
	r.Mu.Lock()
	if r.Status != models.RoomWaiting {
		r.Mu.Unlock()
		return
	}
	r.autoDeleteTimer = nil
	refundees := r.paidParticipantsUnsafe()
	fee := r.EntryFee
	r.Status = models.RoomFinished
	r.Participants = make(map[uuid.UUID]*models.Participant)
	r.Mu.Unlock()

	ctx := context.Background()
	for _, uid := range refundees {
		m.refund(ctx, uid, fee, true, r.ID)
	}
	m.broadcast(r.ID, models.NewEvent(models.MsgRoomDeleted, r.ID, map[string]interface{}{
		"room_id": r.ID, "reason": "waiting period expired",
	}))
	m.remove(r)
	m.logger.WithField("room", r.ID).Info("hero room auto-deleted")
}

// remove drops the room from the directory maps.
func (m *Manager) remove(r *Room) {
	m.mu.Lock()
	delete(m.rooms, r.ID)
	if r.JoinCode != "" {
		delete(m.byCode, r.JoinCode)
	}
	m.mu.Unlock()
}

func (m *Manager) broadcast(roomID uuid.UUID, env models.Envelope) {
	if m.broadcaster != nil {
		m.broadcaster.BroadcastRoom(roomID, env)
	}
}
