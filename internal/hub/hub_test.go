package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taprush/taprush/internal/anticheat"
	"github.com/taprush/taprush/internal/game"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
	"github.com/taprush/taprush/internal/room"
)

func newWiredHub(t *testing.T, balances map[uuid.UUID]int64) (*Hub, *room.Manager, *game.Engine, *ledger.Ledger) {
	t.Helper()
	store := ledger.NewMemoryStore()
	for uid, bal := range balances {
		store.SetBalance(uid, decimal.NewFromInt(bal))
	}
	l := ledger.New(store, nil)

	h := New(nil)
	cfg := room.DefaultConfig()
	cfg.WaitingPeriod = time.Hour
	cfg.GameDuration = time.Hour
	m := room.NewManager(cfg, l, h, nil)
	e := game.NewEngine(l, anticheat.NewMonitor(50, 3, 60, nil), h, nil)
	m.SetGameHooks(e.Start, e.Cancel)
	e.SetOnEnd(m.FinishRoom)
	h.Wire(m, e)
	return h, m, e, l
}

func joinEnvelope(roomID uuid.UUID, observer bool) models.Envelope {
	data, _ := json.Marshal(models.JoinRoomData{AsObserver: observer})
	return models.Envelope{Type: models.MsgJoinRoom, RoomID: roomID, Data: data}
}

func tapEnvelope(count int) models.Envelope {
	data, _ := json.Marshal(models.TapData{Count: count})
	return models.Envelope{Type: models.MsgTap, Data: data}
}

func drain(c *Connection) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case env := <-c.OutChan:
			out = append(out, env)
		default:
			return out
		}
	}
}

func typesOf(envs []models.Envelope) []models.MessageType {
	var out []models.MessageType
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func TestJoinRouteSubscribesAndBroadcasts(t *testing.T) {
	alice := uuid.New()
	h, m, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, alice, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	conn := h.Register(alice, func() {})
	h.Route(ctx, conn, joinEnvelope(r.ID, false))

	assert.Equal(t, r.ID, conn.Room())
	types := typesOf(drain(conn))
	assert.Contains(t, types, models.MsgPlayerJoin, "the joiner must see their own join")
	assert.Contains(t, types, models.MsgRoomUpdate)
}

func TestFailedJoinUnsubscribesAndReportsError(t *testing.T) {
	alice := uuid.New()
	h, _, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100})

	conn := h.Register(alice, func() {})
	h.Route(context.Background(), conn, joinEnvelope(uuid.New(), false))

	assert.Equal(t, uuid.Nil, conn.Room())
	types := typesOf(drain(conn))
	assert.Equal(t, []models.MessageType{models.MsgError}, types)
}

func TestTapRoutesIntoRunningGame(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	h, m, e, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100, bob: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, alice, models.RoomStandard, decimal.NewFromInt(10), 2)
	require.NoError(t, err)

	ca := h.Register(alice, func() {})
	cb := h.Register(bob, func() {})
	h.Route(ctx, ca, joinEnvelope(r.ID, false))
	h.Route(ctx, cb, joinEnvelope(r.ID, false)) // fills the room, game starts

	g, ok := e.GameForRoom(r.ID)
	require.True(t, ok, "the game must be running after the room fills")

	drain(ca)
	drain(cb)
	h.Route(ctx, ca, tapEnvelope(5))

	assert.Equal(t, 5, g.Totals()[alice])
	// Both members see the tap fan-out.
	assert.Contains(t, typesOf(drain(ca)), models.MsgTap)
	assert.Contains(t, typesOf(drain(cb)), models.MsgTap)
}

func TestNewestConnectionWins(t *testing.T) {
	alice := uuid.New()
	h, _, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100})

	oldCancelled := false
	oldConn := h.Register(alice, func() { oldCancelled = true })
	newConn := h.Register(alice, func() {})

	assert.True(t, oldCancelled, "the older session must be torn down")
	current, ok := h.ConnectionFor(alice)
	require.True(t, ok)
	assert.Same(t, newConn, current)

	// Unregistering the stale instance must not evict the new one.
	h.Unregister(oldConn)
	current, ok = h.ConnectionFor(alice)
	require.True(t, ok)
	assert.Same(t, newConn, current)
}

func TestDisconnectDuringWaitingLeavesRoom(t *testing.T) {
	creator, joiner := uuid.New(), uuid.New()
	h, m, _, l := newWiredHub(t, map[uuid.UUID]int64{creator: 100, joiner: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, creator, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	cc := h.Register(creator, func() {})
	cj := h.Register(joiner, func() {})
	h.Route(ctx, cc, joinEnvelope(r.ID, false))
	h.Route(ctx, cj, joinEnvelope(r.ID, false))

	h.Unregister(cj)

	info := r.Info()
	assert.Len(t, info.Participants, 1, "a dropped connection leaves the waiting room")
	bal, err := l.Balance(ctx, joiner)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)), "the fee must come back on disconnect")
}

func TestDisconnectLeavesEveryJoinedRoom(t *testing.T) {
	creatorA, creatorB, joiner := uuid.New(), uuid.New(), uuid.New()
	h, m, _, l := newWiredHub(t, map[uuid.UUID]int64{creatorA: 100, creatorB: 100, joiner: 100})

	ctx := context.Background()
	ra, err := m.Create(ctx, creatorA, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)
	rb, err := m.Create(ctx, creatorB, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	ca := h.Register(creatorA, func() {})
	cb := h.Register(creatorB, func() {})
	cj := h.Register(joiner, func() {})
	h.Route(ctx, ca, joinEnvelope(ra.ID, false))
	h.Route(ctx, cb, joinEnvelope(rb.ID, false))
	h.Route(ctx, cj, joinEnvelope(ra.ID, false))
	h.Route(ctx, cj, joinEnvelope(rb.ID, false))
	require.Len(t, cj.Rooms(), 2)

	h.Unregister(cj)

	infoA, infoB := ra.Info(), rb.Info()
	require.Len(t, infoA.Participants, 1, "the first room must also see the leave")
	require.Len(t, infoB.Participants, 1)
	assert.Equal(t, creatorA, infoA.Participants[0].UserID)
	assert.Equal(t, creatorB, infoB.Participants[0].UserID)
	assert.Empty(t, cj.Rooms())

	bal, err := l.Balance(ctx, joiner)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)), "both fees must come back on disconnect")
}

func TestRoomDeletedClearsMembership(t *testing.T) {
	creator, joiner := uuid.New(), uuid.New()
	h, m, _, _ := newWiredHub(t, map[uuid.UUID]int64{creator: 100, joiner: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, creator, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	cc := h.Register(creator, func() {})
	cj := h.Register(joiner, func() {})
	h.Route(ctx, cc, joinEnvelope(r.ID, false))
	h.Route(ctx, cj, joinEnvelope(r.ID, false))

	require.NoError(t, m.Delete(ctx, r.ID, creator))

	assert.Contains(t, typesOf(drain(cj)), models.MsgRoomDeleted)
	assert.Equal(t, uuid.Nil, cj.Room(), "membership must be cleared on deletion")
	assert.Equal(t, uuid.Nil, cc.Room())
}

func TestReactionRelaysToRoom(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	h, m, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100, bob: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, alice, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	ca := h.Register(alice, func() {})
	cb := h.Register(bob, func() {})
	h.Route(ctx, ca, joinEnvelope(r.ID, false))
	h.Route(ctx, cb, joinEnvelope(r.ID, true))
	drain(ca)
	drain(cb)

	data, _ := json.Marshal(models.ReactionData{ToUserID: bob, Reaction: "fire"})
	h.Route(ctx, ca, models.Envelope{Type: models.MsgPlayerReaction, Data: data})

	got := drain(cb)
	require.NotEmpty(t, got)
	assert.Equal(t, models.MsgPlayerReaction, got[0].Type)
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	alice := uuid.New()
	h, m, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100})

	ctx := context.Background()
	r, err := m.Create(ctx, alice, models.RoomStandard, decimal.NewFromInt(10), 4)
	require.NoError(t, err)

	conn := h.Register(alice, func() {})
	h.Route(ctx, conn, joinEnvelope(r.ID, false))

	// Nothing reads OutChan; flooding must never block the broadcaster.
	done := make(chan struct{})
	go func() {
		for i := 0; i < outChanSize*4; i++ {
			h.BroadcastRoom(r.ID, models.NewEvent(models.MsgRoomUpdate, r.ID, nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestBadPayloadsComeBackAsErrors(t *testing.T) {
	alice := uuid.New()
	h, _, _, _ := newWiredHub(t, map[uuid.UUID]int64{alice: 100})
	conn := h.Register(alice, func() {})
	ctx := context.Background()

	h.Route(ctx, conn, models.Envelope{Type: models.MsgJoinRoom}) // missing room id
	h.Route(ctx, conn, tapEnvelope(0))                            // zero count
	h.Route(ctx, conn, models.Envelope{Type: "bogus"})

	types := typesOf(drain(conn))
	require.Len(t, types, 3)
	for _, typ := range types {
		assert.Equal(t, models.MsgError, typ)
	}
}
