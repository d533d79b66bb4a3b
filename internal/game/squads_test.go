package game_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tapsquad/internal/game"
	"tapsquad/internal/memstore"
)

type fixture struct {
	store *memstore.Store
	svc   *game.Service
	clock *fakeClock
	ctx   context.Context
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store: store,
		svc:   game.NewService(store, logger, game.WithClock(clock.Now)),
		clock: clock,
		ctx:   context.Background(),
	}
}

func (f *fixture) player(t *testing.T, userID string) game.Player {
	t.Helper()
	p, err := f.svc.EnsurePlayer(f.ctx, userID)
	if err != nil {
		t.Fatalf("ensure player %s: %v", userID, err)
	}
	return p
}

func (f *fixture) reload(t *testing.T, p game.Player) game.Player {
	t.Helper()
	got, err := f.store.PlayerByID(f.ctx, p.ID)
	if err != nil {
		t.Fatalf("reload %s: %v", p.UserID, err)
	}
	return got
}

// checkInvariants asserts both directions of the membership relation.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	squads, err := f.store.ListSquads(f.ctx)
	if err != nil {
		t.Fatalf("list squads: %v", err)
	}
	for _, sq := range squads {
		if len(sq.Members) == 0 {
			t.Fatalf("squad %s has no members", sq.Name)
		}
		if !sq.HasMember(sq.LeaderID) {
			t.Fatalf("squad %s leader %s is not a member", sq.Name, sq.LeaderID)
		}
		for _, m := range sq.Members {
			p, err := f.store.PlayerByID(f.ctx, m.PlayerID)
			if err != nil {
				t.Fatalf("member %s: %v", m.PlayerID, err)
			}
			if p.SquadID != sq.ID {
				t.Fatalf("member %s of %s points at %q", p.UserID, sq.Name, p.SquadID)
			}
		}
	}
	dangling, err := f.store.DanglingPlayers(f.ctx)
	if err != nil {
		t.Fatalf("dangling: %v", err)
	}
	if len(dangling) != 0 {
		t.Fatalf("found %d dangling player references", len(dangling))
	}
}

func TestCreateSquadMakesSoleLeader(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "leader")

	sq, err := f.svc.CreateSquad(f.ctx, p.ID, "  Alpha ", "first squad")
	if err != nil {
		t.Fatalf("create squad: %v", err)
	}
	if sq.Name != "Alpha" || sq.LeaderID != p.ID || len(sq.Members) != 1 {
		t.Fatalf("unexpected squad: %+v", sq)
	}
	if got := f.reload(t, p); got.SquadID != sq.ID {
		t.Fatalf("player squad=%q want %q", got.SquadID, sq.ID)
	}
	f.checkInvariants(t)

	if _, err := f.svc.CreateSquad(f.ctx, p.ID, "Beta", ""); !errors.Is(err, game.ErrAlreadyInSquad) {
		t.Fatalf("second create err=%v want ErrAlreadyInSquad", err)
	}
}

func TestCreateSquadNameCollision(t *testing.T) {
	f := newFixture(t)
	p1 := f.player(t, "p1")
	p2 := f.player(t, "p2")

	if _, err := f.svc.CreateSquad(f.ctx, p1.ID, "Alpha", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CreateSquad(f.ctx, p2.ID, "Alpha", ""); !errors.Is(err, game.ErrNameTaken) {
		t.Fatalf("err=%v want ErrNameTaken", err)
	}
	if _, squads := f.store.Counts(); squads != 1 {
		t.Fatalf("squads=%d want 1", squads)
	}
	if got := f.reload(t, p2); got.InSquad() {
		t.Fatalf("rejected creator should stay unaffiliated")
	}
	f.checkInvariants(t)
}

func TestConcurrentCreateSameName(t *testing.T) {
	f := newFixture(t)
	const n = 8
	players := make([]game.Player, n)
	for i := range players {
		players[i] = f.player(t, string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, p := range players {
		wg.Add(1)
		go func(p game.Player) {
			defer wg.Done()
			_, err := f.svc.CreateSquad(f.ctx, p.ID, "Contested", "")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, game.ErrNameTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins=%d want exactly 1", wins)
	}
	f.checkInvariants(t)
}

func TestJoinSquad(t *testing.T) {
	f := newFixture(t)
	leader := f.player(t, "leader")
	joiner := f.player(t, "joiner")
	sq, _ := f.svc.CreateSquad(f.ctx, leader.ID, "Alpha", "")

	res, err := f.svc.JoinSquad(f.ctx, joiner.ID, sq.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(res.Squad.Members) != 2 || res.Player.SquadID != sq.ID {
		t.Fatalf("unexpected join result: %+v", res)
	}
	if res.Message != "Successfully joined squad: Alpha!" {
		t.Fatalf("message=%q", res.Message)
	}
	f.checkInvariants(t)

	if _, err := f.svc.JoinSquad(f.ctx, joiner.ID, sq.ID); !errors.Is(err, game.ErrAlreadyInSquad) {
		t.Fatalf("double join err=%v want ErrAlreadyInSquad", err)
	}
	after, _ := f.store.SquadByID(f.ctx, sq.ID)
	if len(after.Members) != 2 {
		t.Fatalf("members=%d want 2 after rejected join", len(after.Members))
	}
}

func TestJoinMissingSquad(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "lost")
	if _, err := f.svc.JoinSquad(f.ctx, p.ID, "does-not-exist"); !errors.Is(err, game.ErrSquadNotFound) {
		t.Fatalf("err=%v want ErrSquadNotFound", err)
	}
	if f.reload(t, p).InSquad() {
		t.Fatalf("player should stay unaffiliated")
	}
}

func TestJoinWhileInOtherSquad(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, "a")
	b := f.player(t, "b")
	sqA, _ := f.svc.CreateSquad(f.ctx, a.ID, "A-team", "")
	if _, err := f.svc.CreateSquad(f.ctx, b.ID, "B-team", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.JoinSquad(f.ctx, b.ID, sqA.ID); !errors.Is(err, game.ErrAlreadyInSquad) {
		t.Fatalf("err=%v want ErrAlreadyInSquad", err)
	}
	f.checkInvariants(t)
}

func TestLeaveLeaderSuccession(t *testing.T) {
	f := newFixture(t)
	l := f.player(t, "L")
	a := f.player(t, "A")
	b := f.player(t, "B")
	sq, _ := f.svc.CreateSquad(f.ctx, l.ID, "Succession", "")
	for _, p := range []game.Player{a, b} {
		if _, err := f.svc.JoinSquad(f.ctx, p.ID, sq.ID); err != nil {
			t.Fatalf("join %s: %v", p.UserID, err)
		}
	}

	res, err := f.svc.LeaveSquad(f.ctx, l.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Outcome != game.LeaveLeaderTransferred || res.NewLeaderID != a.ID {
		t.Fatalf("outcome=%q new leader=%q", res.Outcome, res.NewLeaderID)
	}
	if res.Message != "Successfully left squad: Succession. Leadership passed to A." {
		t.Fatalf("message=%q", res.Message)
	}

	after, err := f.store.SquadByID(f.ctx, sq.ID)
	if err != nil {
		t.Fatalf("squad should persist: %v", err)
	}
	if after.LeaderID != a.ID {
		t.Fatalf("leader=%q want A", after.LeaderID)
	}
	if ids := after.MemberIDs(); len(ids) != 2 || ids[0] != a.ID || ids[1] != b.ID {
		t.Fatalf("members=%v want [A B]", ids)
	}
	if f.reload(t, l).InSquad() {
		t.Fatalf("L should be unaffiliated")
	}
	f.checkInvariants(t)
}

func TestLeaveNonLeaderKeepsLeader(t *testing.T) {
	f := newFixture(t)
	l := f.player(t, "L")
	a := f.player(t, "A")
	sq, _ := f.svc.CreateSquad(f.ctx, l.ID, "Steady", "")
	f.svc.JoinSquad(f.ctx, a.ID, sq.ID)

	res, err := f.svc.LeaveSquad(f.ctx, a.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Outcome != game.LeavePersisted {
		t.Fatalf("outcome=%q want persisted", res.Outcome)
	}
	after, _ := f.store.SquadByID(f.ctx, sq.ID)
	if after.LeaderID != l.ID || len(after.Members) != 1 {
		t.Fatalf("unexpected squad after leave: %+v", after)
	}
	f.checkInvariants(t)
}

func TestLeaveDisbandsLastMember(t *testing.T) {
	f := newFixture(t)
	l := f.player(t, "L")
	sq, _ := f.svc.CreateSquad(f.ctx, l.ID, "Solo", "")

	res, err := f.svc.LeaveSquad(f.ctx, l.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Outcome != game.LeaveDisbanded {
		t.Fatalf("outcome=%q want disbanded", res.Outcome)
	}
	if _, err := f.store.SquadByID(f.ctx, sq.ID); !errors.Is(err, game.ErrSquadNotFound) {
		t.Fatalf("squad should be gone, err=%v", err)
	}
	if f.reload(t, l).InSquad() {
		t.Fatalf("L should be unaffiliated")
	}
	if _, err := f.svc.CreateSquad(f.ctx, l.ID, "Solo", ""); err != nil {
		t.Fatalf("name of a disbanded squad should be reusable: %v", err)
	}
	f.checkInvariants(t)
}

func TestLeaveWhenUnaffiliatedChangesNothing(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "drifter")
	before := f.reload(t, p)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.LeaveSquad(f.ctx, p.ID); !errors.Is(err, game.ErrNotInSquad) {
			t.Fatalf("attempt %d err=%v want ErrNotInSquad", i, err)
		}
	}
	after := f.reload(t, p)
	if after.SquadID != before.SquadID || after.Coins != before.Coins || !after.LastLogin.Equal(before.LastLogin) {
		t.Fatalf("state changed: before=%+v after=%+v", before, after)
	}
}

func TestDanglingReferenceSelfHeals(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "ghost")
	sq, _ := f.svc.CreateSquad(f.ctx, p.ID, "Vanishing", "")

	// Simulate a leave whose player-side write never landed.
	if _, disbanded, err := f.store.UpdateSquad(f.ctx, sq.ID, func(sq *game.Squad) error {
		sq.Members = nil
		return nil
	}); err != nil || !disbanded {
		t.Fatalf("disband: %v %v", disbanded, err)
	}
	if !f.reload(t, p).InSquad() {
		t.Fatalf("setup: expected dangling reference")
	}

	view, healed, err := f.svc.PlayerSquad(f.ctx, p.ID)
	if err != nil {
		t.Fatalf("player squad: %v", err)
	}
	if view != nil || !healed {
		t.Fatalf("view=%v healed=%v", view, healed)
	}
	if f.reload(t, p).InSquad() {
		t.Fatalf("reference should be cleared")
	}

	if _, err := f.svc.CreateSquad(f.ctx, p.ID, "Reborn", ""); err != nil {
		t.Fatalf("healed player should be free to create: %v", err)
	}
	f.checkInvariants(t)
}

func TestJoinHealsStaleReference(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "stale")
	host := f.player(t, "host")
	target, _ := f.svc.CreateSquad(f.ctx, host.ID, "Target", "")

	if _, err := f.store.UpdatePlayer(f.ctx, p.ID, func(p *game.Player) error {
		p.SquadID = "gone"
		return nil
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := f.svc.JoinSquad(f.ctx, p.ID, target.ID); err != nil {
		t.Fatalf("join after heal: %v", err)
	}
	f.checkInvariants(t)
}

func TestConcurrentJoinLeave(t *testing.T) {
	f := newFixture(t)
	leader := f.player(t, "leader")
	sq, _ := f.svc.CreateSquad(f.ctx, leader.ID, "Busy", "")

	var players []game.Player
	for i := 0; i < 10; i++ {
		players = append(players, f.player(t, "m"+string(rune('0'+i))))
	}

	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p game.Player) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				f.svc.JoinSquad(f.ctx, p.ID, sq.ID)
				f.svc.LeaveSquad(f.ctx, p.ID)
			}
		}(p)
	}
	wg.Wait()
	f.checkInvariants(t)
}

func TestSquadViews(t *testing.T) {
	f := newFixture(t)
	l := f.player(t, "L")
	a := f.player(t, "A")
	first, _ := f.svc.CreateSquad(f.ctx, l.ID, "First", "")
	f.svc.JoinSquad(f.ctx, a.ID, first.ID)
	b := f.player(t, "B")
	second, _ := f.svc.CreateSquad(f.ctx, b.ID, "Second", "")

	list, err := f.svc.ListSquads(f.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest squad first: %+v", list)
	}

	view, err := f.svc.SquadDetail(f.ctx, first.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if view.Leader == nil || view.Leader.UserID != "L" || len(view.Members) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if _, err := f.svc.SquadDetail(f.ctx, "missing"); !errors.Is(err, game.ErrSquadNotFound) {
		t.Fatalf("err=%v want ErrSquadNotFound", err)
	}

	mine, healed, err := f.svc.PlayerSquad(f.ctx, a.ID)
	if err != nil || healed || mine == nil || mine.ID != first.ID {
		t.Fatalf("mine=%+v healed=%v err=%v", mine, healed, err)
	}
}

func TestReconcileRepairsBothDirections(t *testing.T) {
	f := newFixture(t)
	l := f.player(t, "L")
	a := f.player(t, "A")
	stray := f.player(t, "stray")
	sq, _ := f.svc.CreateSquad(f.ctx, l.ID, "Repair", "")
	f.svc.JoinSquad(f.ctx, a.ID, sq.ID)

	// Orphan membership: the squad lists stray, stray points nowhere.
	joinedAt := f.clock.Now()
	f.store.UpdateSquad(f.ctx, sq.ID, func(sq *game.Squad) error {
		sq.Members = append(sq.Members, game.Member{PlayerID: stray.ID, JoinedAt: joinedAt})
		return nil
	})
	// Dangling reference: A points at a squad that no longer lists it.
	f.store.UpdateSquad(f.ctx, sq.ID, func(sq *game.Squad) error {
		game.RemoveMember(sq, a.ID)
		return nil
	})

	report, err := f.svc.Reconcile(f.ctx, time.Minute)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.HealedPlayers != 1 || report.PrunedMembers != 0 {
		t.Fatalf("within grace: %+v", report)
	}

	f.clock.Advance(2 * time.Minute)
	report, err = f.svc.Reconcile(f.ctx, time.Minute)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.PrunedMembers != 1 || report.DisbandedSquads != 0 {
		t.Fatalf("after grace: %+v", report)
	}
	f.checkInvariants(t)

	report, _ = f.svc.Reconcile(f.ctx, time.Minute)
	if report.Changed() {
		t.Fatalf("second pass should be a no-op: %+v", report)
	}
}

// faultyStore fails UpdatePlayer once armed, after the squad side of a
// membership change has already been written.
type faultyStore struct {
	game.Store
	mu        sync.Mutex
	failWrite error
}

func (s *faultyStore) arm(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

func (s *faultyStore) UpdatePlayer(ctx context.Context, id string, fn func(*game.Player) error) (game.Player, error) {
	s.mu.Lock()
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return game.Player{}, err
	}
	return s.Store.UpdatePlayer(ctx, id, fn)
}

func newFaultyFixture(t *testing.T) (*fixture, *faultyStore) {
	t.Helper()
	f := newFixture(t)
	faulty := &faultyStore{Store: f.store}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = game.NewService(faulty, logger, game.WithClock(f.clock.Now))
	return f, faulty
}

func TestCreateSquadRollsBackWhenPlayerWriteFails(t *testing.T) {
	f, faulty := newFaultyFixture(t)
	ann := f.player(t, "ann")

	faulty.arm(game.ErrStoreUnavailable)
	if _, err := f.svc.CreateSquad(f.ctx, ann.ID, "Alpha", ""); !errors.Is(err, game.ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}
	squads, err := f.store.ListSquads(f.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(squads) != 0 {
		t.Fatalf("squad left behind after failed create: %+v", squads)
	}
	if got := f.reload(t, ann); got.InSquad() {
		t.Fatalf("player reference written: %q", got.SquadID)
	}

	faulty.arm(nil)
	if _, err := f.svc.CreateSquad(f.ctx, ann.ID, "Alpha", ""); err != nil {
		t.Fatalf("name not released by rollback: %v", err)
	}
	f.checkInvariants(t)
}

func TestJoinSquadRollsBackWhenPlayerWriteFails(t *testing.T) {
	f, faulty := newFaultyFixture(t)
	lee := f.player(t, "lee")
	ann := f.player(t, "ann")
	sq, err := f.svc.CreateSquad(f.ctx, lee.ID, "Alpha", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	faulty.arm(game.ErrStoreUnavailable)
	if _, err := f.svc.JoinSquad(f.ctx, ann.ID, sq.ID); !errors.Is(err, game.ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}
	faulty.arm(nil)

	got, err := f.store.SquadByID(f.ctx, sq.ID)
	if err != nil {
		t.Fatalf("squad: %v", err)
	}
	if len(got.Members) != 1 || got.HasMember(ann.ID) || got.LeaderID != lee.ID {
		t.Fatalf("squad not restored: %+v", got)
	}
	if p := f.reload(t, ann); p.InSquad() {
		t.Fatalf("player reference written: %q", p.SquadID)
	}
	f.checkInvariants(t)
}

func TestConcurrentJoinAndCreateForOnePlayer(t *testing.T) {
	for round := 0; round < 25; round++ {
		f := newFixture(t)
		a, _ := f.svc.CreateSquad(f.ctx, f.player(t, "lead-a").ID, "Alpha", "")
		b, _ := f.svc.CreateSquad(f.ctx, f.player(t, "lead-b").ID, "Bravo", "")
		p := f.player(t, "racer")

		attempts := []func() error{
			func() error { _, err := f.svc.JoinSquad(f.ctx, p.ID, a.ID); return err },
			func() error { _, err := f.svc.JoinSquad(f.ctx, p.ID, b.ID); return err },
			func() error { _, err := f.svc.CreateSquad(f.ctx, p.ID, "Charlie", ""); return err },
			func() error { _, err := f.svc.CreateSquad(f.ctx, p.ID, "Delta", ""); return err },
		}
		errs := make([]error, len(attempts))
		var wg sync.WaitGroup
		for i, attempt := range attempts {
			wg.Add(1)
			go func(i int, attempt func() error) {
				defer wg.Done()
				errs[i] = attempt()
			}(i, attempt)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, game.ErrAlreadyInSquad):
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d attempts succeeded, errs=%v", round, wins, errs)
		}

		squads, err := f.store.ListSquads(f.ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		members := 0
		for _, sq := range squads {
			members += len(sq.Members)
		}
		if len(squads) > 3 || members != 3 {
			t.Fatalf("round %d: squads=%d members=%d", round, len(squads), members)
		}
		f.checkInvariants(t)
	}
}
