// Package memstore is an in-process game.Store used for local play and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tapsquad/internal/game"
)

type Store struct {
	mu sync.Mutex

	seq     int64
	players map[string]*game.Player
	byUser  map[string]string
	squads  map[string]*game.Squad
	byName  map[string]string
}

var _ game.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		players: make(map[string]*game.Player),
		byUser:  make(map[string]string),
		squads:  make(map[string]*game.Squad),
		byName:  make(map[string]string),
	}
}

// Names are unique exactly as stored.
func nameKey(name string) string {
	return strings.TrimSpace(name)
}

func (s *Store) EnsurePlayer(ctx context.Context, userID string, now time.Time) (game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byUser[userID]; ok {
		return s.players[id].Clone(), nil
	}
	s.seq++
	p := &game.Player{
		ID:        uuid.NewString(),
		UserID:    userID,
		Coins:     game.StarterCoins,
		TapPower:  game.StarterTapPower,
		Upgrades:  []string{},
		LastLogin: now,
		CreatedAt: now,
		Seq:       s.seq,
	}
	s.players[p.ID] = p
	s.byUser[userID] = p.ID
	return p.Clone(), nil
}

func (s *Store) PlayerByID(ctx context.Context, id string) (game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return game.Player{}, game.ErrPlayerNotFound
	}
	return p.Clone(), nil
}

func (s *Store) PlayerByUserID(ctx context.Context, userID string) (game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userID]
	if !ok {
		return game.Player{}, game.ErrPlayerNotFound
	}
	return s.players[id].Clone(), nil
}

func (s *Store) PlayersByIDs(ctx context.Context, ids []string) (map[string]game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]game.Player, len(ids))
	for _, id := range ids {
		if p, ok := s.players[id]; ok {
			out[id] = p.Clone()
		}
	}
	return out, nil
}

func (s *Store) UpdatePlayer(ctx context.Context, id string, fn func(*game.Player) error) (game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Player{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.players[id]
	if !ok {
		return game.Player{}, game.ErrPlayerNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return game.Player{}, err
	}
	next.ID, next.UserID, next.Seq, next.CreatedAt = cur.ID, cur.UserID, cur.Seq, cur.CreatedAt
	s.players[id] = &next
	return next.Clone(), nil
}

func (s *Store) TopPlayers(ctx context.Context, metric game.Metric, limit int) ([]game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	all := make([]game.Player, 0, len(s.players))
	for _, p := range s.players {
		all = append(all, p.Clone())
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		vi, vj := metric.Value(all[i]), metric.Value(all[j])
		if vi != vj {
			return vi > vj
		}
		return all[i].Seq < all[j].Seq
	})
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) CreateSquad(ctx context.Context, sq game.Squad) (game.Squad, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Squad{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nameKey(sq.Name)
	if _, taken := s.byName[key]; taken {
		return game.Squad{}, game.ErrNameTaken
	}
	stored := sq.Clone()
	s.squads[sq.ID] = &stored
	s.byName[key] = sq.ID
	return stored.Clone(), nil
}

func (s *Store) SquadByID(ctx context.Context, id string) (game.Squad, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Squad{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sq, ok := s.squads[id]
	if !ok {
		return game.Squad{}, game.ErrSquadNotFound
	}
	return sq.Clone(), nil
}

func (s *Store) SquadNames(ctx context.Context, ids []string) (map[string]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if sq, ok := s.squads[id]; ok {
			out[id] = sq.Name
		}
	}
	return out, nil
}

func (s *Store) ListSquads(ctx context.Context) ([]game.Squad, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]game.Squad, 0, len(s.squads))
	for _, sq := range s.squads {
		out = append(out, sq.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateSquad(ctx context.Context, id string, fn func(*game.Squad) error) (game.Squad, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return game.Squad{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.squads[id]
	if !ok {
		return game.Squad{}, false, game.ErrSquadNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return game.Squad{}, false, err
	}
	next.ID, next.Name, next.CreatedAt = cur.ID, cur.Name, cur.CreatedAt
	if len(next.Members) == 0 {
		s.deleteLocked(id)
		return next, true, nil
	}
	s.squads[id] = &next
	return next.Clone(), false, nil
}

func (s *Store) DeleteSquad(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.squads[id]; !ok {
		return game.ErrSquadNotFound
	}
	s.deleteLocked(id)
	return nil
}

func (s *Store) deleteLocked(id string) {
	if sq, ok := s.squads[id]; ok {
		delete(s.byName, nameKey(sq.Name))
	}
	delete(s.squads, id)
}

func (s *Store) DanglingPlayers(ctx context.Context) ([]game.Player, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []game.Player
	for _, p := range s.players {
		if !p.InSquad() {
			continue
		}
		sq, ok := s.squads[p.SquadID]
		if !ok || !sq.HasMember(p.ID) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) OrphanMembers(ctx context.Context, joinedBefore time.Time) ([]game.Membership, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []game.Membership
	for _, sq := range s.squads {
		for _, m := range sq.Members {
			if !m.JoinedAt.Before(joinedBefore) {
				continue
			}
			p, ok := s.players[m.PlayerID]
			if ok && p.SquadID == sq.ID {
				continue
			}
			out = append(out, game.Membership{SquadID: sq.ID, PlayerID: m.PlayerID, JoinedAt: m.JoinedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// Counts reports how many players and squads are stored.
func (s *Store) Counts() (players, squads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players), len(s.squads)
}

// ctxErr reports a finished context the way the Postgres store does, as the
// store being unavailable.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", game.ErrStoreUnavailable, err)
	}
	return nil
}
