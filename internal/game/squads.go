package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var errNotMember = errors.New("player is not listed in squad")

// CreateSquad makes playerID the sole member and leader of a new squad.
//
// The squad is written first and the player's reference second. If the
// reference can no longer be claimed the new squad is deleted again, so a
// rejected create leaves no trace.
func (s *Service) CreateSquad(ctx context.Context, playerID, name, description string) (Squad, error) {
	name, err := ValidateSquadName(name)
	if err != nil {
		return Squad{}, err
	}
	p, cur, _, err := s.loadMembership(ctx, playerID)
	if err != nil {
		return Squad{}, err
	}
	if cur != nil {
		return Squad{}, fmt.Errorf("%w: %s, leave it first", ErrAlreadyInSquad, cur.Name)
	}

	now := s.now()
	sq, err := s.store.CreateSquad(ctx, Squad{
		ID:          uuid.NewString(),
		Name:        name,
		Description: cleanDescription(description),
		LeaderID:    p.ID,
		Members:     []Member{{PlayerID: p.ID, JoinedAt: now}},
		CreatedAt:   now,
	})
	if err != nil {
		return Squad{}, err
	}

	_, err = s.store.UpdatePlayer(ctx, p.ID, func(pl *Player) error {
		if pl.InSquad() {
			return ErrAlreadyInSquad
		}
		pl.SquadID = sq.ID
		return nil
	})
	if err != nil {
		if derr := s.store.DeleteSquad(ctx, sq.ID); derr != nil {
			s.log.Error("rollback squad create failed", "squad_id", sq.ID, "err", derr)
		}
		return Squad{}, err
	}

	s.log.Info("squad created", "squad_id", sq.ID, "name", sq.Name, "leader_id", p.ID)
	s.notify(Metrics...)
	return sq, nil
}

// JoinSquad adds playerID to squadID. A player that already belongs to any
// squad, including squadID itself, is rejected.
func (s *Service) JoinSquad(ctx context.Context, playerID, squadID string) (JoinResult, error) {
	p, cur, _, err := s.loadMembership(ctx, playerID)
	if err != nil {
		return JoinResult{}, err
	}
	if cur != nil {
		if cur.ID == squadID {
			return JoinResult{}, fmt.Errorf("%w: you are already a member of this squad", ErrAlreadyInSquad)
		}
		return JoinResult{}, fmt.Errorf("%w: %s, leave it first", ErrAlreadyInSquad, cur.Name)
	}

	now := s.now()
	added := false
	sq, _, err := s.store.UpdateSquad(ctx, squadID, func(sq *Squad) error {
		if !sq.HasMember(p.ID) {
			sq.Members = append(sq.Members, Member{PlayerID: p.ID, JoinedAt: now})
			added = true
		}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	var holder string
	p, err = s.store.UpdatePlayer(ctx, p.ID, func(pl *Player) error {
		if pl.InSquad() {
			holder = pl.SquadID
			return ErrAlreadyInSquad
		}
		pl.SquadID = squadID
		return nil
	})
	if err != nil {
		if added && holder != squadID {
			s.undoJoin(ctx, squadID, playerID)
		}
		return JoinResult{}, err
	}

	s.log.Info("squad joined", "squad_id", sq.ID, "player_id", p.ID, "members", len(sq.Members))
	s.notify(Metrics...)
	return JoinResult{
		Squad:   sq,
		Player:  p,
		Message: fmt.Sprintf("Successfully joined squad: %s!", sq.Name),
	}, nil
}

func (s *Service) undoJoin(ctx context.Context, squadID, playerID string) {
	_, _, err := s.store.UpdateSquad(ctx, squadID, func(sq *Squad) error {
		if _, ok := RemoveMember(sq, playerID); !ok {
			return errNotMember
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNotMember) && !errors.Is(err, ErrSquadNotFound) {
		s.log.Error("rollback squad join failed", "squad_id", squadID, "player_id", playerID, "err", err)
	}
}

// LeaveSquad removes playerID from its squad. A departing leader hands over to
// the earliest remaining member; the last member out disbands the squad.
func (s *Service) LeaveSquad(ctx context.Context, playerID string) (LeaveResult, error) {
	p, cur, _, err := s.loadMembership(ctx, playerID)
	if err != nil {
		return LeaveResult{}, err
	}
	if cur == nil {
		return LeaveResult{}, ErrNotInSquad
	}

	var outcome LeaveOutcome
	sq, disbanded, err := s.store.UpdateSquad(ctx, cur.ID, func(sq *Squad) error {
		var ok bool
		outcome, ok = RemoveMember(sq, p.ID)
		if !ok {
			return errNotMember
		}
		return nil
	})
	if errors.Is(err, errNotMember) || errors.Is(err, ErrSquadNotFound) {
		// Someone else already took the player out of the squad.
		if _, herr := s.healReference(ctx, p); herr != nil {
			return LeaveResult{}, herr
		}
		return LeaveResult{}, ErrNotInSquad
	}
	if err != nil {
		return LeaveResult{}, err
	}
	if disbanded {
		outcome = LeaveDisbanded
	}

	res := LeaveResult{SquadID: cur.ID, SquadName: cur.Name, Outcome: outcome}
	updated, err := s.store.UpdatePlayer(ctx, p.ID, func(pl *Player) error {
		if pl.SquadID == cur.ID {
			pl.SquadID = ""
		}
		return nil
	})
	if err != nil {
		// The squad side is authoritative; the stale reference heals on the next read.
		s.log.Warn("clear squad reference after leave failed", "player_id", p.ID, "squad_id", cur.ID, "err", err)
		updated = p.Clone()
		updated.SquadID = ""
	}
	res.Player = updated

	switch outcome {
	case LeaveDisbanded:
		res.Message = fmt.Sprintf("You have left and disbanded squad: %s.", cur.Name)
	case LeaveLeaderTransferred:
		res.NewLeaderID = sq.LeaderID
		res.Message = fmt.Sprintf("Successfully left squad: %s. Leadership passed to %s.", cur.Name, s.displayName(ctx, sq.LeaderID))
	default:
		res.Message = fmt.Sprintf("Successfully left squad: %s.", cur.Name)
	}

	s.log.Info("squad left", "squad_id", cur.ID, "player_id", p.ID, "outcome", string(outcome))
	s.notify(Metrics...)
	return res, nil
}

// RemoveMember drops playerID from sq and repairs leadership. It reports false
// when playerID was not a member.
func RemoveMember(sq *Squad, playerID string) (LeaveOutcome, bool) {
	idx := sq.memberIndex(playerID)
	if idx < 0 {
		return "", false
	}
	sq.Members = append(sq.Members[:idx:idx], sq.Members[idx+1:]...)
	switch {
	case len(sq.Members) == 0:
		return LeaveDisbanded, true
	case sq.LeaderID == playerID:
		sq.LeaderID = sq.Members[0].PlayerID
		return LeaveLeaderTransferred, true
	default:
		return LeavePersisted, true
	}
}

// PlayerSquad returns the player's current squad, or nil. healed reports that
// a dangling reference was found and cleared on the way.
func (s *Service) PlayerSquad(ctx context.Context, playerID string) (view *SquadView, healed bool, err error) {
	_, cur, healed, err := s.loadMembership(ctx, playerID)
	if err != nil || cur == nil {
		return nil, healed, err
	}
	out, err := s.squadViews(ctx, []Squad{*cur})
	if err != nil {
		return nil, healed, err
	}
	return &out[0], healed, nil
}

func (s *Service) SquadDetail(ctx context.Context, squadID string) (SquadView, error) {
	sq, err := s.store.SquadByID(ctx, squadID)
	if err != nil {
		return SquadView{}, err
	}
	out, err := s.squadViews(ctx, []Squad{sq})
	if err != nil {
		return SquadView{}, err
	}
	return out[0], nil
}

func (s *Service) ListSquads(ctx context.Context) ([]SquadView, error) {
	squads, err := s.store.ListSquads(ctx)
	if err != nil {
		return nil, err
	}
	return s.squadViews(ctx, squads)
}

// squadViews resolves every member of every squad with one player lookup.
func (s *Service) squadViews(ctx context.Context, squads []Squad) ([]SquadView, error) {
	var ids []string
	for _, sq := range squads {
		ids = append(ids, sq.MemberIDs()...)
	}
	players := map[string]Player{}
	if len(ids) > 0 {
		var err error
		players, err = s.store.PlayersByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	out := make([]SquadView, 0, len(squads))
	for _, sq := range squads {
		view := SquadView{
			ID:          sq.ID,
			Name:        sq.Name,
			Description: sq.Description,
			Members:     make([]PlayerRef, 0, len(sq.Members)),
			CreatedAt:   sq.CreatedAt,
		}
		for _, m := range sq.Members {
			p, ok := players[m.PlayerID]
			if !ok {
				continue
			}
			ref := PlayerRef{ID: p.ID, UserID: p.UserID, Coins: p.Coins}
			view.Members = append(view.Members, ref)
			if p.ID == sq.LeaderID {
				leader := ref
				view.Leader = &leader
			}
		}
		out = append(out, view)
	}
	return out, nil
}

// loadMembership reads the player and the squad it references. A reference to
// a squad that is gone or no longer lists the player is cleared, and the
// player is treated as unaffiliated.
func (s *Service) loadMembership(ctx context.Context, playerID string) (Player, *Squad, bool, error) {
	p, err := s.store.PlayerByID(ctx, playerID)
	if err != nil {
		return Player{}, nil, false, err
	}
	if !p.InSquad() {
		return p, nil, false, nil
	}
	sq, err := s.store.SquadByID(ctx, p.SquadID)
	switch {
	case err == nil && sq.HasMember(p.ID):
		return p, &sq, false, nil
	case err == nil, errors.Is(err, ErrSquadNotFound):
		healed, herr := s.healReference(ctx, p)
		if herr != nil {
			return Player{}, nil, false, herr
		}
		return healed, nil, true, nil
	default:
		return Player{}, nil, false, err
	}
}

func (s *Service) healReference(ctx context.Context, p Player) (Player, error) {
	stale := p.SquadID
	if stale == "" {
		return p, nil
	}
	s.log.Warn("clearing squad reference", "err", ErrInconsistent, "player_id", p.ID, "squad_id", stale)
	return s.store.UpdatePlayer(ctx, p.ID, func(pl *Player) error {
		if pl.SquadID == stale {
			pl.SquadID = ""
		}
		return nil
	})
}

func (s *Service) displayName(ctx context.Context, playerID string) string {
	p, err := s.store.PlayerByID(ctx, playerID)
	if err != nil {
		return playerID
	}
	return p.UserID
}
