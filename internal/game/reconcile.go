package game

import (
	"context"
	"errors"
	"time"
)

// DefaultOrphanGrace keeps in-flight joins from being pruned before their
// player reference lands.
const DefaultOrphanGrace = 30 * time.Second

// Reconcile repairs both directions of the squad membership relation.
//
// Dangling player references are cleared. Memberships older than grace whose
// player points elsewhere are removed from the squad, with the usual
// succession and disband rules.
func (s *Service) Reconcile(ctx context.Context, grace time.Duration) (ReconcileReport, error) {
	if grace < 0 {
		grace = DefaultOrphanGrace
	}
	var report ReconcileReport

	dangling, err := s.store.DanglingPlayers(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range dangling {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.healReference(ctx, p); err != nil {
			return report, err
		}
		report.HealedPlayers++
	}

	orphans, err := s.store.OrphanMembers(ctx, s.now().Add(-grace))
	if err != nil {
		return report, err
	}
	for _, m := range orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p, err := s.store.PlayerByID(ctx, m.PlayerID)
		if err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return report, err
		}
		if err == nil && p.SquadID == m.SquadID {
			continue
		}

		_, disbanded, err := s.store.UpdateSquad(ctx, m.SquadID, func(sq *Squad) error {
			if _, ok := RemoveMember(sq, m.PlayerID); !ok {
				return errNotMember
			}
			return nil
		})
		switch {
		case errors.Is(err, errNotMember), errors.Is(err, ErrSquadNotFound):
			continue
		case err != nil:
			return report, err
		}
		report.PrunedMembers++
		if disbanded {
			report.DisbandedSquads++
		}
		s.log.Warn("pruned orphan membership", "err", ErrInconsistent, "squad_id", m.SquadID, "player_id", m.PlayerID, "disbanded", disbanded)
	}

	if report.Changed() {
		s.notify(Metrics...)
	}
	return report, nil
}
