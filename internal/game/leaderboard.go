package game

import "context"

// Projector derives ranked leaderboard entries from the player store. It never
// writes and never repairs; a squad reference it cannot resolve is shown as no
// squad.
type Projector struct {
	store Store
}

func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// Compute returns the top limit players on metric with their squad names. All
// squad names are resolved with a single lookup.
func (p *Projector) Compute(ctx context.Context, metric Metric, limit int) ([]LeaderboardEntry, error) {
	if metric != MetricCoins && metric != MetricTotalTaps {
		return nil, ErrInvalidMetric
	}
	players, err := p.store.TopPlayers(ctx, metric, ClampLimit(limit))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(players))
	var squadIDs []string
	for _, pl := range players {
		if !pl.InSquad() {
			continue
		}
		if _, ok := seen[pl.SquadID]; ok {
			continue
		}
		seen[pl.SquadID] = struct{}{}
		squadIDs = append(squadIDs, pl.SquadID)
	}
	names := map[string]string{}
	if len(squadIDs) > 0 {
		names, err = p.store.SquadNames(ctx, squadIDs)
		if err != nil {
			return nil, err
		}
	}

	out := make([]LeaderboardEntry, 0, len(players))
	for i, pl := range players {
		entry := LeaderboardEntry{
			Rank:      i + 1,
			UserID:    pl.UserID,
			Coins:     pl.Coins,
			TotalTaps: pl.TotalTaps,
		}
		if name, ok := names[pl.SquadID]; ok && pl.InSquad() {
			entry.SquadName = &name
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) Projector() *Projector {
	return NewProjector(s.store)
}

func (s *Service) Leaderboard(ctx context.Context, metric Metric, limit int) ([]LeaderboardEntry, error) {
	return s.Projector().Compute(ctx, metric, limit)
}
