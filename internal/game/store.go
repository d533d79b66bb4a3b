package game

import (
	"context"
	"time"
)

// Store is the durable record store for players and squads. Every method that
// mutates a single entity must be linearizable with respect to that entity.
//
// UpdatePlayer and UpdateSquad run fn against the freshly read record while
// holding that record's lock; if fn returns an error nothing is written and the
// error is returned unchanged.
type Store interface {
	// EnsurePlayer returns the player with the given identity key, creating it
	// with starter values when missing. Concurrent calls for one identity
	// resolve to a single record.
	EnsurePlayer(ctx context.Context, userID string, now time.Time) (Player, error)
	PlayerByID(ctx context.Context, id string) (Player, error)
	PlayerByUserID(ctx context.Context, userID string) (Player, error)
	PlayersByIDs(ctx context.Context, ids []string) (map[string]Player, error)
	UpdatePlayer(ctx context.Context, id string, fn func(*Player) error) (Player, error)
	// TopPlayers returns at most limit players ordered by metric descending,
	// ties broken by creation order.
	TopPlayers(ctx context.Context, metric Metric, limit int) ([]Player, error)

	// CreateSquad inserts sq, failing with ErrNameTaken when the name is in use.
	CreateSquad(ctx context.Context, sq Squad) (Squad, error)
	SquadByID(ctx context.Context, id string) (Squad, error)
	// SquadNames resolves display names for ids in a single lookup. Unknown
	// ids are absent from the result.
	SquadNames(ctx context.Context, ids []string) (map[string]string, error)
	ListSquads(ctx context.Context) ([]Squad, error)
	// UpdateSquad is like UpdatePlayer. A squad left without members is
	// deleted in the same step and disbanded is reported true.
	UpdateSquad(ctx context.Context, id string, fn func(*Squad) error) (sq Squad, disbanded bool, err error)
	DeleteSquad(ctx context.Context, id string) error

	// DanglingPlayers returns players whose squad reference points at a squad
	// that is missing or does not list them.
	DanglingPlayers(ctx context.Context) ([]Player, error)
	// OrphanMembers returns memberships older than joinedBefore whose player
	// does not reference the squad back.
	OrphanMembers(ctx context.Context, joinedBefore time.Time) ([]Membership, error)
}

// Notifier is told about mutations that may change leaderboard ranks.
type Notifier interface {
	NotifyPossibleRankChange(metric Metric)
}

type nopNotifier struct{}

func (nopNotifier) NotifyPossibleRankChange(Metric) {}
