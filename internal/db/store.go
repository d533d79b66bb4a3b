package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tapsquad/internal/game"
)

const playerColumns = `id, user_id, coins, tap_power, total_taps, upgrades,
	COALESCE(last_daily_reward, ''), COALESCE(squad_id, ''), last_login, created_at, seq`

// Store is the Postgres game.Store. Single-record updates lock the row with
// SELECT ... FOR UPDATE inside a read committed transaction.
type Store struct {
	pool *pgxpool.Pool
}

var _ game.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.pool.Ping(ctx))
}

func scanPlayer(row pgx.Row) (game.Player, error) {
	var p game.Player
	err := row.Scan(&p.ID, &p.UserID, &p.Coins, &p.TapPower, &p.TotalTaps, &p.Upgrades,
		&p.LastDailyReward, &p.SquadID, &p.LastLogin, &p.CreatedAt, &p.Seq)
	if p.Upgrades == nil {
		p.Upgrades = []string{}
	}
	return p, err
}

func collectPlayers(rows pgx.Rows) ([]game.Player, error) {
	defer rows.Close()
	var out []game.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) EnsurePlayer(ctx context.Context, userID string, now time.Time) (game.Player, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game.players (id, user_id, coins, tap_power, last_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, newID(), userID, game.StarterCoins, game.StarterTapPower, now)
	if err != nil {
		return game.Player{}, mapErr(err)
	}
	return s.PlayerByUserID(ctx, userID)
}

func (s *Store) PlayerByID(ctx context.Context, id string) (game.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return game.Player{}, game.ErrPlayerNotFound
	}
	return p, mapErr(err)
}

func (s *Store) PlayerByUserID(ctx context.Context, userID string) (game.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE user_id = $1`, userID))
	if err == pgx.ErrNoRows {
		return game.Player{}, game.ErrPlayerNotFound
	}
	return p, mapErr(err)
}

func (s *Store) PlayersByIDs(ctx context.Context, ids []string) (map[string]game.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	players, err := collectPlayers(rows)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make(map[string]game.Player, len(players))
	for _, p := range players {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) UpdatePlayer(ctx context.Context, id string, fn func(*game.Player) error) (game.Player, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Player{}, mapErr(err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPlayer(tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return game.Player{}, game.ErrPlayerNotFound
		}
		return game.Player{}, mapErr(err)
	}
	if err := fn(&p); err != nil {
		return game.Player{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE game.players
		SET coins = $2,
			tap_power = $3,
			total_taps = $4,
			upgrades = $5,
			last_daily_reward = NULLIF($6, ''),
			squad_id = NULLIF($7, ''),
			last_login = $8
		WHERE id = $1
	`, id, p.Coins, p.TapPower, p.TotalTaps, p.Upgrades, p.LastDailyReward, p.SquadID, p.LastLogin); err != nil {
		return game.Player{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Player{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) TopPlayers(ctx context.Context, metric game.Metric, limit int) ([]game.Player, error) {
	order := "coins DESC, seq ASC"
	if metric == game.MetricTotalTaps {
		order = "total_taps DESC, seq ASC"
	}
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM game.players ORDER BY `+order+` LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := collectPlayers(rows)
	return out, mapErr(err)
}

func (s *Store) CreateSquad(ctx context.Context, sq game.Squad) (game.Squad, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Squad{}, mapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO game.squads (id, name, description, leader_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sq.ID, sq.Name, sq.Description, sq.LeaderID, sq.CreatedAt); err != nil {
		return game.Squad{}, mapErr(err)
	}
	if err := insertMembers(ctx, tx, sq.ID, sq.Members); err != nil {
		return game.Squad{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Squad{}, mapErr(err)
	}
	return sq.Clone(), nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, squadID string, members []game.Member) error {
	for _, m := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.squad_members (squad_id, player_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (squad_id, player_id) DO NOTHING
		`, squadID, m.PlayerID, m.JoinedAt); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadSquad(ctx context.Context, q querier, id string, lock bool) (game.Squad, error) {
	query := `SELECT id, name, description, leader_id, created_at FROM game.squads WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var sq game.Squad
	err := q.QueryRow(ctx, query, id).Scan(&sq.ID, &sq.Name, &sq.Description, &sq.LeaderID, &sq.CreatedAt)
	if err == pgx.ErrNoRows {
		return game.Squad{}, game.ErrSquadNotFound
	}
	if err != nil {
		return game.Squad{}, err
	}
	members, err := loadMembers(ctx, q, []string{id})
	if err != nil {
		return game.Squad{}, err
	}
	sq.Members = members[id]
	return sq, nil
}

// loadMembers returns members per squad in join order.
func loadMembers(ctx context.Context, q querier, squadIDs []string) (map[string][]game.Member, error) {
	rows, err := q.Query(ctx, `
		SELECT squad_id, player_id, joined_at
		FROM game.squad_members
		WHERE squad_id = ANY($1)
		ORDER BY squad_id, join_seq
	`, squadIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]game.Member, len(squadIDs))
	for rows.Next() {
		var squadID string
		var m game.Member
		if err := rows.Scan(&squadID, &m.PlayerID, &m.JoinedAt); err != nil {
			return nil, err
		}
		out[squadID] = append(out[squadID], m)
	}
	return out, rows.Err()
}

func (s *Store) SquadByID(ctx context.Context, id string) (game.Squad, error) {
	sq, err := loadSquad(ctx, s.pool, id, false)
	if errors.Is(err, game.ErrSquadNotFound) {
		return game.Squad{}, err
	}
	return sq, mapErr(err)
}

func (s *Store) SquadNames(ctx context.Context, ids []string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM game.squads WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, mapErr(err)
		}
		out[id] = name
	}
	return out, mapErr(rows.Err())
}

func (s *Store) ListSquads(ctx context.Context) ([]game.Squad, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, leader_id, created_at
		FROM game.squads
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	var squads []game.Squad
	var ids []string
	for rows.Next() {
		var sq game.Squad
		if err := rows.Scan(&sq.ID, &sq.Name, &sq.Description, &sq.LeaderID, &sq.CreatedAt); err != nil {
			rows.Close()
			return nil, mapErr(err)
		}
		squads = append(squads, sq)
		ids = append(ids, sq.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	if len(squads) == 0 {
		return []game.Squad{}, nil
	}

	members, err := loadMembers(ctx, s.pool, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	for i := range squads {
		squads[i].Members = members[squads[i].ID]
	}
	return squads, nil
}

func (s *Store) UpdateSquad(ctx context.Context, id string, fn func(*game.Squad) error) (game.Squad, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.Squad{}, false, mapErr(err)
	}
	defer tx.Rollback(ctx)

	cur, err := loadSquad(ctx, tx, id, true)
	if err != nil {
		if errors.Is(err, game.ErrSquadNotFound) {
			return game.Squad{}, false, err
		}
		return game.Squad{}, false, mapErr(err)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return game.Squad{}, false, err
	}

	if len(next.Members) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM game.squads WHERE id = $1`, id); err != nil {
			return game.Squad{}, false, mapErr(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return game.Squad{}, false, mapErr(err)
		}
		return next, true, nil
	}

	added, removed := diffMembers(cur.Members, next.Members)
	if len(removed) > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM game.squad_members
			WHERE squad_id = $1 AND player_id = ANY($2)
		`, id, removed); err != nil {
			return game.Squad{}, false, mapErr(err)
		}
	}
	if err := insertMembers(ctx, tx, id, added); err != nil {
		return game.Squad{}, false, mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE game.squads SET leader_id = $2, description = $3 WHERE id = $1
	`, id, next.LeaderID, next.Description); err != nil {
		return game.Squad{}, false, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Squad{}, false, mapErr(err)
	}
	next.Name, next.CreatedAt = cur.Name, cur.CreatedAt
	return next, false, nil
}

// diffMembers reports members present only in next, and player ids present
// only in prev.
func diffMembers(prev, next []game.Member) (added []game.Member, removed []string) {
	before := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		before[m.PlayerID] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, m := range next {
		after[m.PlayerID] = struct{}{}
		if _, ok := before[m.PlayerID]; !ok {
			added = append(added, m)
		}
	}
	for _, m := range prev {
		if _, ok := after[m.PlayerID]; !ok {
			removed = append(removed, m.PlayerID)
		}
	}
	return added, removed
}

func (s *Store) DeleteSquad(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM game.squads WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrSquadNotFound
	}
	return nil
}

func (s *Store) DanglingPlayers(ctx context.Context) ([]game.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+playerColumns+`
		FROM game.players p
		WHERE p.squad_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM game.squad_members m
			WHERE m.squad_id = p.squad_id AND m.player_id = p.id
		  )
		ORDER BY p.seq
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := collectPlayers(rows)
	return out, mapErr(err)
}

func (s *Store) OrphanMembers(ctx context.Context, joinedBefore time.Time) ([]game.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.squad_id, m.player_id, m.joined_at
		FROM game.squad_members m
		LEFT JOIN game.players p ON p.id = m.player_id
		WHERE m.joined_at < $1
		  AND (p.id IS NULL OR p.squad_id IS DISTINCT FROM m.squad_id)
		ORDER BY m.join_seq
	`, joinedBefore)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []game.Membership
	for rows.Next() {
		var m game.Membership
		if err := rows.Scan(&m.SquadID, &m.PlayerID, &m.JoinedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

// mapErr translates driver failures into game errors. Unique violations on the
// squad name become ErrNameTaken; connection loss, timeouts and cancelled
// contexts become ErrStoreUnavailable.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && pgErr.ConstraintName == "squads_name_key" {
			return game.ErrNameTaken
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", game.ErrStoreUnavailable, err)
	}
	return err
}
