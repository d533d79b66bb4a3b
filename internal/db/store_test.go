package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tapsquad/internal/game"
)

func TestDiffMembers(t *testing.T) {
	now := time.Now()
	prev := []game.Member{{PlayerID: "a", JoinedAt: now}, {PlayerID: "b", JoinedAt: now}}
	next := []game.Member{{PlayerID: "b", JoinedAt: now}, {PlayerID: "c", JoinedAt: now}}

	added, removed := diffMembers(prev, next)
	if len(added) != 1 || added[0].PlayerID != "c" {
		t.Fatalf("added=%v want [c]", added)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("removed=%v want [a]", removed)
	}

	added, removed = diffMembers(prev, prev)
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("expected no changes, got added=%v removed=%v", added, removed)
	}
}

func TestMapErr(t *testing.T) {
	if mapErr(nil) != nil {
		t.Fatalf("nil should stay nil")
	}

	nameTaken := &pgconn.PgError{Code: "23505", ConstraintName: "squads_name_key"}
	if err := mapErr(fmt.Errorf("insert: %w", nameTaken)); !errors.Is(err, game.ErrNameTaken) {
		t.Fatalf("err=%v want ErrNameTaken", err)
	}

	otherUnique := &pgconn.PgError{Code: "23505", ConstraintName: "players_user_id_key"}
	if err := mapErr(otherUnique); errors.Is(err, game.ErrNameTaken) {
		t.Fatalf("unrelated unique violation mapped to ErrNameTaken")
	}

	if err := mapErr(context.DeadlineExceeded); !errors.Is(err, game.ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}

	plain := errors.New("boom")
	if err := mapErr(plain); err != plain {
		t.Fatalf("unexpected wrap of %v: %v", plain, err)
	}
}
