package game

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestValidateSquadName(t *testing.T) {
	got, err := ValidateSquadName("  Night Owls  ")
	if err != nil {
		t.Fatalf("expected name to be valid: %v", err)
	}
	if got != "Night Owls" {
		t.Fatalf("got %q want trimmed name", got)
	}

	invalid := []string{"", "   ", strings.Repeat("x", maxSquadNameLen+1), "The Admins"}
	for _, name := range invalid {
		if _, err := ValidateSquadName(name); !errors.Is(err, ErrInvalidSquadName) {
			t.Fatalf("expected %q to fail with ErrInvalidSquadName, got %v", name, err)
		}
	}
}

func TestValidateSquadNameCountsRunes(t *testing.T) {
	name := strings.Repeat("é", maxSquadNameLen)
	got, err := ValidateSquadName(name)
	if err != nil {
		t.Fatalf("expected %d two-byte runes to be valid: %v", maxSquadNameLen, err)
	}
	if got != name {
		t.Fatalf("got %q want %q", got, name)
	}
	if _, err := ValidateSquadName(name + "é"); !errors.Is(err, ErrInvalidSquadName) {
		t.Fatalf("expected overlong multibyte name to fail, got %v", err)
	}
	if _, err := ValidateSquadName("bad\xc3"); !errors.Is(err, ErrInvalidSquadName) {
		t.Fatalf("expected invalid UTF-8 to fail, got %v", err)
	}
}

func TestCleanDescriptionKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in        string
		wantRunes int
	}{
		{in: strings.Repeat("a", maxSquadDescriptionLen-1) + "éé", wantRunes: maxSquadDescriptionLen},
		{in: strings.Repeat("日本", maxSquadDescriptionLen), wantRunes: maxSquadDescriptionLen},
		{in: "  short é  ", wantRunes: 7},
		{in: "tail\xc3", wantRunes: 5},
	}
	for _, tc := range tests {
		got := cleanDescription(tc.in)
		if !utf8.ValidString(got) {
			t.Fatalf("in=%q produced invalid UTF-8 % x", tc.in, got)
		}
		if n := utf8.RuneCountInString(got); n != tc.wantRunes {
			t.Fatalf("in=%q runes=%d want %d", tc.in, n, tc.wantRunes)
		}
	}
	if got := cleanDescription(strings.Repeat("a", maxSquadDescriptionLen-1) + "éé"); !strings.HasSuffix(got, "aé") {
		t.Fatalf("cut landed mid-rune: %q", got)
	}
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		raw  string
		want Metric
	}{
		{raw: "", want: MetricCoins},
		{raw: "coins", want: MetricCoins},
		{raw: "totalTaps", want: MetricTotalTaps},
		{raw: "taps", want: MetricTotalTaps},
	}
	for _, tc := range tests {
		got, err := ParseMetric(tc.raw)
		if err != nil {
			t.Fatalf("raw=%q unexpected error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("raw=%q got=%q want=%q", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseMetric("level"); !errors.Is(err, ErrInvalidMetric) {
		t.Fatalf("expected ErrInvalidMetric, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: DefaultLeaderboardLimit},
		{in: -5, want: DefaultLeaderboardLimit},
		{in: 25, want: 25},
		{in: 10_000, want: MaxLeaderboardLimit},
	}
	for _, tc := range tests {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Fatalf("in=%d got=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestUpgradeEffects(t *testing.T) {
	tests := []struct {
		id   string
		from int64
		want int64
	}{
		{id: "doubleTap", from: 3, want: 6},
		{id: "powerTap1", from: 3, want: 4},
		{id: "powerTap5", from: 3, want: 8},
	}
	for _, tc := range tests {
		u, ok := LookupUpgrade(tc.id)
		if !ok {
			t.Fatalf("upgrade %q missing", tc.id)
		}
		if got := u.apply(tc.from); got != tc.want {
			t.Fatalf("%s: got=%d want=%d", tc.id, got, tc.want)
		}
	}
	if _, ok := LookupUpgrade("megaTap"); ok {
		t.Fatalf("expected unknown upgrade to be missing")
	}
	if n := len(AvailableUpgrades()); n != 3 {
		t.Fatalf("shop has %d upgrades, want 3", n)
	}
}

func TestCanClaimDailyReward(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	p := Player{}
	if !CanClaimDailyReward(p, now) {
		t.Fatalf("fresh player should be able to claim")
	}
	p.LastDailyReward = RewardDate(now)
	if CanClaimDailyReward(p, now) {
		t.Fatalf("same day claim should be refused")
	}
	if !CanClaimDailyReward(p, now.Add(time.Hour)) {
		t.Fatalf("next day claim should be allowed")
	}
}

func TestRemoveMemberSuccession(t *testing.T) {
	sq := Squad{
		LeaderID: "L",
		Members:  []Member{{PlayerID: "L"}, {PlayerID: "A"}, {PlayerID: "B"}},
	}
	outcome, ok := RemoveMember(&sq, "L")
	if !ok || outcome != LeaveLeaderTransferred {
		t.Fatalf("outcome=%q ok=%v", outcome, ok)
	}
	if sq.LeaderID != "A" {
		t.Fatalf("leader=%q want A", sq.LeaderID)
	}
	if ids := sq.MemberIDs(); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("members=%v want [A B]", ids)
	}

	outcome, _ = RemoveMember(&sq, "B")
	if outcome != LeavePersisted || sq.LeaderID != "A" {
		t.Fatalf("outcome=%q leader=%q", outcome, sq.LeaderID)
	}
	outcome, _ = RemoveMember(&sq, "A")
	if outcome != LeaveDisbanded || len(sq.Members) != 0 {
		t.Fatalf("outcome=%q members=%d", outcome, len(sq.Members))
	}
	if _, ok := RemoveMember(&sq, "A"); ok {
		t.Fatalf("removing a non-member should report false")
	}
}
