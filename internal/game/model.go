package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	StarterCoins    = int64(0)
	StarterTapPower = int64(1)

	DailyRewardCoins = int64(100)

	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100

	maxSquadNameLen        = 40
	maxSquadDescriptionLen = 200

	rewardDateLayout = "2006-01-02"
)

var (
	ErrAlreadyInSquad    = errors.New("already in a squad")
	ErrNotInSquad        = errors.New("not in any squad")
	ErrSquadNotFound     = errors.New("squad not found")
	ErrNameTaken         = errors.New("squad name is already taken")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInconsistent      = errors.New("dangling squad reference")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidSquadName  = errors.New("invalid squad name")
	ErrInvalidMetric     = errors.New("sortBy must be coins or totalTaps")
	ErrUpgradeNotFound   = errors.New("upgrade not found")
	ErrUpgradeOwned      = errors.New("upgrade already purchased and non-repeatable")
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrRewardClaimed     = errors.New("daily reward already claimed for today")
	ErrUnauthorized      = errors.New("unauthorized")
)

var blockedNameFragments = []string{
	"admin",
	"moderator",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

// Metric is a leaderboard sort dimension.
type Metric string

const (
	MetricCoins     Metric = "coins"
	MetricTotalTaps Metric = "totalTaps"
)

// Metrics lists every metric the leaderboard can be projected on.
var Metrics = []Metric{MetricCoins, MetricTotalTaps}

func ParseMetric(raw string) (Metric, error) {
	switch strings.TrimSpace(raw) {
	case "", string(MetricCoins):
		return MetricCoins, nil
	case string(MetricTotalTaps), "taps":
		return MetricTotalTaps, nil
	default:
		return "", ErrInvalidMetric
	}
}

// Value returns the player's score on m.
func (m Metric) Value(p Player) int64 {
	if m == MetricTotalTaps {
		return p.TotalTaps
	}
	return p.Coins
}

// ClampLimit applies the default and the hard ceiling to a requested leaderboard size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}

// Upgrade is an entry of the upgrade shop.
type Upgrade struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cost        int64  `json:"cost"`
	Description string `json:"description"`
	Repeatable  bool   `json:"repeatable"`

	apply func(tapPower int64) int64
}

var upgradeOrder = []string{"powerTap1", "doubleTap", "powerTap5"}

var upgrades = map[string]Upgrade{
	"doubleTap": {
		ID:          "doubleTap",
		Name:        "Double Tap Power",
		Cost:        50,
		Description: "Doubles your coins per tap!",
		apply:       func(p int64) int64 { return p * 2 },
	},
	"powerTap1": {
		ID:          "powerTap1",
		Name:        "Power Tap I",
		Cost:        20,
		Description: "Increases coins per tap by 1.",
		Repeatable:  true,
		apply:       func(p int64) int64 { return p + 1 },
	},
	"powerTap5": {
		ID:          "powerTap5",
		Name:        "Power Tap V",
		Cost:        80,
		Description: "Increases coins per tap by 5.",
		Repeatable:  true,
		apply:       func(p int64) int64 { return p + 5 },
	},
}

func LookupUpgrade(id string) (Upgrade, bool) {
	u, ok := upgrades[strings.TrimSpace(id)]
	return u, ok
}

// AvailableUpgrades returns the shop in display order.
func AvailableUpgrades() []Upgrade {
	out := make([]Upgrade, 0, len(upgradeOrder))
	for _, id := range upgradeOrder {
		out = append(out, upgrades[id])
	}
	return out
}

// RewardDate formats t as the calendar date used for daily reward bookkeeping.
func RewardDate(t time.Time) string {
	return t.UTC().Format(rewardDateLayout)
}

func CanClaimDailyReward(p Player, now time.Time) bool {
	return p.LastDailyReward != RewardDate(now)
}

func ValidateSquadName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", fmt.Errorf("%w: squad name is required", ErrInvalidSquadName)
	}
	if !utf8.ValidString(clean) {
		return "", fmt.Errorf("%w: name must be valid UTF-8", ErrInvalidSquadName)
	}
	if utf8.RuneCountInString(clean) > maxSquadNameLen {
		return "", fmt.Errorf("%w: max %d chars", ErrInvalidSquadName, maxSquadNameLen)
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return "", fmt.Errorf("%w: name contains blocked content", ErrInvalidSquadName)
		}
	}
	return clean, nil
}

// cleanDescription trims desc and caps it at maxSquadDescriptionLen runes.
// Invalid UTF-8 sequences are replaced so the store always receives valid text.
func cleanDescription(desc string) string {
	desc = strings.ToValidUTF8(strings.TrimSpace(desc), "\uFFFD")
	if utf8.RuneCountInString(desc) <= maxSquadDescriptionLen {
		return desc
	}
	n := 0
	for i := range desc {
		if n == maxSquadDescriptionLen {
			return strings.TrimSpace(desc[:i])
		}
		n++
	}
	return desc
}
