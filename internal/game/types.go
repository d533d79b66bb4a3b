package game

import "time"

type Player struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Coins           int64     `json:"coins"`
	TapPower        int64     `json:"tapPower"`
	Upgrades        []string  `json:"upgrades"`
	LastDailyReward string    `json:"lastDailyRewardClaimed,omitempty"`
	TotalTaps       int64     `json:"totalTaps"`
	SquadID         string    `json:"squadId,omitempty"`
	LastLogin       time.Time `json:"lastLogin"`
	CreatedAt       time.Time `json:"createdAt"`

	// Seq is the creation order, used to break leaderboard ties.
	Seq int64 `json:"-"`
}

func (p Player) InSquad() bool {
	return p.SquadID != ""
}

func (p Player) OwnsUpgrade(id string) bool {
	for _, u := range p.Upgrades {
		if u == id {
			return true
		}
	}
	return false
}

func (p Player) Clone() Player {
	out := p
	out.Upgrades = append([]string(nil), p.Upgrades...)
	return out
}

// Member is a squad membership. Members are kept in join order.
type Member struct {
	PlayerID string    `json:"playerId"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Squad struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LeaderID    string    `json:"leaderId"`
	Members     []Member  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s Squad) HasMember(playerID string) bool {
	return s.memberIndex(playerID) >= 0
}

func (s Squad) memberIndex(playerID string) int {
	for i, m := range s.Members {
		if m.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (s Squad) MemberIDs() []string {
	out := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		out = append(out, m.PlayerID)
	}
	return out
}

func (s Squad) Clone() Squad {
	out := s
	out.Members = append([]Member(nil), s.Members...)
	return out
}

// Membership is a (squad, player) pair as seen from the squad side.
type Membership struct {
	SquadID  string
	PlayerID string
	JoinedAt time.Time
}

// LeaderboardEntry is a derived, never persisted, row of the leaderboard.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	UserID    string  `json:"userId"`
	Coins     int64   `json:"coins"`
	TotalTaps int64   `json:"totalTaps"`
	SquadName *string `json:"squadName"`
}

type PlayerData struct {
	Player
	AvailableUpgrades   []Upgrade `json:"availableUpgrades"`
	CanClaimDailyReward bool      `json:"canClaimDailyReward"`
}

type TapResult struct {
	Coins     int64  `json:"coins"`
	TapPower  int64  `json:"tapPower"`
	TotalTaps int64  `json:"totalTaps"`
	Message   string `json:"message"`
}

type RewardResult struct {
	Coins                  int64  `json:"coins"`
	LastDailyRewardClaimed string `json:"lastDailyRewardClaimed"`
	Amount                 int64  `json:"amount"`
	Message                string `json:"message"`
}

type PurchaseResult struct {
	Player  Player `json:"playerData"`
	Message string `json:"message"`
}

// PlayerRef is the public view of a player inside a squad.
type PlayerRef struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Coins  int64  `json:"coins"`
}

type SquadView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Leader      *PlayerRef  `json:"leader"`
	Members     []PlayerRef `json:"members"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type JoinResult struct {
	Squad   Squad  `json:"squad"`
	Player  Player `json:"player"`
	Message string `json:"message"`
}

// LeaveOutcome describes what happened to a squad when a member left it.
type LeaveOutcome string

const (
	LeavePersisted         LeaveOutcome = "persisted"
	LeaveLeaderTransferred LeaveOutcome = "leader_transferred"
	LeaveDisbanded         LeaveOutcome = "disbanded"
)

type LeaveResult struct {
	SquadID     string       `json:"squadId"`
	SquadName   string       `json:"squadName"`
	Outcome     LeaveOutcome `json:"outcome"`
	NewLeaderID string       `json:"newLeaderId,omitempty"`
	Player      Player       `json:"player"`
	Message     string       `json:"message"`
}

type ReconcileReport struct {
	HealedPlayers   int `json:"healedPlayers"`
	PrunedMembers   int `json:"prunedMembers"`
	DisbandedSquads int `json:"disbandedSquads"`
}

func (r ReconcileReport) Changed() bool {
	return r.HealedPlayers > 0 || r.PrunedMembers > 0 || r.DisbandedSquads > 0
}
