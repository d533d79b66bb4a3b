package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"tapsquad/internal/game"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderPlayerData(p game.PlayerData) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(p.UserID))
	fmt.Printf("Coins:      %s\n", comma(p.Coins))
	fmt.Printf("Tap power:  %d\n", p.TapPower)
	fmt.Printf("Total taps: %s\n", comma(p.TotalTaps))
	if p.CanClaimDailyReward {
		success.Println("Daily reward ready, run `tap daily`.")
	} else {
		neutral.Println("Daily reward already claimed today.")
	}
	renderShop(p)
}

func renderShop(p game.PlayerData) {
	accent.Println("\n== SHOP ==")
	fmt.Printf("%-14s %-28s %10s\n", "ID", "UPGRADE", "COST")
	for _, u := range p.AvailableUpgrades {
		cost := comma(u.Cost)
		switch {
		case p.OwnsUpgrade(u.ID) && !u.Repeatable:
			cost = neutral.Sprint("owned")
		case u.Cost > p.Coins:
			cost = danger.Sprint(cost)
		default:
			cost = success.Sprint(cost)
		}
		fmt.Printf("%-14s %-28s %10s\n", u.ID, truncate(u.Name, 28), cost)
	}
	fmt.Println()
}

func renderTap(r game.TapResult, count int) {
	if count > 1 {
		printSuccess(fmt.Sprintf("Tapped %d times!", count))
	} else {
		printSuccess(r.Message)
	}
	fmt.Printf("Coins: %s  Tap power: %d  Total taps: %s\n", comma(r.Coins), r.TapPower, comma(r.TotalTaps))
}

func renderLeaderboard(rows []game.LeaderboardEntry, metric game.Metric) {
	accent.Printf("\n== LEADERBOARD BY %s ==\n", strings.ToUpper(string(metric)))
	if len(rows) == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-6s %-18s %-18s %12s %12s\n", "RANK", "PLAYER", "SQUAD", "COINS", "TAPS")
	for _, row := range rows {
		squad := "-"
		if row.SquadName != nil {
			squad = *row.SquadName
		}
		fmt.Printf("%-6d %-18s %-18s %12s %12s\n",
			row.Rank,
			truncate(row.UserID, 18),
			truncate(squad, 18),
			comma(row.Coins),
			comma(row.TotalTaps),
		)
	}
	fmt.Println()
}

func renderSquadList(squads []game.SquadView) {
	accent.Println("\n== SQUADS ==")
	if len(squads) == 0 {
		printInfo("No squads yet. Create one with `tap squad create <name>`.")
		return
	}
	fmt.Printf("%-36s %-22s %-18s %8s\n", "ID", "NAME", "LEADER", "MEMBERS")
	for _, sq := range squads {
		fmt.Printf("%-36s %-22s %-18s %8d\n", sq.ID, truncate(sq.Name, 22), truncate(leaderName(sq), 18), len(sq.Members))
	}
	fmt.Println()
}

func renderSquad(sq game.SquadView) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(sq.Name))
	if sq.Description != "" {
		printInfo(sq.Description)
	}
	fmt.Printf("Id:     %s\n", sq.ID)
	fmt.Printf("Leader: %s\n", leaderName(sq))
	fmt.Printf("%-18s %12s\n", "MEMBER", "COINS")
	for _, m := range sq.Members {
		name := truncate(m.UserID, 18)
		if sq.Leader != nil && m.ID == sq.Leader.ID {
			name = warn.Sprintf("%-18s", name)
		} else {
			name = fmt.Sprintf("%-18s", name)
		}
		fmt.Printf("%s %12s\n", name, comma(m.Coins))
	}
	fmt.Println()
}

func leaderName(sq game.SquadView) string {
	if sq.Leader == nil {
		return "-"
	}
	return sq.Leader.UserID
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
