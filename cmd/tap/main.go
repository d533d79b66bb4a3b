package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tapsquad/internal/auth"
	"tapsquad/internal/broadcast"
	cl "tapsquad/internal/cli"
	"tapsquad/internal/config"
	"tapsquad/internal/game"
	"tapsquad/internal/syncq"
)

type app struct {
	apiBase   string
	player    string
	jwtSecret string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	a := &app{apiBase: cfg.APIBaseURL, player: cfg.PlayerID, jwtSecret: cfg.JWTSecret}

	root := &cobra.Command{
		Use:          "tap",
		Short:        "Tap squad CLI game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.apiBase, "api", a.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&a.player, "as", a.player, "play as this player id for one command")

	root.AddCommand(
		a.newUseCmd(),
		a.newMeCmd(),
		a.newTapCmd(),
		a.newSyncCmd(),
		a.newBuyCmd(),
		a.newDailyCmd(),
		a.newSquadCmd(),
		a.newLeaderboardCmd(),
		a.newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) client() (*cl.Client, error) {
	p, err := cl.LoadProfile(a.player)
	if err != nil {
		return nil, err
	}
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(a.apiBase), "/"), p), nil
}

func (a *app) newUseCmd() *cobra.Command {
	var (
		token    string
		issue    bool
		issueTTL time.Duration
	)
	cmd := &cobra.Command{
		Use:   "use [player_id]",
		Short: "Choose the player this CLI plays as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = strings.TrimSpace(args[0])
			} else {
				var err error
				if id, err = promptRequired("Player id"); err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if issue {
				if token != "" {
					return fmt.Errorf("--token and --issue are mutually exclusive")
				}
				if a.jwtSecret == "" {
					return fmt.Errorf("--issue needs TAPSQUAD_JWT_SECRET")
				}
				signed, err := auth.NewJWTResolver(a.jwtSecret).Issue(id, issueTTL)
				if err != nil {
					return fmt.Errorf("sign token: %w", err)
				}
				token = signed
			}
			if err := cl.SaveProfile(cl.Profile{PlayerID: id, Token: token}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Now playing as %s.", id))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token to send instead of trusting the player id")
	cmd.Flags().BoolVar(&issue, "issue", false, "sign a token for the player with TAPSQUAD_JWT_SECRET (local dev)")
	cmd.Flags().DurationVar(&issueTTL, "ttl", 24*time.Hour, "lifetime of a token signed with --issue")
	return cmd
}

func (a *app) newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your coins, upgrades and daily reward status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.PlayerData(ctx)
			if err != nil {
				return err
			}
			renderPlayerData(out)
			return nil
		},
	}
}

func (a *app) newTapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tap [count]",
		Short: "Tap for coins",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) > 0 {
				n, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid tap count")
				}
				count = n
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			var last game.TapResult
			for i := 0; i < count; i++ {
				idem := uuid.NewString()
				last, err = client.Tap(ctx, idem)
				if err != nil {
					pending := make([]syncq.Command, 0, count-i)
					for j := i; j < count; j++ {
						pending = append(pending, syncq.Command{Method: http.MethodPost, Path: "/api/tap", IdempotencyKey: uuid.NewString()})
					}
					return queueOnNetworkError(err, pending...)
				}
			}
			renderTap(last, count)
			return nil
		},
	}
}

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay taps queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sent, remaining, err := syncq.Replay(func(q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				return err
			}, func(err error) bool { return !isAPIStructuredError(err) })
			if err != nil {
				printError(fmt.Sprintf("Sync stopped: %v", err))
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", sent, len(remaining)))
			return nil
		},
	}
}

func (a *app) newBuyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy [upgrade_id]",
		Short: "Buy a shop upgrade",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var id string
			if len(args) > 0 {
				id = strings.TrimSpace(args[0])
			} else {
				data, err := client.PlayerData(ctx)
				if err != nil {
					return err
				}
				renderShop(data)
				if id, err = promptRequired("Upgrade id"); err != nil {
					return err
				}
			}
			out, err := client.PurchaseUpgrade(ctx, id, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(out.Message)
			printInfo(fmt.Sprintf("Coins: %s  Tap power: %d", comma(out.Player.Coins), out.Player.TapPower))
			return nil
		},
	}
}

func (a *app) newDailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Claim today's reward",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.ClaimDailyReward(ctx, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(out.Message)
			printInfo(fmt.Sprintf("Coins: %s", comma(out.Coins)))
			return nil
		},
	}
}

func (a *app) newSquadCmd() *cobra.Command {
	squad := &cobra.Command{
		Use:     "squad",
		Short:   "Squad commands",
		Aliases: []string{"squads"},
	}

	var description string
	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a squad and lead it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			if strings.TrimSpace(name) == "" {
				prompted, err := promptRequired("Squad name")
				if err != nil {
					return err
				}
				name = prompted
			}
			name, err := game.ValidateSquadName(name)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.CreateSquad(ctx, name, description)
			if err != nil {
				return err
			}
			printSuccess(out.Message)
			printInfo("Squad id: " + out.Squad.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "squad description")
	squad.AddCommand(create)

	squad.AddCommand(&cobra.Command{
		Use:   "join <squad_id>",
		Short: "Join a squad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.JoinSquad(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			printSuccess(out.Message)
			return nil
		},
	})

	squad.AddCommand(&cobra.Command{
		Use:   "leave",
		Short: "Leave your squad",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.LeaveSquad(ctx)
			if err != nil {
				return err
			}
			if out.Outcome == game.LeaveDisbanded {
				printWarn(out.Message)
				return nil
			}
			printSuccess(out.Message)
			return nil
		},
	})

	squad.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all squads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.ListSquads(ctx)
			if err != nil {
				return err
			}
			renderSquadList(out)
			return nil
		},
	})

	squad.AddCommand(&cobra.Command{
		Use:   "show <squad_id>",
		Short: "Show one squad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.SquadDetail(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderSquad(out)
			return nil
		},
	})

	squad.AddCommand(&cobra.Command{
		Use:   "mine",
		Short: "Show the squad you are in",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.PlayerSquad(ctx)
			if err != nil {
				return err
			}
			if out.Squad == nil {
				printInfo(out.Message)
				return nil
			}
			renderSquad(*out.Squad)
			return nil
		},
	})
	return squad
}

func (a *app) newLeaderboardCmd() *cobra.Command {
	var by string
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show the top players",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := game.ParseMetric(by)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := client.Leaderboard(ctx, metric, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows, metric)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", string(game.MetricCoins), "coins or totalTaps")
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to show")
	return cmd
}

func (a *app) newWatchCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := game.ParseMetric(by)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printInfo("Watching the leaderboard, Ctrl-C to stop.")
			return client.Watch(ctx, metric, func(u broadcast.Update) {
				accent.Printf("\n-- %s --\n", u.SentAt.Local().Format(time.Kitchen))
				renderLeaderboard(u.Players, u.SortBy)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", string(game.MetricCoins), "coins or totalTaps")
	return cmd
}

func queueOnNetworkError(err error, pending ...syncq.Command) error {
	if err == nil {
		return nil
	}
	if isAPIStructuredError(err) || errors.Is(err, context.Canceled) || len(pending) == 0 {
		return err
	}
	if qerr := syncq.Push(pending...); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qerr))
	}
	printWarn(fmt.Sprintf("API unreachable, queued %d command(s). Run `tap sync` later.", len(pending)))
	return nil
}

func isAPIStructuredError(err error) bool {
	var apiErr *cl.APIError
	return errors.As(err, &apiErr)
}
