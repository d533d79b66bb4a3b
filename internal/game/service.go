package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Service struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for rewards and join timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		log:      logger,
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier wires the broadcast notifier. The notifier depends on the
// service's projector, so it is attached after construction.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

func (s *Service) notify(metrics ...Metric) {
	for _, m := range metrics {
		s.notifier.NotifyPossibleRankChange(m)
	}
}

func (s *Service) EnsurePlayer(ctx context.Context, userID string) (Player, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Player{}, ErrUnauthorized
	}
	return s.store.EnsurePlayer(ctx, userID, s.now())
}

// PlayerData records the login of playerID and reports the shop and daily
// reward state. Player actions take the id returned by EnsurePlayer.
func (s *Service) PlayerData(ctx context.Context, playerID string) (PlayerData, error) {
	now := s.now()
	p, err := s.store.UpdatePlayer(ctx, playerID, func(p *Player) error {
		p.LastLogin = now
		return nil
	})
	if err != nil {
		return PlayerData{}, err
	}
	return PlayerData{
		Player:              p,
		AvailableUpgrades:   AvailableUpgrades(),
		CanClaimDailyReward: CanClaimDailyReward(p, now),
	}, nil
}

func (s *Service) Tap(ctx context.Context, playerID string) (TapResult, error) {
	p, err := s.store.UpdatePlayer(ctx, playerID, func(p *Player) error {
		p.Coins += p.TapPower
		p.TotalTaps++
		return nil
	})
	if err != nil {
		return TapResult{}, err
	}
	s.log.Debug("tap", "user_id", p.UserID, "coins", p.Coins, "total_taps", p.TotalTaps)
	s.notify(MetricCoins, MetricTotalTaps)
	return TapResult{
		Coins:     p.Coins,
		TapPower:  p.TapPower,
		TotalTaps: p.TotalTaps,
		Message:   "Tap successful!",
	}, nil
}

func (s *Service) PurchaseUpgrade(ctx context.Context, playerID, upgradeID string) (PurchaseResult, error) {
	upgrade, ok := LookupUpgrade(upgradeID)
	if !ok {
		return PurchaseResult{}, ErrUpgradeNotFound
	}
	p, err := s.store.UpdatePlayer(ctx, playerID, func(p *Player) error {
		if !upgrade.Repeatable && p.OwnsUpgrade(upgrade.ID) {
			return ErrUpgradeOwned
		}
		if p.Coins < upgrade.Cost {
			return fmt.Errorf("%w: %s costs %d, you have %d", ErrInsufficientCoins, upgrade.Name, upgrade.Cost, p.Coins)
		}
		p.Coins -= upgrade.Cost
		p.TapPower = upgrade.apply(p.TapPower)
		if !p.OwnsUpgrade(upgrade.ID) {
			p.Upgrades = append(p.Upgrades, upgrade.ID)
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("upgrade purchased", "user_id", p.UserID, "upgrade", upgrade.ID, "coins", p.Coins, "tap_power", p.TapPower)
	s.notify(MetricCoins)
	return PurchaseResult{
		Player:  p,
		Message: fmt.Sprintf("Upgrade '%s' purchased!", upgrade.Name),
	}, nil
}

func (s *Service) ClaimDailyReward(ctx context.Context, playerID string) (RewardResult, error) {
	today := RewardDate(s.now())
	p, err := s.store.UpdatePlayer(ctx, playerID, func(p *Player) error {
		if p.LastDailyReward == today {
			return ErrRewardClaimed
		}
		p.Coins += DailyRewardCoins
		p.LastDailyReward = today
		return nil
	})
	if err != nil {
		return RewardResult{}, err
	}
	s.log.Info("daily reward claimed", "user_id", p.UserID, "amount", DailyRewardCoins, "coins", p.Coins)
	s.notify(MetricCoins)
	return RewardResult{
		Coins:                  p.Coins,
		LastDailyRewardClaimed: p.LastDailyReward,
		Amount:                 DailyRewardCoins,
		Message:                fmt.Sprintf("Daily reward of %d coins claimed!", DailyRewardCoins),
	}, nil
}
