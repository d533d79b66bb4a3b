package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tapsquad/internal/game"
)

type Projector interface {
	Compute(ctx context.Context, metric game.Metric, limit int) ([]game.LeaderboardEntry, error)
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

const defaultComputeTimeout = 5 * time.Second

// Notifier recomputes and publishes leaderboards when the game reports a
// possible rank change. Requests for one metric are coalesced: at most one
// recompute is pending while another runs, and each metric is published from
// a single goroutine so its updates stay in order.
type Notifier struct {
	projector  Projector
	publishers []Publisher
	limit      int
	timeout    time.Duration
	log        *slog.Logger
	now        func() time.Time

	triggers map[game.Metric]chan struct{}
}

func NewNotifier(projector Projector, limit int, logger *slog.Logger, publishers ...Publisher) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		projector:  projector,
		publishers: publishers,
		limit:      game.ClampLimit(limit),
		timeout:    defaultComputeTimeout,
		log:        logger,
		now:        time.Now,
		triggers:   make(map[game.Metric]chan struct{}, len(game.Metrics)),
	}
	for _, m := range game.Metrics {
		n.triggers[m] = make(chan struct{}, 1)
	}
	return n
}

// NotifyPossibleRankChange schedules a recompute for metric and returns
// immediately.
func (n *Notifier) NotifyPossibleRankChange(metric game.Metric) {
	ch, ok := n.triggers[metric]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run processes scheduled recomputes until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for metric, ch := range n.triggers {
		wg.Add(1)
		go func(metric game.Metric, ch <-chan struct{}) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					if err := n.PublishNow(ctx, metric); err != nil && ctx.Err() == nil {
						n.log.Warn("leaderboard broadcast failed", "metric", string(metric), "err", err)
					}
				}
			}
		}(metric, ch)
	}
	wg.Wait()
}

// PublishNow computes the leaderboard for metric and hands it to every
// publisher. A failing publisher does not stop the others.
func (n *Notifier) PublishNow(ctx context.Context, metric game.Metric) error {
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	entries, err := n.projector.Compute(cctx, metric, n.limit)
	if err != nil {
		return err
	}
	u := NewUpdate(metric, entries, n.now())
	var firstErr error
	for _, p := range n.publishers {
		if err := p.Publish(cctx, u); err != nil {
			n.log.Warn("publish leaderboard failed", "metric", string(metric), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Snapshot encodes the current leaderboard for metric, for greeting new
// observers.
func (n *Notifier) Snapshot(ctx context.Context, metric game.Metric) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	entries, err := n.projector.Compute(cctx, metric, n.limit)
	if err != nil {
		return nil, err
	}
	return Encode(NewUpdate(metric, entries, n.now()))
}
