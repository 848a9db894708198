package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/crewctl/internal/bus"
	otelpkg "github.com/basket/crewctl/internal/otel"
	"github.com/basket/crewctl/internal/persistence"
)

// Poller watches the newest task change marker and publishes a board-refresh
// signal when it moves. CLI processes write to the same SQLite file without
// going through this server, so change detection has to come from the
// database, not from in-process events alone.
type Poller struct {
	store    *persistence.Store
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *otelpkg.Metrics
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerConfig holds the dependencies for the board poller.
type PollerConfig struct {
	Store    *persistence.Store
	Bus      *bus.Bus
	Logger   *slog.Logger
	Metrics  *otelpkg.Metrics
	Interval time.Duration // defaults to 2s if zero
}

// NewPoller creates a board-change poller.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
	}
}

// Start begins polling in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	// Seed the marker so startup state does not count as a change.
	last, err := p.store.LatestTaskChange(ctx)
	if err != nil {
		p.logger.Error("board poll seed failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := p.store.LatestTaskChange(ctx)
			if err != nil {
				p.logger.Error("board poll failed", "error", err)
				continue
			}
			if latest == last {
				continue
			}
			last = latest
			p.bus.Publish(bus.TopicBoardRefresh, bus.BoardRefreshEvent{
				Latest: latest,
				TS:     time.Now().Unix(),
			})
			if p.metrics != nil {
				p.metrics.RefreshSignals.Add(ctx, 1)
			}
			p.logger.Debug("board refresh signal", "latest", latest)
		}
	}
}
