package services

import (
	"context"
	"fmt"
	"time"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronClosingScheduler periodically activates due scheduled auctions and
// finalizes expired active ones. The sweep is safe under at-least-once
// execution: every transition is guarded by the stored status, so overlapping
// or repeated ticks are no-ops for already-processed auctions.
type CronClosingScheduler struct {
	cron       *cron.Cron
	auctions   domain.AuctionRepository
	ledger     *Ledger
	stateCache domain.StateCache
	election   domain.LeaderElection
	instanceID string
	interval   time.Duration
	clk        clock.Clock
	log        logger.Logger
}

func NewCronClosingScheduler(
	auctions domain.AuctionRepository,
	ledger *Ledger,
	stateCache domain.StateCache,
	election domain.LeaderElection,
	instanceID string,
	interval time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *CronClosingScheduler {
	return &CronClosingScheduler{
		cron:       cron.New(cron.WithSeconds()),
		auctions:   auctions,
		ledger:     ledger,
		stateCache: stateCache,
		election:   election,
		instanceID: instanceID,
		interval:   interval,
		clk:        clk,
		log:        log,
	}
}

func (s *CronClosingScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting closing scheduler", "interval", s.interval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronClosingScheduler) Stop() error {
	s.log.Info("Stopping closing scheduler")
	s.cron.Stop()
	return nil
}

// Sweep runs one scheduler pass. Exported so a tick can be driven directly.
func (s *CronClosingScheduler) Sweep(ctx context.Context) {
	if s.election != nil {
		isLeader, err := s.election.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Leader check failed, skipping sweep", "error", err)
			return
		}
		if !isLeader {
			return
		}
	}

	s.activateDue(ctx)
	s.closeExpired(ctx)
}

func (s *CronClosingScheduler) activateDue(ctx context.Context) {
	due, err := s.auctions.GetDueScheduledAuctions(ctx, s.clk.Now())
	if err != nil {
		s.log.Error("Failed to query due scheduled auctions", "error", err)
		return
	}

	for _, auction := range due {
		activated, err := s.auctions.MarkActive(ctx, auction.ID)
		if err != nil {
			s.log.Error("Failed to activate auction", "auction_id", auction.ID, "error", err)
			continue
		}
		if !activated {
			continue
		}

		if err := s.stateCache.SetAuctionStatus(ctx, auction.ID, domain.AuctionActive); err != nil {
			s.log.Warn("Failed to refresh status cache", "auction_id", auction.ID, "error", err)
		}
		s.log.Info("Auction activated", "auction_id", auction.ID)
	}
}

func (s *CronClosingScheduler) closeExpired(ctx context.Context) {
	expired, err := s.auctions.GetExpiredAuctions(ctx, s.clk.Now())
	if err != nil {
		// Retry on the next tick; the status guard keeps that safe.
		s.log.Error("Failed to query expired auctions", "error", err)
		return
	}

	for _, auction := range expired {
		result, err := s.ledger.Finalize(ctx, auction.ID)
		if err != nil {
			// One auction's failure must not block the rest of the batch.
			s.log.Error("Failed to finalize auction", "auction_id", auction.ID, "error", err)
			continue
		}

		switch result.Outcome {
		case domain.ClosedSkipped:
			s.log.Debug("Auction already finalized", "auction_id", auction.ID)
		case domain.ClosedSold:
			s.log.Info("Auction sold", "auction_id", auction.ID,
				"winner_id", result.WinnerID, "final_price", result.FinalPrice)
		case domain.ClosedNoBids:
			s.log.Info("Auction ended with no bids", "auction_id", auction.ID)
		}
	}
}
