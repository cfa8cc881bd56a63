package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quicksell/internal/domain"

	"github.com/go-sql-driver/mysql"
)

// MySQLLedgerStore serializes all bid appends and terminal transitions for an
// auction on its row lock. Two bids racing for the same auction block on
// SELECT ... FOR UPDATE; the loser re-checks against the committed price and
// is rejected instead of winning at a stale price.
type MySQLLedgerStore struct {
	db         *sql.DB
	increments domain.IncrementSource
}

func NewMySQLLedgerStore(db *sql.DB, increments domain.IncrementSource) *MySQLLedgerStore {
	return &MySQLLedgerStore{db: db, increments: increments}
}

func (s *MySQLLedgerStore) AppendBid(ctx context.Context, bid *domain.Bid, buyNow bool) (*domain.AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		status       int
		currentPrice int64
		increment    int64
		buyNowPrice  int64
		totalBids    int
	)
	lockQuery := `
        SELECT status, current_price, increment_amount, buy_now_price, total_bids
        FROM auctions WHERE id = ? FOR UPDATE
    `
	err = tx.QueryRowContext(ctx, lockQuery, bid.AuctionID).Scan(
		&status, &currentPrice, &increment, &buyNowPrice, &totalBids)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, mapConflict(err)
	}

	if domain.AuctionStatus(status) != domain.AuctionActive {
		return nil, domain.ErrStaleAuction
	}

	if increment == 0 {
		increment = s.increments.IncrementFor(currentPrice)
	}
	minimum := currentPrice + increment
	if bid.Amount < minimum {
		return nil, fmt.Errorf("%w: minimum acceptable bid is %d", domain.ErrBidTooLow, minimum)
	}

	var previousLeader string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM bids WHERE auction_id = ? AND status = ?`,
		bid.AuctionID, string(domain.BidWinning)).Scan(&previousLeader)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapConflict(err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bids SET status = ? WHERE auction_id = ? AND status = ?`,
		string(domain.BidOutbid), bid.AuctionID, string(domain.BidWinning))
	if err != nil {
		return nil, mapConflict(err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO bids (id, auction_id, user_id, amount, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		bid.ID, bid.AuctionID, bid.UserID, bid.Amount, string(domain.BidWinning), bid.CreatedAt)
	if err != nil {
		return nil, mapConflict(err)
	}

	var uniqueBidders int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM bids WHERE auction_id = ?`,
		bid.AuctionID).Scan(&uniqueBidders)
	if err != nil {
		return nil, mapConflict(err)
	}

	sold := buyNow && buyNowPrice > 0 && bid.Amount >= buyNowPrice
	now := time.Now().UTC()
	if sold {
		_, err = tx.ExecContext(ctx, `
            UPDATE auctions
            SET current_price = ?, total_bids = ?, unique_bidders = ?,
                status = ?, winner_id = ?, updated_at = ?
            WHERE id = ?`,
			bid.Amount, totalBids+1, uniqueBidders,
			int(domain.AuctionSold), bid.UserID, now, bid.AuctionID)
	} else {
		_, err = tx.ExecContext(ctx, `
            UPDATE auctions
            SET current_price = ?, total_bids = ?, unique_bidders = ?, updated_at = ?
            WHERE id = ?`,
			bid.Amount, totalBids+1, uniqueBidders, now, bid.AuctionID)
	}
	if err != nil {
		return nil, mapConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConflict(err)
	}

	return &domain.AppendResult{
		State: domain.LedgerState{
			AuctionID:     bid.AuctionID,
			CurrentPrice:  bid.Amount,
			LeaderID:      bid.UserID,
			BidCount:      totalBids + 1,
			UniqueBidders: uniqueBidders,
		},
		PreviousLeaderID: previousLeader,
		Sold:             sold,
	}, nil
}

func (s *MySQLLedgerStore) FinalizeAuction(ctx context.Context, auctionID string, now time.Time) (*domain.ClosingResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status int
	var endDate time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT status, end_date FROM auctions WHERE id = ? FOR UPDATE`,
		auctionID).Scan(&status, &endDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, mapConflict(err)
	}

	// The status guard makes re-processing a no-op: a finished auction is
	// never finalized twice.
	if domain.AuctionStatus(status) != domain.AuctionActive || endDate.After(now) {
		return &domain.ClosingResult{AuctionID: auctionID, Outcome: domain.ClosedSkipped}, tx.Commit()
	}

	var winnerID string
	var finalPrice int64
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, amount FROM bids WHERE auction_id = ? AND status = ?`,
		auctionID, string(domain.BidWinning)).Scan(&winnerID, &finalPrice)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapConflict(err)
	}

	bidders, err := distinctBidders(ctx, tx, auctionID)
	if err != nil {
		return nil, mapConflict(err)
	}

	result := &domain.ClosingResult{
		AuctionID:  auctionID,
		WinnerID:   winnerID,
		FinalPrice: finalPrice,
		Bidders:    bidders,
	}

	ts := time.Now().UTC()
	if winnerID != "" {
		result.Outcome = domain.ClosedSold
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET status = ?, winner_id = ?, updated_at = ? WHERE id = ?`,
			int(domain.AuctionSold), winnerID, ts, auctionID)
	} else {
		result.Outcome = domain.ClosedNoBids
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET status = ?, updated_at = ? WHERE id = ?`,
			int(domain.AuctionEnded), ts, auctionID)
	}
	if err != nil {
		return nil, mapConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return result, nil
}

func (s *MySQLLedgerStore) CurrentState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	state := &domain.LedgerState{AuctionID: auctionID}

	err := s.db.QueryRowContext(ctx,
		`SELECT current_price, total_bids, unique_bidders FROM auctions WHERE id = ?`,
		auctionID).Scan(&state.CurrentPrice, &state.BidCount, &state.UniqueBidders)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT user_id FROM bids WHERE auction_id = ? AND status = ?`,
		auctionID, string(domain.BidWinning)).Scan(&state.LeaderID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return state, nil
}

func (s *MySQLLedgerStore) BidHistory(ctx context.Context, auctionID string, limit, offset int) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, user_id, amount, status, created_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY created_at ASC, id ASC
        LIMIT ? OFFSET ?
    `
	rows, err := s.db.QueryContext(ctx, query, auctionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid
		var status string

		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.UserID, &bid.Amount, &status, &bid.CreatedAt)
		if err != nil {
			return nil, err
		}

		bid.Status = domain.BidStatus(status)
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}

func distinctBidders(ctx context.Context, tx *sql.Tx, auctionID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM bids WHERE auction_id = ?`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bidders []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		bidders = append(bidders, userID)
	}

	return bidders, rows.Err()
}

// MySQL deadlock and lock-wait-timeout errors are retriable.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func mapConflict(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if mysqlErr.Number == errDeadlock || mysqlErr.Number == errLockWaitTimeout {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}
