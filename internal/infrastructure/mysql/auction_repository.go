package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"quicksell/internal/domain"
)

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

const auctionColumns = `id, seller_id, title, starting_price, current_price, increment_amount,
        buy_now_price, status, start_date, end_date, winner_id, total_bids, unique_bidders,
        created_at, updated_at`

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.Title,
		auction.StartingPrice, auction.CurrentPrice, auction.IncrementAmount,
		auction.BuyNowPrice, int(auction.Status), auction.StartDate, auction.EndDate,
		auction.WinnerID, auction.TotalBids, auction.UniqueBidders,
		auction.CreatedAt, auction.UpdatedAt)
	return err
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}
	return auction, nil
}

func (r *MySQLAuctionRepository) GetExpiredAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE status = ? AND end_date <= ?
        ORDER BY end_date ASC
    `
	return r.queryAuctions(ctx, query, int(domain.AuctionActive), now)
}

func (r *MySQLAuctionRepository) GetDueScheduledAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE status = ? AND start_date <= ?
        ORDER BY start_date ASC
    `
	return r.queryAuctions(ctx, query, int(domain.AuctionScheduled), now)
}

func (r *MySQLAuctionRepository) MarkActive(ctx context.Context, auctionID string) (bool, error) {
	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query,
		int(domain.AuctionActive), time.Now().UTC(), auctionID, int(domain.AuctionScheduled))
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *MySQLAuctionRepository) MarkCancelled(ctx context.Context, auctionID string) (bool, error) {
	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		int(domain.AuctionCancelled), time.Now().UTC(), auctionID,
		int(domain.AuctionScheduled), int(domain.AuctionActive))
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *MySQLAuctionRepository) ExtendEndDate(ctx context.Context, auctionID string, newEnd time.Time) error {
	query := `UPDATE auctions SET end_date = ?, updated_at = ? WHERE id = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, query, newEnd, time.Now().UTC(), auctionID, int(domain.AuctionActive))
	return err
}

func (r *MySQLAuctionRepository) queryAuctions(ctx context.Context, query string, args ...interface{}) ([]*domain.Auction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var status int
	var winnerID sql.NullString

	err := row.Scan(
		&auction.ID, &auction.SellerID, &auction.Title,
		&auction.StartingPrice, &auction.CurrentPrice, &auction.IncrementAmount,
		&auction.BuyNowPrice, &status, &auction.StartDate, &auction.EndDate,
		&winnerID, &auction.TotalBids, &auction.UniqueBidders,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	auction.WinnerID = winnerID.String
	return &auction, nil
}
