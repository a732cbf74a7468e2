package offer

import (
	"context"
	"database/sql"

	"github.com/ivooa3/mybidly/internal/money"
)

// PostgresStore persists offers in PostgreSQL. Stock reservations are
// conditional UPDATEs so the database, not the application, arbitrates
// concurrent claims on the last unit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, merchant_id, name, min_selling_price, fixed_price,
	bid_range_min, bid_range_max, stock_quantity, priority, is_active,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.MerchantID, o.Name, o.MinSellingPrice.Int64(), o.FixedPrice.Int64(),
		o.BidRangeMin.Int64(), o.BidRangeMax.Int64(), o.StockQuantity,
		o.Priority, o.IsActive, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Offer) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET
			name = $1, min_selling_price = $2, fixed_price = $3,
			bid_range_min = $4, bid_range_max = $5, stock_quantity = $6,
			priority = $7, is_active = $8, updated_at = $9
		WHERE id = $10`,
		o.Name, o.MinSellingPrice.Int64(), o.FixedPrice.Int64(),
		o.BidRangeMin.Int64(), o.BidRangeMax.Int64(), o.StockQuantity,
		o.Priority, o.IsActive, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

// Delete removes an offer. Dependent bids go with it via the bids table's
// ON DELETE CASCADE foreign key.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE merchant_id = $1
		ORDER BY priority ASC`, merchantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ActiveForMerchant(ctx context.Context, merchantID string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE merchant_id = $1 AND is_active AND stock_quantity > 0
		ORDER BY priority ASC
		LIMIT 1`, merchantID)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

// TryReserve decrements stock in a single conditional UPDATE. Zero rows
// affected means the offer is sold out (or gone).
func (p *PostgresStore) TryReserve(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET stock_quantity = stock_quantity - 1, updated_at = NOW()
		WHERE id = $1 AND stock_quantity > 0`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) Release(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET stock_quantity = stock_quantity + 1, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(s scanner) (*Offer, error) {
	o := &Offer{}
	var minPrice, fixedPrice, rangeMin, rangeMax int64

	err := s.Scan(&o.ID, &o.MerchantID, &o.Name, &minPrice, &fixedPrice,
		&rangeMin, &rangeMax, &o.StockQuantity, &o.Priority, &o.IsActive,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.MinSellingPrice = money.Cents(minPrice)
	o.FixedPrice = money.Cents(fixedPrice)
	o.BidRangeMin = money.Cents(rangeMin)
	o.BidRangeMax = money.Cents(rangeMax)
	return o, nil
}

var _ Store = (*PostgresStore)(nil)
