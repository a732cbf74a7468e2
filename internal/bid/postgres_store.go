package bid

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ivooa3/mybidly/internal/money"
)

// PostgresStore persists bids in PostgreSQL. Status transitions and sweep
// claims are conditional UPDATEs so the database arbitrates races between
// instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bid store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bidColumns = `id, offer_id, merchant_id, amount, status, payment_ref,
	settlement_ref, captured, platform_fee, merchant_amount, customer_email,
	customer_name, shipping_address, locale, resolution, created_at,
	resolved_at, swept_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Bid) error {
	addr, err := marshalAddress(b.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		b.ID, b.OfferID, b.MerchantID, b.Amount.Int64(), string(b.Status),
		nullString(b.PaymentRef), nullString(b.SettlementRef), b.Captured,
		b.PlatformFee.Int64(), b.MerchantAmount.Int64(), b.CustomerEmail,
		nullString(b.CustomerName), addr, nullString(b.Locale),
		nullString(string(b.Resolution)), b.CreatedAt, nullTime(b.ResolvedAt),
		nullTime(b.SweptAt), b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Bid, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	b, err := scanBid(row)
	if err == sql.ErrNoRows {
		return nil, ErrBidNotFound
	}
	return b, err
}

func (p *PostgresStore) UpdateStatusFrom(ctx context.Context, b *Bid, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bids SET
			status = $1, payment_ref = $2, settlement_ref = $3, captured = $4,
			resolution = $5, resolved_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(b.Status), nullString(b.PaymentRef), nullString(b.SettlementRef),
		b.Captured, nullString(string(b.Resolution)), nullTime(b.ResolvedAt),
		b.UpdatedAt, b.ID, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a lost race from a missing row.
		if _, getErr := p.Get(ctx, b.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) SetShippingAddress(ctx context.Context, id string, addr *ShippingAddress) error {
	blob, err := marshalAddress(addr)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE bids SET shipping_address = $1, updated_at = NOW()
		WHERE id = $2 AND shipping_address IS NULL`, blob, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrShippingAlreadySet
	}
	return nil
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, status Status, limit int) ([]*Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE merchant_id = $1`
	args := []interface{}{merchantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectBids(rows)
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Bid, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE status = 'pending' AND swept_at IS NULL AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectBids(rows)
}

func (p *PostgresStore) ClaimForSweep(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bids SET swept_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending' AND swept_at IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) UnclaimSweep(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bids SET swept_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) DeleteByOffer(ctx context.Context, offerID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM bids WHERE offer_id = $1`, offerID)
	return err
}

const intentColumns = `id, offer_id, merchant_id, merchant_account, amount,
	status, payment_ref, bid_id, created_at, updated_at`

func (p *PostgresStore) CreateIntent(ctx context.Context, in *Intent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		in.ID, in.OfferID, in.MerchantID, nullString(in.MerchantAccount),
		in.Amount.Int64(), string(in.Status), nullString(in.PaymentRef),
		nullString(in.BidID), in.CreatedAt, in.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) UpdateIntent(ctx context.Context, in *Intent) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_intents SET
			status = $1, payment_ref = $2, bid_id = $3, updated_at = $4
		WHERE id = $5`,
		string(in.Status), nullString(in.PaymentRef), nullString(in.BidID),
		in.UpdatedAt, in.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBidNotFound
	}
	return nil
}

func (p *PostgresStore) ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status IN ('authorizing', 'authorized') AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func collectBids(rows *sql.Rows) ([]*Bid, error) {
	var result []*Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBid(s scanner) (*Bid, error) {
	b := &Bid{}
	var (
		amount, platformFee, merchantAmount      int64
		status                                   string
		paymentRef, settlementRef, customerName  sql.NullString
		addr                                     []byte
		locale, resolution                       sql.NullString
		resolvedAt, sweptAt                      sql.NullTime
	)

	err := s.Scan(&b.ID, &b.OfferID, &b.MerchantID, &amount, &status,
		&paymentRef, &settlementRef, &b.Captured, &platformFee,
		&merchantAmount, &b.CustomerEmail, &customerName, &addr, &locale,
		&resolution, &b.CreatedAt, &resolvedAt, &sweptAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	b.Amount = money.Cents(amount)
	b.PlatformFee = money.Cents(platformFee)
	b.MerchantAmount = money.Cents(merchantAmount)
	b.Status = Status(status)
	b.PaymentRef = paymentRef.String
	b.SettlementRef = settlementRef.String
	b.CustomerName = customerName.String
	b.Locale = locale.String
	b.Resolution = Resolution(resolution.String)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		b.ResolvedAt = &t
	}
	if sweptAt.Valid {
		t := sweptAt.Time
		b.SweptAt = &t
	}
	if len(addr) > 0 {
		b.ShippingAddress = &ShippingAddress{}
		if err := json.Unmarshal(addr, b.ShippingAddress); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func scanIntent(s scanner) (*Intent, error) {
	in := &Intent{}
	var (
		amount                          int64
		status                          string
		account, paymentRef, bidID      sql.NullString
	)

	err := s.Scan(&in.ID, &in.OfferID, &in.MerchantID, &account, &amount,
		&status, &paymentRef, &bidID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}

	in.Amount = money.Cents(amount)
	in.Status = IntentStatus(status)
	in.MerchantAccount = account.String
	in.PaymentRef = paymentRef.String
	in.BidID = bidID.String
	return in, nil
}

func marshalAddress(addr *ShippingAddress) ([]byte, error) {
	if addr == nil {
		return nil, nil
	}
	return json.Marshal(addr)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
