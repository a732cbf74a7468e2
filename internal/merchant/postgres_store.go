package merchant

import (
	"context"
	"database/sql"
)

// PostgresStore persists merchants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed merchant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const merchantColumns = `id, name, platform_fee_bps, gateway_account_id, is_active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, m *Merchant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Name, m.PlatformFeeBasisPoints,
		nullString(m.GatewayAccountID), m.IsActive, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Merchant, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	m, err := scanMerchant(row)
	if err == sql.ErrNoRows {
		return nil, ErrMerchantNotFound
	}
	return m, err
}

func (p *PostgresStore) Update(ctx context.Context, m *Merchant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE merchants SET
			name = $1, platform_fee_bps = $2, gateway_account_id = $3,
			is_active = $4, updated_at = $5
		WHERE id = $6`,
		m.Name, m.PlatformFeeBasisPoints, nullString(m.GatewayAccountID),
		m.IsActive, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Merchant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+merchantColumns+` FROM merchants
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMerchant(s scanner) (*Merchant, error) {
	m := &Merchant{}
	var gatewayAccount sql.NullString

	err := s.Scan(&m.ID, &m.Name, &m.PlatformFeeBasisPoints,
		&gatewayAccount, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.GatewayAccountID = gatewayAccount.String
	return m, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
