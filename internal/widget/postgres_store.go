package widget

import (
	"context"
	"database/sql"
)

// PostgresViewStore persists widget impressions in PostgreSQL.
type PostgresViewStore struct {
	db *sql.DB
}

// NewPostgresViewStore creates a new PostgreSQL-backed view store.
func NewPostgresViewStore(db *sql.DB) *PostgresViewStore {
	return &PostgresViewStore{db: db}
}

func (p *PostgresViewStore) Record(ctx context.Context, v *View) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO widget_views (id, merchant_id, offer_id, outcome, locale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.MerchantID, v.OfferID, string(v.Outcome), v.Locale, v.CreatedAt,
	)
	return err
}

func (p *PostgresViewStore) StatsByMerchant(ctx context.Context, merchantID string) (*Stats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT offer_id, outcome, COUNT(*) FROM widget_views
		WHERE merchant_id = $1
		GROUP BY offer_id, outcome`, merchantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := &Stats{ByOffer: make(map[string]int64), ByOutcome: make(map[string]int64)}
	for rows.Next() {
		var offerID, outcome string
		var count int64
		if err := rows.Scan(&offerID, &outcome, &count); err != nil {
			return nil, err
		}
		stats.ByOffer[offerID] += count
		stats.ByOutcome[outcome] += count
		stats.Total += count
	}
	return stats, rows.Err()
}

var _ ViewStore = (*PostgresViewStore)(nil)
