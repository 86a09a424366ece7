package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/linkpay/internal/app/model"
)

// Reconciler recomputes the denormalized aggregates of a link from its click log.
type Reconciler interface {
	Reconcile(ctx context.Context, linkID string) error
}

type pgReconciler struct {
	pool *pgxpool.Pool
}

// NewReconciler returns a Reconciler that rebuilds aggregates in one Postgres transaction.
// The link row is locked for the duration so concurrent rollup increments wait.
func NewReconciler(pool *pgxpool.Pool) Reconciler {
	return &pgReconciler{pool: pool}
}

const ownerStatsSQL = `
WITH owned AS (
    SELECT count(*) AS total_links FROM links WHERE owner_id = $1
), earned AS (
    SELECT count(c.id) AS total_clicks,
           COALESCE(SUM(c.earned), 0) AS total_earnings,
           COALESCE(SUM(c.earned * l.publisher_rate / 100), 0) AS balance
    FROM clicks c
    JOIN links l ON l.id = c.link_id
    WHERE c.owner_id = $1
)
INSERT INTO user_stats (owner_id, total_links, total_clicks, total_earnings, balance, updated_at)
SELECT $1, owned.total_links, earned.total_clicks, earned.total_earnings, earned.balance, NOW()
FROM owned, earned
ON CONFLICT (owner_id) DO UPDATE SET
    total_links    = EXCLUDED.total_links,
    total_clicks   = EXCLUDED.total_clicks,
    total_earnings = EXCLUDED.total_earnings,
    balance        = EXCLUDED.balance,
    updated_at     = EXCLUDED.updated_at`

func (r *pgReconciler) Reconcile(ctx context.Context, linkID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var ownerID string
		err := tx.QueryRow(ctx, `SELECT owner_id FROM links WHERE id = $1 FOR UPDATE`, linkID).Scan(&ownerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLinkNotFound
		}
		if err != nil {
			return fmt.Errorf("lock link: %w", err)
		}

		totals, err := r.scan(ctx, tx, linkID)
		if err != nil {
			return fmt.Errorf("scan clicks: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE links SET clicks = $2, unique_visitors = $3, earnings = $4, last_clicked_at = $5 WHERE id = $1`,
			linkID, totals.Clicks, totals.UniqueVisitors, totals.Earnings, totals.LastClickedAt,
		); err != nil {
			return fmt.Errorf("rewrite rollups: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM facet_buckets WHERE link_id = $1`, linkID); err != nil {
			return fmt.Errorf("clear facets: %w", err)
		}

		batch := &pgx.Batch{}
		for _, b := range totals.Buckets() {
			batch.Queue(
				`INSERT INTO facet_buckets (link_id, dimension, value, count, earnings, first_seen_at, last_seen_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				b.LinkID, string(b.Dimension), b.Value, b.Count, b.Earnings, b.FirstSeenAt, b.LastSeenAt,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("rewrite facets: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, ownerStatsSQL, ownerID); err != nil {
			return fmt.Errorf("rewrite owner stats: %w", err)
		}
		return nil
	})
}

func (r *pgReconciler) scan(ctx context.Context, tx pgx.Tx, linkID string) (*Totals, error) {
	rows, err := tx.Query(ctx,
		`SELECT timestamp, referer, country, browser, os, device, is_unique, earned
		 FROM clicks WHERE link_id = $1`, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := NewTotals(linkID)
	for rows.Next() {
		var (
			c  model.Click
			ts time.Time
		)
		if err := rows.Scan(&ts, &c.Referer, &c.Country, &c.Browser, &c.OS, &c.Device, &c.IsUnique, &c.Earned); err != nil {
			return nil, err
		}
		c.Timestamp = ts
		totals.Add(&c)
	}
	return totals, rows.Err()
}
