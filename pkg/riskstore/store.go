// Package riskstore persists per-location risk records in Postgres.
package riskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, country, COALESCE(region, ''), latitude, longitude, risk_level, updated_at`

// upsertLockSQL serializes writers of one (country, region) key for the rest
// of the transaction. Row locks cannot cover a key that has no row yet.
const upsertLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1 || chr(31) || $2, 0))`

// Store manages risk_data rows. The table itself is created by migrations
// outside this module.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func scanRecord(row pgx.Row) (*types.RiskRecord, error) {
	r := &types.RiskRecord{}
	if err := row.Scan(&r.ID, &r.Country, &r.City, &r.Latitude, &r.Longitude, &r.RiskLevel, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// listQuery filters on exact country and region; either may be empty.
func listQuery(country, city string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if country != "" {
		args = append(args, country)
		where = append(where, fmt.Sprintf("country = $%d", len(args)))
	}
	if city != "" {
		args = append(args, city)
		where = append(where, fmt.Sprintf("region = $%d", len(args)))
	}
	q := "SELECT " + recordColumns + " FROM risk_data"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q + " ORDER BY id", args
}

// List returns matching records in id order.
func (s *Store) List(ctx context.Context, country, city string) ([]types.RiskRecord, error) {
	q, args := listQuery(country, city)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("riskstore.List: %w", err)
	}
	defer rows.Close()

	out := []types.RiskRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("riskstore.List scan: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("riskstore.List: %w", err)
	}
	return out, nil
}

// Get returns nil when no row has the id.
func (s *Store) Get(ctx context.Context, id int64) (*types.RiskRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, "SELECT "+recordColumns+" FROM risk_data WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("riskstore.Get: %w", err)
	}
	return r, nil
}

// Upsert updates the row keyed by (country, region) or inserts a new one.
func (s *Store) Upsert(ctx context.Context, in types.RiskRecordInput) (*types.RiskRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("riskstore.Upsert begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, upsertLockSQL, in.Country, in.City); err != nil {
		return nil, fmt.Errorf("riskstore.Upsert lock: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM risk_data
		WHERE country = $1 AND COALESCE(region, '') = $2
		ORDER BY id LIMIT 1`, in.Country, in.City).Scan(&id)

	var r *types.RiskRecord
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		r, err = scanRecord(tx.QueryRow(ctx, `
			INSERT INTO risk_data (country, region, latitude, longitude, risk_level, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
			RETURNING `+recordColumns,
			in.Country, in.City, in.Latitude, in.Longitude, in.RiskLevel, now))
		if err != nil {
			return nil, fmt.Errorf("riskstore.Upsert insert: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("riskstore.Upsert lookup: %w", err)
	default:
		r, err = scanRecord(tx.QueryRow(ctx, `
			UPDATE risk_data
			SET latitude = $2, longitude = $3, risk_level = $4, updated_at = $5
			WHERE id = $1
			RETURNING `+recordColumns,
			id, in.Latitude, in.Longitude, in.RiskLevel, now))
		if err != nil {
			return nil, fmt.Errorf("riskstore.Upsert update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("riskstore.Upsert commit: %w", err)
	}
	return r, nil
}

// Update applies the non-nil patch fields. It returns nil when the id does
// not exist.
func (s *Store) Update(ctx context.Context, id int64, p types.RiskRecordPatch) (*types.RiskRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE risk_data SET
			country    = COALESCE($2, country),
			region     = COALESCE($3, region),
			latitude   = COALESCE($4, latitude),
			longitude  = COALESCE($5, longitude),
			risk_level = COALESCE($6, risk_level),
			updated_at = $7
		WHERE id = $1
		RETURNING `+recordColumns,
		id, p.Country, p.City, p.Latitude, p.Longitude, p.RiskLevel, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("riskstore.Update: %w", err)
	}
	return r, nil
}

// Delete reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_data WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("riskstore.Delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM risk_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("riskstore.Count: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
