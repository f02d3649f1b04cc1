package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sitekeeper/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a trusted device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the trusted device, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, fingerprint, name, trusted_at, last_seen_at
		FROM trusted_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListByUser returns the user's trusted devices, most recently trusted first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, fingerprint, name, trusted_at, last_seen_at
		FROM trusted_devices WHERE user_id = $1 ORDER BY trusted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Save inserts the trusted device; an existing (user, fingerprint) row is left unchanged.
func (r *PostgresRepository) Save(ctx context.Context, d *domain.TrustedDevice) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO trusted_devices (user_id, fingerprint, name, trusted_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (user_id, fingerprint) DO NOTHING`,
		d.UserID, d.Fingerprint, d.Name, d.TrustedAt, nullTime(d.LastSeenAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, fingerprint string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, userID, fingerprint string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trusted_devices SET last_seen_at = $3 WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint, at)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*domain.TrustedDevice, error) {
	var (
		d        domain.TrustedDevice
		lastSeen sql.NullTime
	)
	if err := s.Scan(&d.UserID, &d.Fingerprint, &d.Name, &d.TrustedAt, &lastSeen); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	return &d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
