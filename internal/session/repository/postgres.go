package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitekeeper/internal/session/domain"
)

const sessionColumns = `id, user_id, refresh_token_hash, device_fingerprint, device_name, device_type,
	operating_system, user_agent, ip_address, location, latitude, longitude,
	created_at, last_active_at, expires_at, is_active, ended_at, end_reason`

// PostgresRepository persists sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.DeviceFingerprint, s.DeviceName, string(s.DeviceType),
		s.OperatingSystem, s.UserAgent, s.IPAddress, s.Location, floatToNull(s.Latitude), floatToNull(s.Longitude),
		s.CreatedAt, s.LastActiveAt, s.ExpiresAt, s.IsActive, timeToNullTime(s.EndedAt), reasonToNull(s.EndReason),
	)
	return err
}

// Update writes refresh hash, activity, expiry and termination columns of each session in one transaction.
func (r *PostgresRepository) Update(ctx context.Context, sessions ...*domain.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, s := range sessions {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET refresh_token_hash = $2, last_active_at = $3,
			expires_at = $4, is_active = $5, ended_at = $6, end_reason = $7 WHERE id = $1`,
			s.ID, s.RefreshTokenHash, s.LastActiveAt, s.ExpiresAt, s.IsActive, timeToNullTime(s.EndedAt), reasonToNull(s.EndReason),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("session %s: no row updated", s.ID)
		}
	}
	return tx.Commit()
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListByUser returns all sessions for the user ordered by created_at descending.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListActive returns every session with is_active = true that has not expired.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active AND expires_at > $1`, time.Now().UTC())
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*domain.Session, error) {
	var (
		s          domain.Session
		deviceType string
		lat, lon   sql.NullFloat64
		endedAt    sql.NullTime
		endReason  sql.NullString
	)
	err := sc.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceFingerprint, &s.DeviceName, &deviceType,
		&s.OperatingSystem, &s.UserAgent, &s.IPAddress, &s.Location, &lat, &lon,
		&s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.IsActive, &endedAt, &endReason)
	if err != nil {
		return nil, err
	}
	s.DeviceType = domain.DeviceType(deviceType)
	s.Latitude = nullFloatToPtr(lat)
	s.Longitude = nullFloatToPtr(lon)
	s.EndedAt = nullTimeToPtr(endedAt)
	if endReason.Valid {
		s.EndReason = domain.EndReason(endReason.String)
	}
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func floatToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullFloatToPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}

func reasonToNull(r domain.EndReason) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}
