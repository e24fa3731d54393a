package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/ports"
)

// ProfileStore implements ports.ProfileStore using PostgreSQL.
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a Postgres-backed profile store.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileColumns = `id, email, name, key_prefix, key_hash, key_issued_at, key_revoked_at, credits, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (ports.Profile, error) {
	var p ports.Profile
	var email, name sql.NullString
	var revokedAt sql.NullTime

	err := row.Scan(
		&p.ID, &email, &name,
		&p.Key.Prefix, &p.Key.Hash, &p.Key.IssuedAt, &revokedAt,
		&p.Credits, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return ports.Profile{}, err
	}
	p.Email = email.String
	p.Name = name.String
	if revokedAt.Valid {
		t := revokedAt.Time
		p.Key.RevokedAt = &t
	}
	return p, nil
}

// Get retrieves a profile by ID.
func (s *ProfileStore) Get(ctx context.Context, id string) (ports.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return ports.Profile{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetByKeyPrefix retrieves profiles whose key carries the lookup prefix.
func (s *ProfileStore) GetByKeyPrefix(ctx context.Context, prefix string) ([]ports.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query profiles by prefix: %w", err)
	}
	defer rows.Close()

	var result []ports.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Create stores a new profile.
func (s *ProfileStore) Create(ctx context.Context, p ports.Profile) error {
	var revokedAt *time.Time
	if p.Key.RevokedAt != nil {
		t := p.Key.RevokedAt.UTC()
		revokedAt = &t
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Email, p.Name,
		p.Key.Prefix, p.Key.Hash, p.Key.IssuedAt.UTC(), revokedAt,
		p.Credits, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// DebitCredits is a single conditional UPDATE ... RETURNING: the
// decrement applies only where the balance covers it.
func (s *ProfileStore) DebitCredits(ctx context.Context, id string, amount int64) (int64, error) {
	var balance int64
	row := s.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET credits = credits - $1, updated_at = $2
		WHERE id = $3 AND credits >= $1
		RETURNING credits`,
		amount, time.Now().UTC(), id,
	)
	err := row.Scan(&balance)
	if err == sql.ErrNoRows {
		// Either missing profile or insufficient balance; disambiguate.
		row := s.db.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id = $1`, id)
		if err := row.Scan(&balance); err != nil {
			if err == sql.ErrNoRows {
				return 0, ports.ErrNotFound
			}
			return 0, fmt.Errorf("read balance: %w", err)
		}
		return balance, ports.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("debit credits: %w", err)
	}
	return balance, nil
}

// AddCredits adds amount to the balance.
func (s *ProfileStore) AddCredits(ctx context.Context, id string, amount int64) (int64, error) {
	var balance int64
	row := s.db.QueryRowContext(ctx, `
		UPDATE profiles SET credits = credits + $1, updated_at = $2
		WHERE id = $3
		RETURNING credits`,
		amount, time.Now().UTC(), id,
	)
	if err := row.Scan(&balance); err != nil {
		if err == sql.ErrNoRows {
			return 0, ports.ErrNotFound
		}
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

// SetKey replaces the profile's credential.
func (s *ProfileStore) SetKey(ctx context.Context, id string, c credential.Credential) error {
	var revokedAt *time.Time
	if c.RevokedAt != nil {
		t := c.RevokedAt.UTC()
		revokedAt = &t
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET key_prefix = $1, key_hash = $2, key_issued_at = $3, key_revoked_at = $4, updated_at = $5
		WHERE id = $6`,
		c.Prefix, c.Hash, c.IssuedAt.UTC(), revokedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// RevokeKey stamps the current credential revoked.
func (s *ProfileStore) RevokeKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET key_revoked_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// List returns profiles with pagination.
func (s *ProfileStore) List(ctx context.Context, limit, offset int) ([]ports.Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var result []ports.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

var _ ports.ProfileStore = (*ProfileStore)(nil)
