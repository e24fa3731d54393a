package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apimarket/metergate/domain/listing"
	"github.com/apimarket/metergate/ports"
)

// ListingStore implements ports.ListingStore using SQLite.
// The endpoint descriptor is stored as JSON text but always round-trips
// through the validated tagged structure; a malformed row surfaces as an
// explicit parse error.
type ListingStore struct {
	db *DB
}

// NewListingStore creates a SQLite-backed listing store.
func NewListingStore(db *DB) *ListingStore {
	return &ListingStore{db: db}
}

const listingColumns = `id, name, version, status, rate_cap, credit_cost, endpoint, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (listing.Listing, error) {
	var l listing.Listing
	var status, endpoint string

	err := row.Scan(&l.ID, &l.Name, &l.Version, &status, &l.RateCap,
		&l.CreditCost, &endpoint, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return listing.Listing{}, err
	}
	l.Status = listing.Status(status)

	spec, err := listing.ParseEndpointSpec([]byte(endpoint))
	if err != nil {
		return listing.Listing{}, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	l.Endpoint = spec
	return l, nil
}

// Get retrieves a listing by ID.
func (s *ListingStore) Get(ctx context.Context, id string) (listing.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return listing.Listing{}, ports.ErrNotFound
	}
	if err != nil {
		return listing.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// List returns all listings ordered by name.
func (s *ListingStore) List(ctx context.Context) ([]listing.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var result []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// Create stores a new listing after validating it.
func (s *ListingStore) Create(ctx context.Context, l listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	endpoint, err := l.Endpoint.Encode()
	if err != nil {
		return fmt.Errorf("encode endpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Version, string(l.Status), l.RateCap, l.CreditCost,
		string(endpoint), l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

// Update replaces a listing after validating it.
func (s *ListingStore) Update(ctx context.Context, l listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	endpoint, err := l.Endpoint.Encode()
	if err != nil {
		return fmt.Errorf("encode endpoint: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET name = ?, version = ?, status = ?, rate_cap = ?, credit_cost = ?,
		    endpoint = ?, updated_at = ?
		WHERE id = ?`,
		l.Name, l.Version, string(l.Status), l.RateCap, l.CreditCost,
		string(endpoint), l.UpdatedAt.UTC(), l.ID,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

var _ ports.ListingStore = (*ListingStore)(nil)
