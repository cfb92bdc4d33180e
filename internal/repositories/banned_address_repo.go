package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ks-hl/snailpoints/internal/database"
)

// BanStore is the durable set of banned source addresses
type BanStore interface {
	Ban(ctx context.Context, address string) error
	IsBanned(ctx context.Context, address string) (bool, error)
	Unban(ctx context.Context, address string) error
}

// BannedAddressRepository keeps banned addresses in postgres
type BannedAddressRepository struct {
	pool *pgxpool.Pool
}

func NewBannedAddressRepository(db *database.DB) *BannedAddressRepository {
	return &BannedAddressRepository{pool: db.Pool}
}

// Ban adds address to the set. Banning an address twice keeps the first ban time.
func (r *BannedAddressRepository) Ban(ctx context.Context, address string) error {
	query := `INSERT INTO banned_addresses (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, address); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// IsBanned checks if address is in the set
func (r *BannedAddressRepository) IsBanned(ctx context.Context, address string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM banned_addresses WHERE address = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, address).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *BannedAddressRepository) Unban(ctx context.Context, address string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM banned_addresses WHERE address = $1`, address); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}
