package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const productColumns = "id, sku, name, price, image_url, category, is_active"

// Store is the read-only product catalog and stock view used when items are
// added to a cart.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProduct returns the product with id, or nil when it does not exist.
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Store.GetProduct")
	defer span.End()

	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return &product, nil
}

// GetInventory returns the stock row for a variant sku, or nil.
func (s *Store) GetInventory(ctx context.Context, sku string) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		"SELECT sku, available, reserved, updated_at FROM inventory WHERE sku = $1", sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory for %s: %w", sku, err)
	}
	return &inv, nil
}

// CheckAvailability reports whether quantity units of sku can be sold.
// A sku without an inventory row is not stock-tracked and always available.
func (s *Store) CheckAvailability(ctx context.Context, sku string, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Store.CheckAvailability")
	defer span.End()

	inv, err := s.GetInventory(ctx, sku)
	if err != nil {
		return false, err
	}
	if inv == nil {
		return true, nil
	}
	return inv.Available >= quantity, nil
}
