package postgres

import (
	"context"
	"fmt"

	"drone-delivery/internal/domain/store"
	"drone-delivery/internal/ports"
)

// demo catalog images, reused round-robin by the seeder
var seedImageURLs = []string{
	"https://images.unsplash.com/photo-1542838132-92c53300491e?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1540189549336-e6e99c3679fe?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1543362906-acfc16c67564?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1464965911861-746a04b4bca6?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1498837167922-ddd27525d352?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1481931098730-318b6f776db0?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1473093295043-cdd812d0e601?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1506807803488-8eafc15316c0?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1505252585461-04db1eb84625?auto=format&fit=crop&w=800&q=60",
	"https://images.unsplash.com/photo-1526318472351-c75fcf070305?auto=format&fit=crop&w=800&q=60",
}

// StoreRepo serves the read-only store/product catalog using pgx and plain SQL.
type StoreRepo struct{}

// NewStoreRepo constructs a new StoreRepo.
func NewStoreRepo() ports.StoreRepository {
	return &StoreRepo{}
}

// ListStores returns every store in the catalog.
func (repo *StoreRepo) ListStores(ctx context.Context) ([]store.Store, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name, address, latitude, longitude
		FROM stores
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	var stores []store.Store
	for rows.Next() {
		var s store.Store
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stores, nil
}

// ListProducts returns products, optionally filtered by store.
func (repo *StoreRepo) ListProducts(ctx context.Context, storeID string) ([]store.Product, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, store_id, title, price, weight_grams, image_url
		FROM products
	`
	args := []any{}
	if storeID != "" {
		query += ` WHERE store_id = $1`
		args = append(args, storeID)
	}
	query += ` ORDER BY id`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []store.Product
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Title, &p.Price, &p.WeightGrams, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// SeedIfEmpty populates the demo catalog on first run: ten stores around
// the city center, ten products each.
func (repo *StoreRepo) SeedIfEmpty(ctx context.Context) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stores`).Scan(&count); err != nil {
		return fmt.Errorf("count stores: %w", err)
	}
	if count > 0 {
		return nil
	}

	for i := 0; i < 10; i++ {
		baseLat := 43.235 + float64(i)*0.002
		baseLng := 76.88 + float64(i)*0.003
		storeID := fmt.Sprintf("s%d", i+1)
		storeName := fmt.Sprintf("AeroMart %d", i+1)

		_, err := tx.Exec(ctx, `
			INSERT INTO stores (id, name, address, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5)
		`, storeID, storeName, fmt.Sprintf("Kaskelen Ave %d", 50+i), baseLat, baseLng)
		if err != nil {
			return fmt.Errorf("seed store %s: %w", storeID, err)
		}

		for j := 0; j < 10; j++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO products (id, store_id, title, price, weight_grams, image_url)
				VALUES ($1, $2, $3, $4, $5, $6)
			`,
				fmt.Sprintf("%s_p%d", storeID, j+1),
				storeID,
				fmt.Sprintf("Essentials Pack %d - %s", j+1, storeName),
				1500+float64(j)*150,
				200+float64(j)*30,
				seedImageURLs[j%len(seedImageURLs)],
			)
			if err != nil {
				return fmt.Errorf("seed product for %s: %w", storeID, err)
			}
		}
	}

	return nil
}
