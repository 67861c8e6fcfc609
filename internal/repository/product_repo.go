package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"main-stack/internal/domain"
)

// ProductFilter filtra el listado de productos; campos vacios no filtran.
type ProductFilter struct {
	ID   string
	Name string
}

type ProductRepository interface {
	Create(ctx context.Context, p domain.Product) error
	GetByID(ctx context.Context, id string) (domain.Product, error)
	GetByName(ctx context.Context, name string) (domain.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	Update(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error)
	Delete(ctx context.Context, id string) error
}

type PgProductRepository struct {
	pool *pgxpool.Pool
}

func NewPgProductRepository(pool *pgxpool.Pool) *PgProductRepository {
	return &PgProductRepository{pool: pool}
}

const productColumns = `id, name, price::float8, quantity, added_by, created_at, updated_at`

func (r *PgProductRepository) Create(ctx context.Context, p domain.Product) error {
	const query = `
		INSERT INTO products (id, name, price, quantity, added_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.Price, p.Quantity, p.AddedBy, p.CreatedAt, p.UpdatedAt)
	return translateErr(err)
}

func (r *PgProductRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *PgProductRepository) GetByName(ctx context.Context, name string) (domain.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE lower(name) = lower($1) ORDER BY created_at LIMIT 1`
	return scanProduct(r.pool.QueryRow(ctx, query, name))
}

func (r *PgProductRepository) List(ctx context.Context, filter ProductFilter) ([]domain.Product, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ID != "" {
		args = append(args, filter.ID)
		conds = append(conds, "id = $1")
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		conds = append(conds, "name ILIKE $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgProductRepository) Update(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	const query = `
		UPDATE products
		SET name = COALESCE($2, name),
		    price = COALESCE($3, price),
		    quantity = COALESCE($4, quantity),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + productColumns
	return scanProduct(r.pool.QueryRow(ctx, query, id, patch.Name, patch.Price, patch.Quantity))
}

func (r *PgProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.AddedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}
