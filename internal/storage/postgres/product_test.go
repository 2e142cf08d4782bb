package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/planthub/internal/domain/product"
)

func TestProductRepository_List(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, price, stock FROM products ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(productColumns).
			AddRow("ficus", "Fiddle Leaf Fig", decimal.RequireFromString("990.00"), 34).
			AddRow("orchid", "Moth Orchid", decimal.RequireFromString("650.00"), 0))

	products, err := NewProductRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "ficus", products[0].ID)
	assert.Equal(t, 34, products[0].Stock)
	assert.False(t, products[1].Available())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("ficus").
		WillReturnRows(pgxmock.NewRows(productColumns).
			AddRow("ficus", "Fiddle Leaf Fig", decimal.RequireFromString("990.00"), 34))
	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(productColumns))

	repo := NewProductRepository(mock)

	p, err := repo.GetByID(context.Background(), "ficus")
	require.NoError(t, err)
	assert.Equal(t, "Fiddle Leaf Fig", p.Name)

	_, err = repo.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, product.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedProducts(t *testing.T) {
	mock := newMock(t)
	products := []product.Product{
		{ID: "ficus", Name: "Fiddle Leaf Fig", Price: decimal.RequireFromString("990"), Stock: 34},
		{ID: "orchid", Name: "Moth Orchid", Price: decimal.RequireFromString("650"), Stock: 1},
	}

	mock.ExpectBeginTx(pgx.TxOptions{})
	for _, p := range products {
		mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`).
			WithArgs(p.ID, p.Name, p.Price, p.Stock).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, SeedProducts(context.Background(), mock, products))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS products`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, RunMigrations(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}
