package orders

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posterm/internal/model"
)

func catalog() []model.Product {
	return []model.Product{
		{ID: "p1", Title: "Tee", Variants: []model.Variant{
			{ID: "v1", ProductID: "p1", Title: "M", PriceCents: 1999, TrackInventory: true, InventoryQty: 3},
			{ID: "v2", ProductID: "p1", Title: "L", PriceCents: 1999, TrackInventory: true, AllowBackorder: true, InventoryQty: 0},
		}},
		{ID: "p2", Title: "Sticker", Variants: []model.Variant{
			{ID: "v3", ProductID: "p2", Title: model.DefaultVariantTitle, PriceCents: 500},
		}},
	}
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedInventory(context.Background(), catalog()))
	return s
}

func TestCreateOrderTakesStockOnlyWhenPaid(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	o, err := s.CreateOrder(ctx, NewOrder{
		Lines: []Line{
			{ProductID: "p1", VariantID: "v1", Quantity: 2, UnitPriceCents: 1999},
			{ProductID: "p2", VariantID: "v3", Quantity: 1, UnitPriceCents: 500},
			{Title: "Gift wrap", Quantity: 1, UnitPriceCents: 0, Custom: true},
		},
		Customer: model.CustomerInfo{Email: " a@b.co "},
	})
	require.NoError(t, err)
	assert.Equal(t, FirstOrderNumber, o.Number)
	assert.Equal(t, int64(4498), o.TotalCents)
	assert.Equal(t, "Tee / M", o.Lines[0].Title)
	assert.Equal(t, "Sticker", o.Lines[1].Title)
	assert.Equal(t, "a@b.co", o.Customer.Email)

	qty, err := s.Stock(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), qty, "pending order holds no stock")

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Len(t, got.Lines, 3)
	assert.True(t, got.Lines[2].Custom)
	assert.Equal(t, "1001", got.Summary().OrderNumber)

	first, err := s.MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, first)
	qty, _ = s.Stock(ctx, "v1")
	assert.Equal(t, int64(1), qty)
	qty, _ = s.Stock(ctx, "v3")
	assert.Equal(t, int64(0), qty, "untracked variants are left alone")

	again, err := s.MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, again)
	qty, _ = s.Stock(ctx, "v1")
	assert.Equal(t, int64(1), qty, "second payment takes nothing")

	o2, err := s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p2", VariantID: "v3", Quantity: 1, UnitPriceCents: 500}}})
	require.NoError(t, err)
	assert.Equal(t, FirstOrderNumber+1, o2.Number)
}

func TestCreateOrderRejectsAndKeepsStock(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	_, err := s.CreateOrder(ctx, NewOrder{Lines: []Line{
		{ProductID: "p2", VariantID: "v3", Quantity: 1, UnitPriceCents: 500},
		{ProductID: "p1", VariantID: "v1", Quantity: 4, UnitPriceCents: 1999},
	}})
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(3), se.Available)

	qty, _ := s.Stock(ctx, "v1")
	assert.Equal(t, int64(3), qty, "failed order must not reserve")

	_, err = s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "nope", Quantity: 1, UnitPriceCents: 1}}})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "v1", Quantity: 1, UnitPriceCents: 1}}})
	assert.ErrorIs(t, err, ErrPriceChanged)

	// backorder allowed
	bo, err := s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "v2", Quantity: 2, UnitPriceCents: 1999}}})
	require.NoError(t, err)
	_, err = s.MarkPaid(ctx, bo.ID)
	require.NoError(t, err)
	qty, _ = s.Stock(ctx, "v2")
	assert.Equal(t, int64(-2), qty)
}

func TestUnpaidChargesDoNotHoldStock(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	attempt := NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "v1", Quantity: 3, UnitPriceCents: 1999}}}

	_, err := s.CreateOrder(ctx, attempt)
	require.NoError(t, err)
	retry, err := s.CreateOrder(ctx, attempt)
	require.NoError(t, err)

	_, err = s.MarkPaid(ctx, retry.ID)
	require.NoError(t, err)
	_, err = s.CreateOrder(ctx, attempt)
	var se *StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(0), se.Available)
}

func TestSeedKeepsSoldDownStock(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	o, err := s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "v1", Quantity: 2, UnitPriceCents: 1999}}})
	require.NoError(t, err)
	_, err = s.MarkPaid(ctx, o.ID)
	require.NoError(t, err)

	require.NoError(t, s.SeedInventory(ctx, catalog()))

	levels, err := s.StockLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), levels["v1"])
	assert.Equal(t, int64(0), levels["v2"])
	assert.Len(t, levels, 3)
}

func TestIntentsAndMarkPaid(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	o, err := s.CreateOrder(ctx, NewOrder{Lines: []Line{{ProductID: "p2", VariantID: "v3", Quantity: 1, UnitPriceCents: 500}}})
	require.NoError(t, err)

	require.NoError(t, s.CreateIntent(ctx, Intent{ID: "pi_1", ClientSecret: "pi_1_secret_x", OrderID: o.ID, AmountCents: 500, Status: "requires_payment_method"}))
	in, err := s.IntentBySecret(ctx, "pi_1_secret_x")
	require.NoError(t, err)
	assert.Equal(t, o.ID, in.OrderID)

	require.NoError(t, s.SetIntentStatus(ctx, "pi_1", "succeeded"))
	in, _ = s.IntentBySecret(ctx, "pi_1_secret_x")
	assert.Equal(t, "succeeded", in.Status)
	assert.ErrorIs(t, s.SetIntentStatus(ctx, "pi_missing", "succeeded"), ErrNotFound)

	_, err = s.IntentBySecret(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := s.MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestPaidSeqFollowsPaymentOrder(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	sticker := NewOrder{Lines: []Line{{ProductID: "p2", VariantID: "v3", Quantity: 1, UnitPriceCents: 500}}}
	early, err := s.CreateOrder(ctx, sticker)
	require.NoError(t, err)
	late, err := s.CreateOrder(ctx, sticker)
	require.NoError(t, err)
	require.Less(t, early.Number, late.Number)

	pending, err := s.GetOrder(ctx, early.ID)
	require.NoError(t, err)
	assert.Zero(t, pending.PaidSeq)

	_, err = s.MarkPaid(ctx, late.ID)
	require.NoError(t, err)
	_, err = s.MarkPaid(ctx, early.ID)
	require.NoError(t, err)

	gotLate, err := s.GetOrder(ctx, late.ID)
	require.NoError(t, err)
	gotEarly, err := s.GetOrder(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotLate.PaidSeq)
	assert.Equal(t, int64(2), gotEarly.PaidSeq)
}

func TestRebind(t *testing.T) {
	pg := NewWithoutMigrate(nil, Postgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := NewWithoutMigrate(nil, SQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestPostgresStock_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithoutMigrate(db, Postgres)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT qty FROM inventory WHERE variant_id = $1")).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow(7))
	qty, err := s.Stock(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), qty)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT qty FROM inventory WHERE variant_id = $1")).
		WithArgs("v9").
		WillReturnRows(sqlmock.NewRows([]string{"qty"}))
	_, err = s.Stock(context.Background(), "v9")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRollsBackOnInsertFailure_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithoutMigrate(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT title, price_cents, track_inventory, allow_backorder, qty FROM inventory WHERE variant_id = $1 AND product_id = $2")).
		WithArgs("v1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"title", "price_cents", "track_inventory", "allow_backorder", "qty"}).AddRow("Tee / M", 1999, true, false, 5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(order_number), 0) FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(1010))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.CreateOrder(context.Background(), NewOrder{Lines: []Line{{ProductID: "p1", VariantID: "v1", Quantity: 1, UnitPriceCents: 1999}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaid_MockError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithoutMigrate(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1, paid_seq = (SELECT COALESCE(MAX(paid_seq), 0) + 1 FROM orders) WHERE id = $2 AND status = $3")).
		WithArgs(StatusPaid, "o1", StatusPending).
		WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()
	_, err = s.MarkPaid(context.Background(), "o1")
	assert.ErrorContains(t, err, "mark paid")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidTakesTrackedStock_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithoutMigrate(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1, paid_seq = (SELECT COALESCE(MAX(paid_seq), 0) + 1 FROM orders) WHERE id = $2 AND status = $3")).
		WithArgs(StatusPaid, "o1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT variant_id, quantity FROM order_lines WHERE order_id = $1 AND variant_id <> '' ORDER BY line_no")).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "quantity"}).AddRow("v1", 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory SET qty = qty - $1 WHERE variant_id = $2 AND track_inventory = $3")).
		WithArgs(2, "v1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	first, err := s.MarkPaid(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}
