// Package orders persists the development backend's inventory, orders and
// payment intents in SQLite or Postgres.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"posterm/internal/model"
)

// Dialect selects placeholder style and DDL.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Order statuses.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// FirstOrderNumber is the number given to the first order of an empty store.
const FirstOrderNumber int64 = 1001

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownVariant = errors.New("unknown variant")
	ErrPriceChanged   = errors.New("price changed")
)

// StockError reports a line that asks for more than is on hand.
type StockError struct {
	VariantID string
	Title     string
	Available int64
	Requested int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", e.Title, e.Available, e.Requested)
}

// Line is one persisted order line. Custom lines have no product.
type Line struct {
	ProductID      string `json:"product_id,omitempty"`
	VariantID      string `json:"variant_id,omitempty"`
	Title          string `json:"title"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Custom         bool   `json:"custom,omitempty"`
}

// Order is a placed order. PaidSeq is 0 until the order is paid, then the
// position of its payment among all paid orders.
type Order struct {
	ID         string             `json:"id"`
	Number     int64              `json:"number"`
	PaidSeq    int64              `json:"paid_seq,omitempty"`
	Status     string             `json:"status"`
	TotalCents int64              `json:"total_cents"`
	Customer   model.CustomerInfo `json:"customer"`
	Lines      []Line             `json:"lines"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Summary is what the register keeps of an order.
func (o Order) Summary() model.OrderSummary {
	return model.OrderSummary{ID: o.ID, OrderNumber: strconv.FormatInt(o.Number, 10), TotalCents: o.TotalCents}
}

// Intent is a stored payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	OrderID      string
	AmountCents  int64
	Status       string
	CreatedAt    time.Time
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects with driver "sqlite" or "postgres" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var d Dialect
	switch driver {
	case "sqlite":
		d = SQLite
	case "postgres":
		d = Postgres
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == SQLite {
		// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and migrates it.
func New(db *sql.DB, d Dialect) (*Store, error) {
	s := NewWithoutMigrate(db, d)
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithoutMigrate is for callers that manage the schema themselves.
func NewWithoutMigrate(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inventory (
			variant_id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			title TEXT NOT NULL,
			price_cents BIGINT NOT NULL,
			track_inventory BOOLEAN NOT NULL DEFAULT FALSE,
			allow_backorder BOOLEAN NOT NULL DEFAULT FALSE,
			qty BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number BIGINT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			total_cents BIGINT NOT NULL,
			customer_email TEXT NOT NULL DEFAULT '',
			customer_first_name TEXT NOT NULL DEFAULT '',
			customer_last_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			paid_seq BIGINT UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			order_id TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			product_id TEXT NOT NULL DEFAULT '',
			variant_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			custom BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (order_id, line_no)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
			id TEXT PRIMARY KEY,
			client_secret TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const upsertInventory = `INSERT INTO inventory (variant_id, product_id, title, price_cents, track_inventory, allow_backorder, qty)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (variant_id) DO UPDATE SET product_id = excluded.product_id, title = excluded.title,
price_cents = excluded.price_cents, track_inventory = excluded.track_inventory,
allow_backorder = excluded.allow_backorder`

// SeedInventory upserts one inventory row per catalog variant. The on-hand
// quantity is only taken from the catalog for variants not yet stored.
func (s *Store) SeedInventory(ctx context.Context, products []model.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(upsertInventory)
	for _, p := range products {
		for _, v := range p.Variants {
			title := p.Title
			if v.Title != "" && v.Title != model.DefaultVariantTitle {
				title += " / " + v.Title
			}
			if _, err := tx.ExecContext(ctx, q, v.ID, p.ID, title, v.PriceCents, v.TrackInventory, v.AllowBackorder, v.InventoryQty); err != nil {
				return fmt.Errorf("seed %s: %w", v.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Stock returns the on-hand quantity of a variant.
func (s *Store) Stock(ctx context.Context, variantID string) (int64, error) {
	var qty int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT qty FROM inventory WHERE variant_id = ?`), variantID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return qty, err
}

// StockLevels returns the on-hand quantity of every stored variant.
func (s *Store) StockLevels(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant_id, qty FROM inventory`)
	if err != nil {
		return nil, fmt.Errorf("stock levels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

// NewOrder is an order to be placed. Catalog lines carry ProductID and
// VariantID; their titles are taken from inventory.
type NewOrder struct {
	Lines    []Line
	Customer model.CustomerInfo
}

type inventoryRow struct {
	title          string
	priceCents     int64
	track, backord bool
	qty            int64
}

// CreateOrder checks price and stock of every catalog line and stores a
// pending order. Stock is not taken until the order is paid, so an
// abandoned charge holds nothing.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o := Order{ID: uuid.NewString(), Status: StatusPending, Customer: in.Customer.Trimmed(), CreatedAt: s.now().UTC()}
	for _, l := range in.Lines {
		if !l.Custom {
			var row inventoryRow
			err := tx.QueryRowContext(ctx,
				s.rebind(`SELECT title, price_cents, track_inventory, allow_backorder, qty FROM inventory WHERE variant_id = ? AND product_id = ?`),
				l.VariantID, l.ProductID,
			).Scan(&row.title, &row.priceCents, &row.track, &row.backord, &row.qty)
			if errors.Is(err, sql.ErrNoRows) {
				return Order{}, fmt.Errorf("%w: %s", ErrUnknownVariant, l.VariantID)
			}
			if err != nil {
				return Order{}, fmt.Errorf("lookup %s: %w", l.VariantID, err)
			}
			if row.priceCents != l.UnitPriceCents {
				return Order{}, fmt.Errorf("%w: %s is now %d", ErrPriceChanged, row.title, row.priceCents)
			}
			if row.track && !row.backord && row.qty < l.Quantity {
				return Order{}, &StockError{VariantID: l.VariantID, Title: row.title, Available: row.qty, Requested: l.Quantity}
			}
			l.Title = row.title
		}
		o.Lines = append(o.Lines, l)
		o.TotalCents += l.UnitPriceCents * l.Quantity
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_number), 0) FROM orders`).Scan(&o.Number); err != nil {
		return Order{}, fmt.Errorf("next order number: %w", err)
	}
	if o.Number < FirstOrderNumber {
		o.Number = FirstOrderNumber
	} else {
		o.Number++
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO orders (id, order_number, status, total_cents, customer_email, customer_first_name, customer_last_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.Number, o.Status, o.TotalCents, o.Customer.Email, o.Customer.FirstName, o.Customer.LastName, o.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	q := s.rebind(`INSERT INTO order_lines (order_id, line_no, product_id, variant_id, title, quantity, unit_price_cents, custom) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, l := range o.Lines {
		if _, err := tx.ExecContext(ctx, q, o.ID, i+1, l.ProductID, l.VariantID, l.Title, l.Quantity, l.UnitPriceCents, l.Custom); err != nil {
			return Order{}, fmt.Errorf("insert line %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (Order, error) {
	o := Order{ID: id}
	var created string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT order_number, COALESCE(paid_seq, 0), status, total_cents, customer_email, customer_first_name, customer_last_name, created_at FROM orders WHERE id = ?`), id,
	).Scan(&o.Number, &o.PaidSeq, &o.Status, &o.TotalCents, &o.Customer.Email, &o.Customer.FirstName, &o.Customer.LastName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Order{}, fmt.Errorf("parse created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT product_id, variant_id, title, quantity, unit_price_cents, custom FROM order_lines WHERE order_id = ? ORDER BY line_no`), id)
	if err != nil {
		return Order{}, fmt.Errorf("get lines: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.VariantID, &l.Title, &l.Quantity, &l.UnitPriceCents, &l.Custom); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

const markPaid = `UPDATE orders SET status = ?, paid_seq = (SELECT COALESCE(MAX(paid_seq), 0) + 1 FROM orders) WHERE id = ? AND status = ?`

// MarkPaid moves a pending order to paid, gives it the next paid sequence
// and takes its tracked lines out of stock in the same transaction. It
// reports false when the order was already paid.
func (s *Store) MarkPaid(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(markPaid), StatusPaid, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	type take struct {
		variant string
		qty     int64
	}
	rows, err := tx.QueryContext(ctx,
		s.rebind(`SELECT variant_id, quantity FROM order_lines WHERE order_id = ? AND variant_id <> '' ORDER BY line_no`), id)
	if err != nil {
		return false, fmt.Errorf("paid lines: %w", err)
	}
	var takes []take
	for rows.Next() {
		var t take
		if err := rows.Scan(&t.variant, &t.qty); err != nil {
			_ = rows.Close()
			return false, err
		}
		takes = append(takes, t)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	q := s.rebind(`UPDATE inventory SET qty = qty - ? WHERE variant_id = ? AND track_inventory = ?`)
	for _, t := range takes {
		if _, err := tx.ExecContext(ctx, q, t.qty, t.variant, true); err != nil {
			return false, fmt.Errorf("take stock %s: %w", t.variant, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *Store) CreateIntent(ctx context.Context, in Intent) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO payment_intents (id, client_secret, order_id, amount_cents, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		in.ID, in.ClientSecret, in.OrderID, in.AmountCents, in.Status, in.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *Store) IntentBySecret(ctx context.Context, secret string) (Intent, error) {
	in := Intent{ClientSecret: secret}
	var created string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, order_id, amount_cents, status, created_at FROM payment_intents WHERE client_secret = ?`), secret,
	).Scan(&in.ID, &in.OrderID, &in.AmountCents, &in.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Intent{}, ErrNotFound
	}
	if err != nil {
		return Intent{}, fmt.Errorf("get intent: %w", err)
	}
	if in.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Intent{}, fmt.Errorf("parse created_at: %w", err)
	}
	return in, nil
}

func (s *Store) SetIntentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE payment_intents SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
