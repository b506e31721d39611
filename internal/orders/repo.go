package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store. Every counter-touching method runs in one
// transaction that locks the order row and then the product rows, always
// in product-id order.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) BusinessSettings(ctx context.Context, businessID string) (Business, error) {
	var b Business
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, bill_prefix, tax_rate_percent, tax_enabled
		FROM businesses WHERE id=$1`, businessID,
	).Scan(&b.ID, &b.Name, &b.BillPrefix, &b.TaxRatePercent, &b.TaxEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Business{}, NotFound("Business", businessID)
	}
	return b, err
}

func (r *Repo) CollectorCode(ctx context.Context, businessID, userID string) (string, error) {
	var code string
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(collector_code, '') FROM user_profiles
		WHERE business_id=$1 AND user_id=$2`, businessID, userID,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

const productCols = `id, business_id, name, selling_price, cost_price, stock_quantity,
	reserved_quantity, low_stock_threshold, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.SellingPrice, &p.CostPrice, &p.StockQuantity,
		&p.ReservedQuantity, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context, businessID string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products
		WHERE business_id=$1 AND deleted_at IS NULL ORDER BY name`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProducts(ctx context.Context, businessID string, ids []string) (map[string]Product, error) {
	return getProducts(ctx, r.DB, businessID, ids, false)
}

func getProducts(ctx context.Context, q querier, businessID string, ids []string, lock bool) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	sql := `SELECT ` + productCols + ` FROM products WHERE business_id=$1 AND id = ANY($2)`
	if lock {
		// soft-deleted rows stay lockable so their reservations can be released
		sql += ` ORDER BY id FOR UPDATE`
	} else {
		sql += ` AND deleted_at IS NULL`
	}
	rows, err := q.Query(ctx, sql, businessID, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// lockProducts locks every id and fails if one is missing.
func lockProducts(ctx context.Context, tx pgx.Tx, businessID string, ids []string) (map[string]Product, error) {
	ps, err := getProducts(ctx, tx, businessID, ids, true)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := ps[id]; !ok {
			return nil, NotFound("Product", id)
		}
	}
	return ps, nil
}

func (r *Repo) LatestBillNumber(ctx context.Context, businessID, stem string) (string, error) {
	var no string
	// length first so sequence 10000 sorts after 9999
	err := r.DB.QueryRow(ctx, `
		SELECT bill_number FROM orders
		WHERE business_id=$1 AND bill_number LIKE $2 AND deleted_at IS NULL
		ORDER BY length(bill_number) DESC, bill_number DESC
		LIMIT 1`, businessID, escapeLike(stem)+"%",
	).Scan(&no)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return no, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CreateCompletedOrder: lock products -> check available -> decrement
// on-hand -> insert bill. Any shortfall rolls everything back.
func (r *Repo) CreateCompletedOrder(ctx context.Context, o Order) error {
	return r.insertWithStock(ctx, o, `UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now() WHERE id=$1`)
}

// CreateDraft: lock products -> check available -> reserve -> insert draft.
func (r *Repo) CreateDraft(ctx context.Context, o Order) error {
	return r.insertWithStock(ctx, o, `UPDATE products SET reserved_quantity = reserved_quantity + $2, updated_at = now() WHERE id=$1`)
}

func (r *Repo) insertWithStock(ctx context.Context, o Order, apply string) error {
	if err := ValidateQuantities(o.Items); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := ProductIDs(o.Items)
	products, err := lockProducts(ctx, tx, o.BusinessID, ids)
	if err != nil {
		return err
	}
	qty := o.Quantities()
	for _, pid := range ids {
		p := products[pid]
		if err := stock.CheckNewLine(pid, p.Name, p.Level(), qty[pid]); err != nil {
			return StockRejected(err)
		}
		if _, err := tx.Exec(ctx, apply, pid, qty[pid]); err != nil {
			return err
		}
	}

	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, o.ID, o.Items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOrder(ctx context.Context, tx pgx.Tx, o Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders(id, business_id, bill_number, status, customer_id, created_by,
			subtotal, discount_value, discount_amount, tax_amount, total_amount,
			payment_type, payment_status, paid_amount, due_amount, due_date,
			created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.BusinessID, o.BillNumber, string(o.Status), o.CustomerID, o.CreatedBy,
		o.Totals.Subtotal, o.Totals.DiscountValue, o.Totals.DiscountAmount, o.Totals.TaxAmount, o.Totals.Total,
		string(o.Payment.Type), string(o.Payment.Status), o.Payment.PaidAmount, o.Payment.DueAmount, o.DueDate,
		o.CreatedAt, o.UpdatedAt, o.CompletedAt,
	)
	if isUniqueViolation(err, "orders_business_bill_number_key") {
		return fmt.Errorf("%w: %s", billno.ErrDuplicate, o.BillNumber)
	}
	return err
}

func insertItems(ctx context.Context, tx pgx.Tx, orderID string, items []LineItem) error {
	for i, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, position, product_id, product_name, quantity, unit_price, cost_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, orderID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.CostPrice,
		); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

const orderCols = `id, business_id, bill_number, status, customer_id, created_by,
	subtotal, discount_value, discount_amount, tax_amount, total_amount,
	payment_type, payment_status, paid_amount, due_amount, due_date,
	created_at, updated_at, completed_at, cancelled_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                      Order
		status, ptype, pstatus string
	)
	err := row.Scan(&o.ID, &o.BusinessID, &o.BillNumber, &status, &o.CustomerID, &o.CreatedBy,
		&o.Totals.Subtotal, &o.Totals.DiscountValue, &o.Totals.DiscountAmount, &o.Totals.TaxAmount, &o.Totals.Total,
		&ptype, &pstatus, &o.Payment.PaidAmount, &o.Payment.DueAmount, &o.DueDate,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.CancelledAt)
	o.Status = Status(status)
	o.Payment.Type = payment.Type(ptype)
	o.Payment.Status = payment.Status(pstatus)
	return o, err
}

func (r *Repo) GetOrder(ctx context.Context, businessID, orderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders
		WHERE business_id=$1 AND id=$2 AND deleted_at IS NULL`, businessID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, NotFound("Bill", orderID)
	}
	if err != nil {
		return Order{}, err
	}
	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *Repo) ListOrders(ctx context.Context, businessID string, f ListFilter) ([]Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql := `SELECT ` + orderCols + ` FROM orders WHERE business_id=$1 AND deleted_at IS NULL`
	args := []any{businessID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if f.DueOnly {
		sql += ` AND due_amount > 0`
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repo) items(ctx context.Context, orderIDs []string) (map[string][]LineItem, error) {
	out := make(map[string][]LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, id, product_id, product_name, quantity, unit_price, cost_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      LineItem
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.CostPrice); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
