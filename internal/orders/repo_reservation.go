package orders

import (
	"context"
	"errors"
	"sort"

	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// lockedOrder is the slice of an order row the transition methods need.
type lockedOrder struct {
	Status     Status
	BillNumber string
	Total      decimal.Decimal
	Payment    payment.Settlement
	Quantities map[string]int
}

// lockOrder takes the order row lock first; product locks always come after.
func lockOrder(ctx context.Context, tx pgx.Tx, businessID, orderID string) (lockedOrder, error) {
	var (
		lo                     lockedOrder
		status, ptype, pstatus string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, bill_number, total_amount, payment_type, payment_status, paid_amount, due_amount
		FROM orders WHERE business_id=$1 AND id=$2 AND deleted_at IS NULL
		FOR UPDATE`, businessID, orderID,
	).Scan(&status, &lo.BillNumber, &lo.Total, &ptype, &pstatus, &lo.Payment.PaidAmount, &lo.Payment.DueAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return lockedOrder{}, NotFound("Bill", orderID)
	}
	if err != nil {
		return lockedOrder{}, err
	}
	lo.Status = Status(status)
	lo.Payment.Type = payment.Type(ptype)
	lo.Payment.Status = payment.Status(pstatus)

	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return lockedOrder{}, err
	}
	defer rows.Close()
	lo.Quantities = map[string]int{}
	for rows.Next() {
		var (
			pid string
			q   int
		)
		if err := rows.Scan(&pid, &q); err != nil {
			return lockedOrder{}, err
		}
		lo.Quantities[pid] += q
	}
	return lo, rows.Err()
}

func sameQuantities(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func unionIDs(a, b map[string]int) []string {
	ids := make([]string, 0, len(a)+len(b))
	for id := range a {
		ids = append(ids, id)
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// UpdateDraft: lock order -> compare with what the caller read -> lock
// products -> move each reservation by (new - old) -> replace items.
func (r *Repo) UpdateDraft(ctx context.Context, u DraftUpdate) error {
	if err := ValidateQuantities(u.Items); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrder(ctx, tx, u.BusinessID, u.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(lo.Status, StatusDraft) {
		return TransitionConflict(lo.BillNumber, lo.Status, StatusDraft)
	}
	if !sameQuantities(lo.Quantities, u.Previous) {
		return StaleDraft(lo.BillNumber)
	}

	next := ItemQuantities(u.Items)
	ids := unionIDs(lo.Quantities, next)
	products, err := lockProducts(ctx, tx, u.BusinessID, ids)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		old, want := lo.Quantities[pid], next[pid]
		delta := want - old
		if delta == 0 {
			continue
		}
		p := products[pid]
		if delta > 0 {
			if err := stock.CheckReserve(pid, p.Name, p.Level(), old, want); err != nil {
				return StockRejected(err)
			}
		} else if p.ReservedQuantity < -delta {
			return Integrity("Product %s holds %d reserved units but bill %s releases %d.", p.Name, p.ReservedQuantity, lo.BillNumber, -delta)
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET reserved_quantity = reserved_quantity + $2, updated_at = now() WHERE id=$1`, pid, delta); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, u.OrderID); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, u.OrderID, u.Items); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET customer_id=$2, subtotal=$3, discount_value=$4, discount_amount=$5,
			tax_amount=$6, total_amount=$7, updated_at=$8
		WHERE id=$1`,
		u.OrderID, u.CustomerID, u.Totals.Subtotal, u.Totals.DiscountValue, u.Totals.DiscountAmount,
		u.Totals.TaxAmount, u.Totals.Total, u.UpdatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinalizeDraft: lock order -> verify nothing moved since the caller read
// it -> lock products -> stock -= q, reserved -= q -> mark completed.
func (r *Repo) FinalizeDraft(ctx context.Context, f Finalization) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrder(ctx, tx, f.BusinessID, f.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(lo.Status, StatusCompleted) {
		return TransitionConflict(lo.BillNumber, lo.Status, StatusCompleted)
	}
	if !sameQuantities(lo.Quantities, f.Expected) || !lo.Total.Equal(f.Total) {
		return StaleDraft(lo.BillNumber)
	}

	ids := unionIDs(lo.Quantities, nil)
	products, err := lockProducts(ctx, tx, f.BusinessID, ids)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		q := lo.Quantities[pid]
		p := products[pid]
		if err := stock.CheckFinalize(pid, p.Name, p.Level(), q); err != nil {
			return StockRejected(err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $2,
				reserved_quantity = reserved_quantity - $2, updated_at = now()
			WHERE id=$1`, pid, q); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_type=$3, payment_status=$4, paid_amount=$5,
			due_amount=$6, due_date=$7, completed_at=$8, updated_at=$8
		WHERE id=$1`,
		f.OrderID, string(StatusCompleted), string(f.Payment.Type), string(f.Payment.Status),
		f.Payment.PaidAmount, f.Payment.DueAmount, f.DueDate, f.CompletedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CancelDraft: lock order -> lock products -> reserved -= q -> mark
// cancelled. A second cancel fails the transition check.
func (r *Repo) CancelDraft(ctx context.Context, c Cancellation) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrder(ctx, tx, c.BusinessID, c.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(lo.Status, StatusCancelled) {
		return TransitionConflict(lo.BillNumber, lo.Status, StatusCancelled)
	}

	ids := unionIDs(lo.Quantities, nil)
	products, err := lockProducts(ctx, tx, c.BusinessID, ids)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		q := lo.Quantities[pid]
		if p := products[pid]; p.ReservedQuantity < q {
			return Integrity("Product %s holds %d reserved units but bill %s releases %d.", p.Name, p.ReservedQuantity, lo.BillNumber, q)
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET reserved_quantity = reserved_quantity - $2, updated_at = now() WHERE id=$1`, pid, q); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancelled_at=$3, updated_at=$3 WHERE id=$1`,
		c.OrderID, string(StatusCancelled), c.CancelledAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
