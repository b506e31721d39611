package orders

import (
	"context"

	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/jackc/pgx/v5"
)

// RecordPayment re-derives the settlement under the order lock so two
// concurrent payments cannot both consume the same due.
func (r *Repo) RecordPayment(ctx context.Context, p PaymentRecord) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrder(ctx, tx, p.BusinessID, p.OrderID)
	if err != nil {
		return err
	}
	if lo.Status != StatusCompleted {
		return conflictf(nil, "Bill %s is %s, payments can only be recorded on completed bills.", lo.BillNumber, lo.Status)
	}
	next, err := payment.Settle(lo.Payment, lo.Total, p.Amount)
	if err != nil {
		return PaymentRejected(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bill_payments(id, order_id, amount, recorded_by, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.OrderID, p.Amount, p.RecordedBy, p.RecordedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, paid_amount=$3, due_amount=$4, updated_at=$5
		WHERE id=$1`,
		p.OrderID, string(next.Status), next.PaidAmount, next.DueAmount, p.RecordedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
