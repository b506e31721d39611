package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		typ        Type
		total      string
		paid       string
		wantStatus Status
		wantPaid   string
		wantDue    string
	}{
		{"cash is always paid", TypeCash, "189.00", "0", StatusPaid, "189", "0"},
		{"cash ignores supplied paid", TypeCash, "50", "10", StatusPaid, "50", "0"},
		{"due with nothing paid", TypeDue, "189.00", "0", StatusUnpaid, "0", "189"},
		{"due partially paid", TypeDue, "189.00", "100", StatusPartial, "100", "89"},
		{"due paid in full", TypeDue, "189.00", "189.00", StatusPaid, "189", "0"},
		{"due overpaid is capped", TypeDue, "189.00", "250", StatusPaid, "189", "0"},
		{"zero total due is paid", TypeDue, "0", "0", StatusPaid, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.typ, d(tt.total), d(tt.paid))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if !got.PaidAmount.Equal(d(tt.wantPaid)) || !got.DueAmount.Equal(d(tt.wantDue)) {
				t.Errorf("paid/due = %s/%s, want %s/%s", got.PaidAmount, got.DueAmount, tt.wantPaid, tt.wantDue)
			}
			if !got.PaidAmount.Add(got.DueAmount).Equal(d(tt.total)) {
				t.Errorf("paid + due != total")
			}
		})
	}
}

func TestResolveRejects(t *testing.T) {
	if _, err := Resolve(TypeDue, d("10"), d("-1")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("want ErrNegativeAmount, got %v", err)
	}
	if _, err := Resolve(Type("card"), d("10"), d("0")); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("want ErrUnknownType, got %v", err)
	}
}

func TestSettle(t *testing.T) {
	start, _ := Resolve(TypeDue, d("189"), d("100"))

	next, err := Settle(start, d("189"), d("50"))
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != StatusPartial || !next.DueAmount.Equal(d("39")) || !next.PaidAmount.Equal(d("150")) {
		t.Fatalf("after 50: %+v", next)
	}

	final, err := Settle(next, d("189"), d("39"))
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusPaid || !final.DueAmount.IsZero() {
		t.Fatalf("after settling: %+v", final)
	}

	if _, err := Settle(final, d("189"), d("1")); !errors.Is(err, ErrNothingOutstanding) {
		t.Fatalf("want ErrNothingOutstanding, got %v", err)
	}
	if _, err := Settle(next, d("189"), d("40")); !errors.Is(err, ErrExceedsDue) {
		t.Fatalf("want ErrExceedsDue, got %v", err)
	}
	if _, err := Settle(next, d("189"), d("0")); !errors.Is(err, ErrNonPositive) {
		t.Fatalf("want ErrNonPositive, got %v", err)
	}
}
