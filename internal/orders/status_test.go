package orders

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusDraft, true},
		{StatusDraft, StatusCompleted, true},
		{StatusDraft, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusDraft, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusCompleted, false},
		{Status("bogus"), StatusDraft, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", c.from, c.to, got, c.want)
		}
	}
}

func TestStateVariants(t *testing.T) {
	o := Order{BillNumber: "INV01010001", Status: StatusCancelled}
	if _, ok := o.State().(Cancelled); !ok {
		t.Fatalf("State() = %T", o.State())
	}
	if _, err := o.AsDraft(); !errors.Is(err, ErrConflict) {
		t.Fatalf("AsDraft on cancelled: %v", err)
	}
	if _, err := o.AsCompleted(); !errors.Is(err, ErrConflict) {
		t.Fatalf("AsCompleted on cancelled: %v", err)
	}

	o.Status = StatusDraft
	o.Items = []LineItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}
	d, err := o.AsDraft()
	if err != nil {
		t.Fatal(err)
	}
	if r := d.Reserved(); r["p1"] != 5 || r["p2"] != 1 {
		t.Fatalf("Reserved() = %v", r)
	}

	if (Order{Status: "archived"}).State() != nil {
		t.Fatal("unknown status should have no variant")
	}
}

func TestKindName(t *testing.T) {
	cases := map[string]error{
		"ok":         nil,
		"error":      errors.New("network down"),
		"validation": validationf(nil, "x"),
		"conflict":   StaleDraft("INV1"),
		"integrity":  Integrity("x"),
		"not_found":  NotFound("Bill", "1"),
		"forbidden":  forbiddenf("x"),
	}
	for want, err := range cases {
		if got := KindName(err); got != want {
			t.Errorf("KindName(%v) = %q, want %q", err, got, want)
		}
	}
}
